package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"example.com/payment-recon/pkg/logger"
)

func TestRequestTracing_GeneratesTraceID(t *testing.T) {
	handler := RequestTracing()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/payments/ref", nil)
	// Без X-Trace-ID — должен сгенерироваться

	handler(c)

	traceID := w.Header().Get(HeaderTraceID)
	assert.NotEmpty(t, traceID, "X-Trace-ID должен быть в ответе")

	_, err := uuid.Parse(traceID)
	assert.NoError(t, err, "trace_id должен быть валидным UUID")

	ctxTraceID, exists := c.Get("trace_id")
	assert.True(t, exists, "trace_id должен быть в контексте")
	assert.Equal(t, traceID, ctxTraceID)
}

func TestRequestTracing_UsesExistingTraceID(t *testing.T) {
	handler := RequestTracing()
	existingTraceID := "existing-trace-id-12345"

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/payments/ref", nil)
	c.Request.Header.Set(HeaderTraceID, existingTraceID)

	handler(c)

	assert.Equal(t, existingTraceID, w.Header().Get(HeaderTraceID))

	ctxTraceID, _ := c.Get("trace_id")
	assert.Equal(t, existingTraceID, ctxTraceID)
}

func TestRequestTracing_UsesRequestIDAsTraceID(t *testing.T) {
	handler := RequestTracing()
	requestID := "request-id-from-client"

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/payments/ref", nil)
	// X-Request-ID как альтернатива X-Trace-ID
	c.Request.Header.Set(HeaderRequestID, requestID)

	handler(c)

	assert.Equal(t, requestID, w.Header().Get(HeaderTraceID))
}

func TestRequestTracing_GeneratesCorrelationID(t *testing.T) {
	handler := RequestTracing()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/payments/ref", nil)

	handler(c)

	correlationID := w.Header().Get(HeaderCorrelationID)
	assert.NotEmpty(t, correlationID, "X-Correlation-ID должен быть в ответе")

	_, err := uuid.Parse(correlationID)
	assert.NoError(t, err, "correlation_id должен быть валидным UUID")

	ctxCorrelationID, exists := c.Get("correlation_id")
	assert.True(t, exists)
	assert.Equal(t, correlationID, ctxCorrelationID)
}

func TestRequestTracing_UsesExistingCorrelationID(t *testing.T) {
	handler := RequestTracing()
	existingCorrelationID := "existing-correlation-id"

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/payments/ref", nil)
	c.Request.Header.Set(HeaderCorrelationID, existingCorrelationID)

	handler(c)

	assert.Equal(t, existingCorrelationID, w.Header().Get(HeaderCorrelationID))
}

func TestRequestTracing_PropagatesIDsIntoRequestContext(t *testing.T) {
	handler := RequestTracing()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
	c.Request.Header.Set(HeaderTraceID, "trace-abc")
	c.Request.Header.Set(HeaderCorrelationID, "corr-def")

	handler(c)

	// ID уезжают в request context — дальше их читают логгер и outbox
	ctx := c.Request.Context()
	assert.Equal(t, "trace-abc", logger.TraceIDFromContext(ctx))
	assert.Equal(t, "corr-def", logger.CorrelationIDFromContext(ctx))
}
