package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-recon/services/recon/internal/guard"
)

func setupRateLimitTest(t *testing.T) guard.RateLimiter {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return guard.NewRateLimiter(rdb)
}

func TestRateLimit_AllowsRequests(t *testing.T) {
	limiter := setupRateLimitTest(t)
	handler := RateLimit(limiter, "intent", 5, time.Minute, IdentityByIP)

	// Первые 5 запросов проходят
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
		c.Request.RemoteAddr = "192.168.1.1:12345"

		handler(c)

		assert.NotEqual(t, http.StatusTooManyRequests, w.Code, "запрос %d должен пройти", i+1)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_BlocksExcessRequests(t *testing.T) {
	limiter := setupRateLimitTest(t)
	handler := RateLimit(limiter, "intent", 3, time.Minute, IdentityByIP)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
		c.Request.RemoteAddr = "10.0.0.1:12345"

		handler(c)

		assert.NotEqual(t, http.StatusTooManyRequests, w.Code, "запрос %d должен пройти", i+1)
	}

	// Четвёртый запрос в том же окне заблокирован
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	c.Request.RemoteAddr = "10.0.0.1:12345"

	handler(c)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimit_SeparateLimitsPerIP(t *testing.T) {
	limiter := setupRateLimitTest(t)
	handler := RateLimit(limiter, "poll", 2, time.Minute, IdentityByIP)

	// IP 1 — исчерпываем лимит
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.RemoteAddr = "1.1.1.1:1234"
		handler(c)
	}

	// IP 1 — следующий запрос заблокирован
	w1 := httptest.NewRecorder()
	c1, _ := gin.CreateTestContext(w1)
	c1.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c1.Request.RemoteAddr = "1.1.1.1:1234"
	handler(c1)
	assert.Equal(t, http.StatusTooManyRequests, w1.Code)

	// IP 2 — имеет свой лимит
	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c2.Request.RemoteAddr = "2.2.2.2:1234"
	handler(c2)
	assert.NotEqual(t, http.StatusTooManyRequests, w2.Code, "другой IP имеет свой лимит")
}

func TestRateLimit_SeparateLimitsPerOperation(t *testing.T) {
	limiter := setupRateLimitTest(t)
	intents := RateLimit(limiter, "intent", 1, time.Minute, IdentityByIP)
	polls := RateLimit(limiter, "poll", 1, time.Minute, IdentityByIP)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil)
	c.Request.RemoteAddr = "4.4.4.4:1234"
	intents(c)
	require.NotEqual(t, http.StatusTooManyRequests, w.Code)

	// Лимит intent исчерпан, но окно poll для того же IP своё
	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest(http.MethodGet, "/api/v1/payments/ref", nil)
	c2.Request.RemoteAddr = "4.4.4.4:1234"
	polls(c2)
	assert.NotEqual(t, http.StatusTooManyRequests, w2.Code)
}

func TestRateLimit_EmptyIdentitySkipsLimit(t *testing.T) {
	limiter := setupRateLimitTest(t)
	noIdentity := func(c *gin.Context) string { return "" }
	handler := RateLimit(limiter, "intent", 1, time.Minute, noIdentity)

	// Без идентичности лимит не считается
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

		handler(c)

		assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
	}
}

func TestRateLimit_Headers(t *testing.T) {
	limiter := setupRateLimitTest(t)
	handler := RateLimit(limiter, "admin", 10, time.Minute, IdentityByIP)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "3.3.3.3:1234"

	handler(c)

	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
}

func TestIdentityByOperator_FallsBackToIP(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "5.5.5.5:1234"

	// До аутентификации — IP
	assert.Equal(t, "5.5.5.5", IdentityByOperator(c))

	// После аутентификации — ID оператора
	c.Set(CtxOperatorID, "operator-123")
	assert.Equal(t, "operator-123", IdentityByOperator(c))
}
