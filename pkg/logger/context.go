package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// Приватный тип ключа защищает значения контекста от коллизий
// с другими пакетами.
type ctxKey string

const (
	// traceIDKey — ключ trace_id в контексте.
	// Trace ID сопровождает запрос через HTTP, воркеры и Kafka.
	traceIDKey ctxKey = "trace_id"

	// correlationIDKey — ключ correlation_id в контексте.
	// Correlation ID связывает все операции одной бизнес-сущности
	// (например, все сверки одного заказа).
	correlationIDKey ctxKey = "correlation_id"

	// loggerKey — ключ преднастроенного логгера в контексте.
	loggerKey ctxKey = "logger"
)

// WithTraceID добавляет trace_id в контекст.
// Trace ID генерируется на входе в систему (HTTP middleware, consumer).
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext извлекает trace_id из контекста.
// Возвращает пустую строку, если trace_id не установлен.
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithCorrelationID добавляет correlation_id в контекст.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext извлекает correlation_id из контекста.
// Возвращает пустую строку, если correlation_id не установлен.
func CorrelationIDFromContext(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

// WithLogger кладёт преднастроенный логгер в контекст,
// чтобы нижние слои наследовали его поля.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext извлекает логгер из контекста и автоматически дополняет его
// trace_id и correlation_id, если те присутствуют.
//
// Если логгер в контекст не клали — возвращается глобальный.
// Это основной способ получения логгера в обработчиках и сервисах:
//
//	func (s *service) Reconcile(ctx context.Context, req ReconcileRequest) ... {
//	    log := logger.FromContext(ctx)
//	    log.Info().Str("reference", req.PaymentRef).Msg("Начало сверки")
//	    ...
//	}
func FromContext(ctx context.Context) zerolog.Logger {
	var l zerolog.Logger
	if ctxLogger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		l = ctxLogger
	} else {
		l = log
	}

	if traceID := TraceIDFromContext(ctx); traceID != "" {
		l = l.With().Str("trace_id", traceID).Logger()
	}

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		l = l.With().Str("correlation_id", correlationID).Logger()
	}

	return l
}

// Ctx возвращает указатель на логгер из контекста,
// по аналогии с zerolog.Ctx().
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs добавляет сразу оба идентификатора, пропуская пустые.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}
