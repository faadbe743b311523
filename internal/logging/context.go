package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	requestCtxKey  struct{}
	itemCtxKey     struct{}
	reminderCtxKey struct{}
)

// WithRequestID tags ctx with the HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// WithItemID tags ctx with the content item being processed.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemCtxKey{}, id)
}

// WithReminderID tags ctx with the reminder being acted on.
func WithReminderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reminderCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// ContextFields extracts correlation fields: the active span plus any ids
// stored by the With* helpers.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id, _ := ctx.Value(itemCtxKey{}).(string); id != "" {
		fields = append(fields, zap.String("item.id", id))
	}
	if id, _ := ctx.Value(reminderCtxKey{}).(string); id != "" {
		fields = append(fields, zap.String("reminder.id", id))
	}
	return fields
}

// For returns logger decorated with the correlation fields of ctx.
func For(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(fields...)
	}
	return logger
}
