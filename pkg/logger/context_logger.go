package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	streamIDKey  contextKey = "stream_id"
	attemptIDKey contextKey = "attempt_id"
	requestIDKey contextKey = "request_id"
)

// WithStreamID stores the stream id on ctx
func WithStreamID(ctx context.Context, streamID string) context.Context {
	return context.WithValue(ctx, streamIDKey, streamID)
}

// WithAttemptID stores the negotiation attempt id on ctx
func WithAttemptID(ctx context.Context, attemptID string) context.Context {
	return context.WithValue(ctx, attemptIDKey, attemptID)
}

// WithRequestID stores an admin request id on ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// With returns base extended with the fields carried by ctx
func With(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.Desugar().With(fields...).Sugar()
}

// Fields extracts the logging fields carried by ctx.
func Fields(ctx context.Context) []zapcore.Field {
	var fields []zapcore.Field

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	for _, key := range []contextKey{streamIDKey, attemptIDKey, requestIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}

	return fields
}
