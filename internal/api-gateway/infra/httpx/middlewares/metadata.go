// Package middlewares holds the gateway's HTTP middleware and the context keys
// they populate.
package middlewares

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const (
	HeaderXRequestID      = "X-Request-Id"
	HeaderXIdempotencyKey = "X-Idempotency-Key"
	HeaderIdempotencyKey  = "Idempotency-Key"

	ContextKeyRequestID      contextKey = "request_id"
	ContextKeyIdempotencyKey contextKey = "idempotency_key"
	ContextKeyActor          contextKey = "actor"
)

// AttachRequestMetadata copies chi's request ID and the client's idempotency
// key into the context and onto the active span, and echoes the request ID.
// Must run after middleware.RequestID.
func AttachRequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		idempotencyKey := r.Header.Get(HeaderIdempotencyKey)
		if idempotencyKey == "" {
			idempotencyKey = r.Header.Get(HeaderXIdempotencyKey)
		}

		ctx := context.WithValue(r.Context(), ContextKeyRequestID, requestID)
		ctx = context.WithValue(ctx, ContextKeyIdempotencyKey, idempotencyKey)

		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String("http.request_id", requestID))
		if idempotencyKey != "" {
			span.SetAttributes(attribute.String("http.idempotency_key", idempotencyKey))
		}

		if requestID != "" {
			w.Header().Set(HeaderXRequestID, requestID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyRequestID).(string)
	return v
}

func IdempotencyKey(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyIdempotencyKey).(string)
	return v
}

// Actor returns the authenticated admin's name, or "" outside RequireAdmin.
func Actor(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyActor).(string)
	return v
}

// Logger is chi's request logger writing through slog so request lines
// carry trace IDs like every other log record.
func Logger(next http.Handler) http.Handler {
	return middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(slog.Default().Handler(), slog.LevelInfo),
		NoColor: true,
	})(next)
}
