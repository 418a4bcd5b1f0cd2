package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Robinemad1/EEETrading/pkg/uid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// RequestIDKey is the context key for request ID.
const RequestIDKey contextKey = "request_id"

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID is a middleware that adds a unique request ID to each request.
// An incoming UUID is reused so traces can span services.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !uid.IsValid(requestID) {
			requestID = uid.New()
		}

		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggerFrom returns logger annotated with the request id, if any.
func LoggerFrom(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := GetRequestID(ctx); id != "" {
		return logger.With(slog.String("request_id", id))
	}
	return logger
}
