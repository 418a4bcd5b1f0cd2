package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/Robinemad1/EEETrading/pkg/apierror"
)

// Recovery returns a middleware that recovers from panics.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("panic in handler",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write(apierror.InternalError("internal server error").ToJSON())
			}()

			next.ServeHTTP(w, r)
		})
	}
}
