package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Robinemad1/EEETrading/pkg/apierror"
)

// AuthConfig holds configuration for the API key middleware.
type AuthConfig struct {
	APIKeys []string
	// PublicPaths bypass authentication.
	PublicPaths []string
	Logger      *slog.Logger
}

// NewAuthMiddleware creates an API key authentication middleware.
// Keys are accepted from X-API-Key or an Authorization bearer header.
// With no keys configured every request is allowed.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	keys := make([]string, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}

	public := make(map[string]struct{}, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = struct{}{}
	}

	if len(keys) == 0 && cfg.Logger != nil {
		cfg.Logger.Warn("no API keys configured, API authentication is disabled")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := extractAPIKey(r)
			if apiKey == "" {
				writeError(w, apierror.Unauthorized("Authentication required. Use X-API-Key or Authorization: Bearer header."))
				return
			}

			if !isValidKey(apiKey, keys) {
				writeError(w, apierror.Unauthorized("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_, _ = w.Write(err.ToJSON())
}

// isValidKey checks if the provided key is in the valid keys list.
func isValidKey(key string, validKeys []string) bool {
	found := 0
	for _, valid := range validKeys {
		found |= subtle.ConstantTimeCompare([]byte(key), []byte(valid))
	}
	return found == 1
}
