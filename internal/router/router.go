package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/Robinemad1/EEETrading/internal/handler"
	"github.com/Robinemad1/EEETrading/internal/middleware"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler          *handler.Handler
	InventoryHandler *handler.InventoryHandler
	AdminHandler     *handler.AdminHandler
	AuthHandler      *handler.AuthHandler
	CatalogHandler   *handler.CatalogHandler
	// Observers serves the WebSocket observer channel at /ws.
	Observers      http.Handler
	AuthMiddleware func(http.Handler) http.Handler
	CORSOrigins    []string
	Logger         *slog.Logger
}

// PublicPaths lists the /api/v1 routes reachable without an API key.
var PublicPaths = []string{"/api/v1/health", "/api/v1/ready"}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	if cfg.AuthHandler != nil {
		r.Route("/auth/quickbooks", func(r chi.Router) {
			r.Get("/connect", cfg.AuthHandler.Connect)
			r.Get("/callback", cfg.AuthHandler.Callback)
		})
	}

	if cfg.Observers != nil {
		r.Handle("/ws", cfg.Observers)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		// Health check endpoints (listed in PublicPaths)
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if cfg.AuthHandler != nil {
			r.Route("/quickbooks/token", func(r chi.Router) {
				r.Get("/", cfg.AuthHandler.TokenStatus)
				r.Post("/refresh", cfg.AuthHandler.RefreshToken)
			})
		}

		if cfg.CatalogHandler != nil {
			r.Get("/quickbooks/items", cfg.CatalogHandler.Items)
			r.Get("/quickbooks/items/{id}", cfg.CatalogHandler.Item)
			r.Get("/quickbooks/accounts", cfg.CatalogHandler.Accounts)
		}

		if cfg.InventoryHandler != nil {
			r.Route("/inventory", func(r chi.Router) {
				r.Get("/", cfg.InventoryHandler.List)
				r.Post("/", cfg.InventoryHandler.Create)
				r.Put("/{id}/quantity", cfg.InventoryHandler.UpdateQuantity)
				r.Post("/batch-update", cfg.InventoryHandler.BatchUpdate)
				r.Post("/sync", cfg.InventoryHandler.TriggerSync)
				r.Get("/sync/dashboard", cfg.InventoryHandler.Dashboard)
			})
		}

		if cfg.AdminHandler != nil {
			r.Get("/admin/stats", cfg.AdminHandler.GetStats)
		}
	})

	return r
}
