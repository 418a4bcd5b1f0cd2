package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Robinemad1/EEETrading/internal/handler"
	"github.com/Robinemad1/EEETrading/internal/middleware"
	"github.com/Robinemad1/EEETrading/internal/router"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, observer channel and sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(cfg.App.APIKeys) == 0 && !cfg.App.IsDevelopment() {
				return errors.New("API_KEYS must be set outside development")
			}

			a, err := newApp(ctx, cfg, appOptions{observers: true})
			if err != nil {
				return err
			}
			defer a.Close()

			return a.serve(ctx)
		},
	}
}

func (a *app) routes() http.Handler {
	cfg := a.cfg

	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		APIKeys:     cfg.App.APIKeys,
		PublicPaths: router.PublicPaths,
		Logger:      a.logger,
	})

	return router.New(router.Config{
		Handler:          handler.New(cfg.App.Name, cfg.App.Version, a.store),
		InventoryHandler: handler.NewInventoryHandler(a.inventory, a.scheduler, a.tokens, a.logger),
		AdminHandler:     handler.NewAdminHandler(a.inventory, a.scheduler, a.hub, a.reconciler, cfg.Database.Type, cfg.Cache.Type),
		AuthHandler:      handler.NewAuthHandler(a.tokens, a.cache, a.logger),
		CatalogHandler:   handler.NewCatalogHandler(a.catalog, a.logger),
		Observers:        a.hub,
		AuthMiddleware:   authMiddleware,
		CORSOrigins:      cfg.App.CORSOrigins,
		Logger:           a.logger,
	})
}

// serve runs until ctx is cancelled, then shuts down gracefully.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      a.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.hub.Start()
	a.scheduler.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server listening",
			slog.String("addr", srv.Addr),
			slog.String("env", cfg.App.Environment),
			slog.String("version", cfg.App.Version),
			slog.Bool("quickbooks_sandbox", cfg.QuickBooks.IsSandbox()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop triggers first; a pass in progress finishes before Stop returns.
		a.scheduler.Stop()
		a.hub.Close()

		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.logger.Info("server stopped")
	return err
}
