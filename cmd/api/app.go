package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Robinemad1/EEETrading/internal/cache"
	"github.com/Robinemad1/EEETrading/internal/config"
	"github.com/Robinemad1/EEETrading/internal/logging"
	"github.com/Robinemad1/EEETrading/internal/notify"
	"github.com/Robinemad1/EEETrading/internal/qbo"
	"github.com/Robinemad1/EEETrading/internal/repository"
	"github.com/Robinemad1/EEETrading/internal/service"
)

// remoteHTTPTimeout bounds a single request to the accounting system.
const remoteHTTPTimeout = 30 * time.Second

// cacheBackend is the cache and lock store selected by CACHE_TYPE.
type cacheBackend interface {
	cache.Cache
	cache.Locker
}

// app holds the wired components shared by all commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store *repository.Store
	cache cacheBackend
	redis *redis.Client

	tokens     *service.TokenManager
	reconciler *service.Reconciler
	scheduler  *service.SyncScheduler
	inventory  *service.InventoryService
	catalog    *service.CatalogService

	hub   *notify.Hub
	relay *notify.RedisRelay

	closers []io.Closer
}

type appOptions struct {
	// observers wires the WebSocket hub as the change notifier.
	observers bool
}

// newApp builds the component graph from cfg.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}

	a := &app{cfg: cfg, logger: logger.With(slog.String("service", cfg.App.Name))}
	a.closers = append(a.closers, logCloser)
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openCache(ctx); err != nil {
		return nil, err
	}

	accounts, err := config.LoadAccountRefs(cfg.QuickBooks.AccountsFile)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: remoteHTTPTimeout}
	oauthCfg := qbo.NewOAuthConfig(cfg.QuickBooks.ClientID, cfg.QuickBooks.ClientSecret, cfg.QuickBooks.RedirectURL)

	a.tokens = service.NewTokenManager(a.store, qbo.NewAuthenticator(oauthCfg, httpClient), a.cache, cfg.Sync.TokenSkew, a.logger)

	builder := service.NewQBOClientBuilder(
		qbo.BaseURL(cfg.QuickBooks.Environment),
		strconv.Itoa(cfg.QuickBooks.MinorVersion),
		httpClient,
		a.logger,
	)
	clients := service.NewClientFactory(a.tokens, builder, a.logger)
	a.catalog = service.NewCatalogService(clients, accounts, a.logger)

	var notifier service.ChangeNotifier
	if opts.observers {
		a.hub = notify.NewHub(originPatterns(cfg.App.CORSOrigins), a.logger)
		if a.redis != nil {
			a.relay = notify.NewRedisRelay(a.redis, cfg.Cache.KeyPrefix+":inventory_updates", a.hub, a.logger)
		}
		notifier = a.hub
	}

	a.reconciler = service.NewReconciler(a.store, clients, notifier, service.ReconcilerConfig{
		StaleAfter:       cfg.Sync.StaleAfter,
		PassTimeout:      cfg.Sync.PassTimeout,
		FailureThreshold: cfg.Sync.FailureThreshold,
		FailureCooldown:  cfg.Sync.FailureCooldown,
		Accounts:         accounts,
	}, a.logger)
	a.reconciler.SetLocker(a.cache)

	a.scheduler = service.NewSyncScheduler(a.reconciler, a.cache, service.SchedulerConfig{
		Interval: cfg.Sync.Interval,
		Debounce: cfg.Sync.Debounce,
		Enabled:  cfg.Sync.Enabled,
	}, a.logger)

	a.inventory = service.NewInventoryService(a.store, a.reconciler, a.scheduler, notifier, a.logger)

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	var err error
	switch strings.ToLower(a.cfg.Database.Type) {
	case "mysql":
		a.store, err = repository.OpenMySQL(ctx, a.cfg.Database.MySQLDSN(), repository.PoolConfig{
			MaxOpenConns:    a.cfg.Database.MaxOpenConns,
			MaxIdleConns:    a.cfg.Database.MaxIdleConns,
			ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
		}, a.logger)
	default:
		a.store, err = repository.OpenSQLite(ctx, a.cfg.Database.Path, a.logger)
	}
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.closers = append(a.closers, a.store)
	return nil
}

func (a *app) openCache(ctx context.Context) error {
	if strings.ToLower(a.cfg.Cache.Type) != "redis" {
		mem := cache.NewMemoryCache()
		a.cache = mem
		a.closers = append(a.closers, mem)
		return nil
	}

	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
		Addr:     a.cfg.Cache.RedisAddress(),
		Password: a.cfg.Cache.RedisPassword,
		DB:       a.cfg.Cache.RedisDB,
	})
	if err != nil {
		return err
	}

	a.redis = client
	a.cache = cache.NewRedisCache(client, a.cfg.Cache.KeyPrefix)
	a.closers = append(a.closers, client)
	a.logger.Info("redis cache connected", slog.String("addr", a.cfg.Cache.RedisAddress()))
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	if a.hub != nil {
		a.hub.Close()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// originPatterns turns CORS origins into WebSocket host patterns.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		patterns = append(patterns, strings.TrimSuffix(o, "/"))
	}
	return patterns
}
