package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/portalguard/api"
	"github.com/jmcleod/portalguard/config"
	"github.com/jmcleod/portalguard/csrf"
	"github.com/jmcleod/portalguard/internal/audit"
	"github.com/jmcleod/portalguard/internal/httpx"
	"github.com/jmcleod/portalguard/internal/util"
	"github.com/jmcleod/portalguard/origin"
	"github.com/jmcleod/portalguard/pii"
	"github.com/jmcleod/portalguard/ratelimit"
	ratelimitmemory "github.com/jmcleod/portalguard/ratelimit/memory"
	ratelimitredis "github.com/jmcleod/portalguard/ratelimit/redis"
	"github.com/jmcleod/portalguard/session"
	"github.com/jmcleod/portalguard/storage"
	bboltstorage "github.com/jmcleod/portalguard/storage/bbolt"
	"github.com/jmcleod/portalguard/storage/memory"
	"github.com/jmcleod/portalguard/storage/postgres"
)

const sweepInterval = time.Minute

// app is a fully wired server handler plus whatever must be released when
// it stops.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires storage, the limiter store, the guards and the API from a
// validated configuration. Background work stops when ctx is cancelled.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	monitor := audit.NewMonitor(func(al audit.Alert) {
		logger.Warn("audit anomaly",
			"event", al.Event,
			"count", al.Count,
			"threshold", al.Threshold,
			"window", al.Window,
		)
	}, nil)
	auditLog := audit.New(logger, audit.WithMonitor(monitor))

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeRepo)

	store, closeStore, err := openLimiterStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	cipher, err := pii.New(key)
	util.WipeBytes(key)
	if err != nil {
		return nil, err
	}

	if cfg.UsingDevAuthSecret() {
		logger.Warn("PORTALGUARD_AUTH_SECRET not set; using the development session secret")
	}
	provider, err := session.NewJWTProvider(cfg.SessionSecret())
	if err != nil {
		return nil, err
	}

	secure := cfg.IsProduction()
	handler := api.New(repo, cipher,
		api.WithLogger(logger),
		api.WithAuditLogger(auditLog),
		api.WithSecureCookies(secure),
		api.WithOriginGuard(origin.NewGuard(
			origin.WithTrustedOrigins(cfg.AllowedOrigin),
			origin.WithAuditLogger(auditLog),
		)),
		api.WithLimiter(ratelimit.NewLimiter(store,
			ratelimit.WithTimeout(cfg.StoreTimeout),
			ratelimit.WithTrustedProxies(cfg.TrustedProxies),
			ratelimit.WithAuditLogger(auditLog),
		)),
		api.WithCSRFGuard(csrf.NewGuard(
			csrf.WithSecureCookies(secure),
			csrf.WithAuditLogger(auditLog),
		)),
		api.WithSessionGate(session.NewGate(provider, session.WithAuditLogger(auditLog))),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(httpx.SecurityHeaders)
	r.Use(httpx.CORS(cfg.AllowedOrigin))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Mount("/api/v1", handler.Router())
	r.Mount("/", handler.PageRouter())

	a.handler = r
	ok = true
	return a, nil
}

func openRepository(ctx context.Context, cfg config.Config) (storage.Repository, func(), error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return memory.NewRepository(), func() {}, nil
	case config.StorageBBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "portalguard.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open code storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case config.StoragePostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open code storage: %w", err)
		}
		return repo, repo.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalid, cfg.StorageBackend)
}

// openLimiterStore uses Redis when an address is configured and an
// in-process store otherwise. An unreachable Redis is logged, not fatal:
// each policy's fail mode decides what happens while it is down.
func openLimiterStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ratelimit.Store, func(), error) {
	if cfg.RedisAddr == "" {
		store := ratelimitmemory.New()
		sweepCtx, cancel := context.WithCancel(ctx)
		store.Start(sweepCtx, sweepInterval)
		logger.Info("rate limiter using in-process store")
		return store, cancel, nil
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := ratelimitredis.New(client, ratelimitredis.WithTimeout(cfg.StoreTimeout))
	if err := store.Ping(ctx); err != nil {
		logger.Warn("rate limit store unreachable at startup", "redis_addr", cfg.RedisAddr, "error", err)
	} else {
		logger.Info("rate limiter using redis", "redis_addr", cfg.RedisAddr)
	}
	return store, func() { client.Close() }, nil
}
