package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"kasirinaja/opscore/internal/cache"
	"kasirinaja/opscore/internal/config"
	"kasirinaja/opscore/internal/httpapi"
	"kasirinaja/opscore/internal/lock"
	"kasirinaja/opscore/internal/logger"
	"kasirinaja/opscore/internal/metrics"
	"kasirinaja/opscore/internal/service"
	"kasirinaja/opscore/internal/store"
	"kasirinaja/opscore/internal/store/memory"
	pgstore "kasirinaja/opscore/internal/store/postgres"
)

const serviceName = "opscore"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "server exited", err)
		os.Exit(1)
	}
}

// backend bundles everything main has to build before serving and tear
// down afterwards.
type backend struct {
	repo    store.Repository
	locker  lock.Locker
	rules   cache.RulesCache
	ready   []func(ctx context.Context) error
	closers []func() error
}

func (b *backend) checkReady(ctx context.Context) error {
	for _, check := range b.ready {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *backend) close(ctx context.Context, logg *logger.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logg.Warn(ctx, "close error", err)
		}
	}
}

func run(ctx context.Context, cfg config.Config, logg *logger.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	b := &backend{}
	defer b.close(ctx, logg)

	if err := connectRepository(startCtx, cfg, logg, reg, b); err != nil {
		return err
	}
	if err := connectRedis(startCtx, cfg, logg, b); err != nil {
		return err
	}

	svc := service.New(b.repo, b.locker, service.Options{
		AllowNegativeStock:   cfg.AllowNegativeStock,
		LockWait:             cfg.LockWaitTimeout,
		Location:             cfg.Location(),
		ClosingDefaultStatus: cfg.ClosingDefaultStatus,
		RetryMaxAttempts:     cfg.RetryMaxAttempts,
		RetryBaseDelay:       cfg.RetryBaseDelay,
		RulesCache:           b.rules,
		RulesCacheTTL:        cfg.RulesCacheTTL,
		Logger:               logg,
		Metrics:              metrics.New(reg),
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, cfg.ManagerPIN, b.repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		LoginRateLimit: cfg.LoginRateLimit,
		Logger:         logg,
		Gatherer:       reg,
		Ready:          b.checkReady,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", cfg.Address()), "opscore listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Warn(shutdownCtx, "shutdown error", err)
	}
	logg.Info(shutdownCtx, "server stopped")
	return nil
}

// connectRepository picks postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise. A configured but unreachable database is fatal.
func connectRepository(ctx context.Context, cfg config.Config, logg *logger.Logger, reg prometheus.Registerer, b *backend) error {
	if cfg.DatabaseURL == "" {
		repo, err := memory.NewSeeded()
		if err != nil {
			return fmt.Errorf("seed in-memory store: %w", err)
		}
		if !memory.SeedPasswordsFromEnv() {
			logg.Warn(ctx, "demo accounts use built-in passwords; set SEED_*_PASSWORD outside local dev", nil)
		}
		b.repo = repo
		logg.Info(logg.WithField(ctx, "repository", "memory"), "repository ready")
		return nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback: %w", err)
	}
	b.closers = append(b.closers, pg.Close)
	if cfg.AutoMigrate {
		if err := pg.MigrateUp(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		logg.Info(ctx, "migrations applied")
	}
	reg.MustRegister(collectors.NewDBStatsCollector(pg.DB(), serviceName))

	b.repo = pg
	b.ready = append(b.ready, pg.Ping)
	logg.Info(logg.WithField(ctx, "repository", "postgres"), "repository ready")
	return nil
}

// connectRedis wires the pricing-rules cache and, with LOCK_BACKEND=redis,
// the cross-process locker. Without redis the cache degrades to a no-op; a
// redis locker that cannot connect is fatal.
func connectRedis(ctx context.Context, cfg config.Config, logg *logger.Logger, b *backend) error {
	b.rules = cache.NoopRulesCache{}
	if cfg.RedisAddr == "" {
		logg.Info(ctx, "cache: noop, locks: in-process")
		return nil
	}

	client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	rulesCache := cache.NewRedisRulesCache(client)
	if err := rulesCache.Ping(ctx); err != nil {
		_ = client.Close()
		if cfg.LockBackend == config.LockBackendRedis {
			return fmt.Errorf("redis unavailable and LOCK_BACKEND=redis: %w", err)
		}
		logg.Warn(ctx, "redis unavailable, using noop cache", err)
		return nil
	}
	b.closers = append(b.closers, client.Close)
	b.rules = rulesCache
	b.ready = append(b.ready, rulesCache.Ping)

	if cfg.LockBackend == config.LockBackendRedis {
		b.locker = lock.NewRedisLocker(client, cfg.LockTTL)
		logg.Info(ctx, "cache: redis, locks: redis")
		return nil
	}
	logg.Info(ctx, "cache: redis, locks: in-process")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	for _, r := range cfg.ManagerPIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("MANAGER_PIN must contain digits only")
		}
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

var weakPINs = map[string]bool{
	"123456": true, "654321": true, "121212": true, "112233": true, "123123": true,
}

// validatePINStrength rejects common PINs, one repeated digit, and runs
// that step by one in either direction.
func validatePINStrength(pin string) error {
	if weakPINs[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	repeated, ascending, descending := true, true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		repeated = repeated && diff == 0
		ascending = ascending && diff == 1
		descending = descending && diff == -1
	}
	switch {
	case repeated:
		return fmt.Errorf("all-same-digit PIN not allowed")
	case ascending || descending:
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
