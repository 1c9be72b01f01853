package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stdlens/stdlens/internal/config"
	"github.com/stdlens/stdlens/internal/core/cache"
	"github.com/stdlens/stdlens/internal/core/client"
	"github.com/stdlens/stdlens/internal/core/engine"
	"github.com/stdlens/stdlens/internal/core/store"
	"github.com/stdlens/stdlens/internal/observability"
)

// openStore opens the configured database and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// apiClient bundles a client with the resources it was built on.
type apiClient struct {
	*client.Client
	db *store.Store

	closeOnce sync.Once
	closeErr  error
}

// Close closes the client first so its rate budget lands in the store before the store closes.
// Later calls return the first result.
func (a *apiClient) Close() error {
	a.closeOnce.Do(func() { a.closeErr = a.close() })
	return a.closeErr
}

func (a *apiClient) close() error {
	errs := []error{}
	if err := a.Client.Close(); err != nil && !errors.Is(err, client.ErrClientClosed) {
		errs = append(errs, err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// clientConfig maps loaded configuration onto the api client settings.
func clientConfig(cfg *config.Config) client.Config {
	return client.Config{
		BaseURL:           cfg.API.BaseURL,
		APIKey:            cfg.API.APIKey,
		APIKeyParam:       cfg.API.APIKeyParam,
		RequestsPerMinute: cfg.API.RequestsPerMinute,
		DefaultTTL:        cfg.Cache.DefaultTTL,
		TTLByEndpoint:     cfg.Cache.TTLMap(),
		RequestTimeout:    cfg.API.RequestTimeout,
		Deadline:          cfg.API.Deadline,
		UserAgent:         cfg.API.UserAgent,
		Retry: &engine.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MinDelay:    cfg.Retry.MinDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			RetryAll:    cfg.Retry.RetryAll,
		},
	}
}

// buildClient wires the api client to the configured cache backend. The libsql
// store also persists the rate budget, so it is opened whatever the cache driver.
func buildClient(ctx context.Context, cfg *config.Config, logger client.Logger) (*apiClient, error) {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var backend cache.Cache
	switch cfg.Cache.Driver {
	case "memory":
		backend = cache.NewMemory(cfg.Cache.MaxEntries)
	case "redis":
		backend, err = cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
	default:
		backend = &store.ResponseCache{Backend: db, MaxEntries: cfg.Cache.MaxEntries}
	}

	if logger == nil {
		logger = observability.Current()
	}
	c, err := client.New(clientConfig(cfg),
		client.WithCache(backend),
		client.WithBudgetStore(db),
		client.WithLogger(logger),
	)
	if err != nil {
		_ = backend.Close()
		_ = db.Close()
		return nil, err
	}

	logger.Debug("API client ready",
		zap.String("endpoint", c.Endpoint()),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.String("store_driver", db.Driver()))
	return &apiClient{Client: c, db: db}, nil
}
