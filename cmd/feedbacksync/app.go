package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	cfnats "github.com/Strob0t/feedbacksync/internal/adapter/nats"
	"github.com/Strob0t/feedbacksync/internal/adapter/natskv"
	"github.com/Strob0t/feedbacksync/internal/adapter/postgres"
	"github.com/Strob0t/feedbacksync/internal/adapter/ristretto"
	"github.com/Strob0t/feedbacksync/internal/adapter/tiered"
	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/secrets"
	"github.com/Strob0t/feedbacksync/internal/service"
)

// app holds the infrastructure shared by serve and the one-shot sync
// command.
type app struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	store *postgres.Store
	queue *cfnats.Queue
	vault *secrets.Vault
	l1    *ristretto.Cache

	sync *service.SyncService
	gate *service.SyncGate
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.vault, err = secrets.NewVault(secrets.EnvLoader(secrets.KeyCredentials, secrets.KeyJWTSecret))
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	// PostgreSQL
	a.pool, err = postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.store = postgres.NewStore(a.pool)
	slog.Info("postgres connected")

	// NATS
	a.queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}

	lockKV, err := natskv.OpenBucket(ctx, a.queue.JetStream(), cfg.NATS.LockBucket, cfg.NATS.LockTTL)
	if err != nil {
		return nil, err
	}
	cacheKV, err := natskv.OpenBucket(ctx, a.queue.JetStream(), cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return nil, err
	}

	a.l1, err = ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}

	a.sync = service.NewSyncService(a.store, secrets.NewCipher(a.vault), cfg.Sync, cfg.Breaker)
	a.sync.SetSlugCache(tiered.New(a.l1, natskv.New(cacheKV), cfg.Cache.L2TTL))
	a.gate = service.NewSyncGate(a.sync, natskv.NewLocker(lockKV, lockHolder(), cfg.NATS.LockTTL))
	return a, nil
}

// Close releases every connection the app opened.
func (a *app) Close() {
	if a.l1 != nil {
		a.l1.Close()
	}
	if a.queue != nil {
		if err := a.queue.Drain(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("nats drain failed", "error", err)
			_ = a.queue.Close()
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// lockHolder identifies this process in lock values.
func lockHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d", host, os.Getpid())
}
