package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	fshttp "github.com/Strob0t/feedbacksync/internal/adapter/http"
	cfotel "github.com/Strob0t/feedbacksync/internal/adapter/otel"
	"github.com/Strob0t/feedbacksync/internal/adapter/ws"
	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/secrets"
	"github.com/Strob0t/feedbacksync/internal/service"
)

const version = "0.1.0"

func runServe(cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"auth_enabled", cfg.Auth.Enabled,
		"scheduler_enabled", cfg.Sync.SchedulerEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// --- Services ---
	var origins []string
	if cfg.Server.CORSOrigin != "" {
		origins = append(origins, cfg.Server.CORSOrigin)
	}
	hub := ws.NewHub(origins...)
	a.sync.SetBroadcaster(hub)
	a.sync.SetQueue(a.queue)
	a.sync.SetMetrics(metrics)

	worker := service.NewSyncWorker(a.gate, a.queue)
	cancelWorker, err := worker.Start(ctx)
	if err != nil {
		return fmt.Errorf("sync worker: %w", err)
	}
	defer cancelWorker()

	if cfg.Sync.SchedulerEnabled && cfg.Sync.Schedule != "" {
		scheduler, err := service.NewSyncScheduler(a.store, a.queue, cfg.Sync.Schedule)
		if err != nil {
			return fmt.Errorf("sync scheduler: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		slog.Info("sync scheduler started", "schedule", cfg.Sync.Schedule)
	}

	go reloadSecretsOnHUP(ctx, a.vault)

	// --- HTTP ---
	handlers := &fshttp.Handlers{
		StartSync: fshttp.GateStarter(a.gate),
		Queries:   service.NewSyncQueryService(a.store),
		Checks: []fshttp.HealthCheck{
			{Name: "postgres", Check: a.store.Ping},
			{Name: "nats", Check: func(context.Context) error {
				if !a.queue.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			}},
		},
		FeatureEnabled: func() bool { return cfg.Sync.FeatureEnabled },
		WS:             hub.HandleWS,
		Version:        version,
	}
	authCfg := authConfig(cfg.Auth, a.vault)
	router := fshttp.NewRouter(handlers, service.NewAuthService(authCfg), cfg.Server, authCfg)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           cfotel.HTTPMiddleware(cfg.OTEL.ServiceName)(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: sync progress streams last as long as the run.
		IdleTimeout: 120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reloadSecretsOnHUP re-reads the secret sources on SIGHUP so the
// credentials key can be rotated without a restart.
func reloadSecretsOnHUP(ctx context.Context, vault *secrets.Vault) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded")
		}
	}
}

// authConfig prefers the signing secret held by the vault, which also
// reads mounted secret files.
func authConfig(c config.Auth, vault *secrets.Vault) config.Auth {
	if s := vault.Get(secrets.KeyJWTSecret); s != "" {
		c.JWTSecret = s
	}
	return c
}
