// Command paymentsd serves the idempotent payment API.
//
// Configuration comes from the environment, optionally seeded from .env.prod
// and .env in the working directory; see internal/config. The record
// store is chosen with STORE_BACKEND (memory, sqlite, postgres, mysql, redis).
// With RIVER_ENABLED=true, charges can also be enqueued as River jobs that
// share the same idempotency records.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"idempotency/internal/config"
	"idempotency/internal/httpapi"
	"idempotency/internal/logging"
	"idempotency/internal/payments"
	"idempotency/pkg/idempotency"
)

func main() {
	if err := config.LoadEnvFiles(config.DefaultEnvFiles...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Load()
	logger := logging.Setup(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("paymentsd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	// Observers
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	otelObserver, err := idempotency.NewOTelObserver(otel.Meter("idempotency"))
	if err != nil {
		return err
	}
	observer := &idempotency.MultiObserver{Observers: []idempotency.Observer{
		idempotency.NewSlogObserver(logger, logging.Level(cfg)),
		idempotency.NewPrometheusObserver(cfg.MetricsNamespace, registry),
		otelObserver,
	}}

	opts := []idempotency.Option{
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithObserver(observer),
	}
	if cfg.FingerprintCheck {
		opts = append(opts, idempotency.WithFingerprintCheck())
	}
	dedup := idempotency.New(be.store, opts...)
	svc := payments.NewService(dedup, payments.UUIDCharger{}, logger)

	routerOpts := httpapi.Options{
		Logger:       logger,
		Gatherer:     registry,
		HealthChecks: map[string]httpapi.HealthCheck{"store": be.health},
	}

	if cfg.RiverEnabled {
		pool := be.pool
		if pool == nil {
			pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to river database: %w", err)
			}
			defer pool.Close()
		}

		riverClient, err := newRiverClient(pool, svc, cfg.RiverMaxWorkers)
		if err != nil {
			return err
		}
		if err := riverClient.Start(ctx); err != nil {
			return fmt.Errorf("failed to start river client: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := riverClient.Stop(stopCtx); err != nil {
				logger.Error("river shutdown failed", slog.String("error", err.Error()))
			}
		}()

		routerOpts.Jobs = riverInserter{client: riverClient}
		routerOpts.HealthChecks["river"] = pool.Ping
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewRouter(svc, routerOpts),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.HTTPAddr),
			slog.String("store", cfg.StoreBackend),
			slog.Duration("ttl", dedup.TTL()),
			slog.Bool("river", cfg.RiverEnabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server shutdown complete")
	return nil
}
