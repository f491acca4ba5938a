package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/amphq/amppool/internal/config"
	"github.com/amphq/amppool/internal/dispatch"
	"github.com/amphq/amppool/internal/keypool"
	"github.com/amphq/amppool/internal/provider"
	"github.com/amphq/amppool/internal/provider/anthropic"
	"github.com/amphq/amppool/internal/provider/openai"
	"github.com/amphq/amppool/internal/server"
	"github.com/amphq/amppool/internal/storage/sqlite"
	"github.com/amphq/amppool/internal/telemetry"
	"github.com/amphq/amppool/internal/worker"
)

func run(configPath string) error {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting amppool", "version", version, "addr", cfg.Server.Addr())

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	// Persisted rows take precedence over file and environment settings.
	overrides, err := store.GetAllConfig(ctx)
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(overrides)

	snapshots := config.NewManager(store)
	if err := snapshots.Reload(ctx); err != nil {
		return err
	}

	pool, err := keypool.New(store, func() int { return snapshots.Current().PoolSize })
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(
		pool,
		provider.NewClientFactory(),
		openai.New(""),
		anthropic.New(""),
		func() []string { return snapshots.Current().ProxyList() },
		slog.Default(),
	)

	logWriter := worker.NewLogWriter(store)
	stats := worker.NewStatsWorker(store)

	var metrics *telemetry.Metrics
	var gatherer prometheus.Gatherer
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg,
			func() float64 { return float64(pool.Len()) },
			func() float64 { return float64(logWriter.QueueLen()) },
		)
		gatherer = reg
	}

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background()) //nolint:errcheck
	}

	handler := server.New(server.Deps{
		Server:     cfg.Server,
		Store:      store,
		Snapshots:  snapshots,
		Dispatcher: dispatcher,
		Logs:       logWriter,
		Stats:      stats,
		Metrics:    metrics,
		Gatherer:   gatherer,
		ReadyCheck: store.Ping,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	runner := worker.NewRunner(logWriter, stats)
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("amppool ready", "addr", cfg.Server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop workers after the listener so in-flight requests still get logged;
	// the log writer drains its queue before exiting.
	stopWorkers()
	if err := <-workerErr; err != nil {
		return err
	}

	slog.Info("amppool stopped")
	return nil
}
