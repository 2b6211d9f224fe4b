package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("dev").Fatal("config load error", zap.Error(err))
	}

	logger := logging.New(cfg.Env).Named("reminder-worker")
	defer func() { _ = logger.Sync() }()

	logger.Info("reminder worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("reminder_interval", cfg.ReminderInterval),
		zap.Duration("noshow_interval", cfg.NoShowInterval),
	)
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("memory store is per process; the worker will not see api-server bookings")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	rt, err := app.Bootstrap(rootCtx, cfg, m, logger)
	if err != nil {
		logger.Error("bootstrap failed", zap.Error(err))
		os.Exit(1)
	}
	defer rt.Close()

	// the worker serves no API, only /metrics
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	runner := worker.NewRunner(m, logger,
		worker.Job{
			Name:     "reminder-dispatch",
			Interval: cfg.ReminderInterval,
			Run: func(ctx context.Context) error {
				res, err := rt.Dispatcher.RunPass(ctx)
				if err != nil {
					return err
				}
				if res.Due > 0 {
					logger.Info("reminder pass",
						zap.Int("due", res.Due),
						zap.Int("sent", res.Sent),
						zap.Int("failed", res.Failed),
						zap.Int("suppressed", res.Suppressed),
						zap.Int("held", res.Held),
					)
				}
				return nil
			},
		},
		worker.Job{
			Name:     "no-show-sweep",
			Interval: cfg.NoShowInterval,
			Run: func(ctx context.Context) error {
				_, err := rt.Reconciler.SweepNoShows(ctx)
				return err
			},
		},
	)

	if err := runner.Run(rootCtx); err != nil {
		logger.Error("worker stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("reminder worker stopped")
}

