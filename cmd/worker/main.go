package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/character-tun/character-crm-sub000/internal/app"
	"github.com/character-tun/character-crm-sub000/internal/config"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/monitor"
	"github.com/character-tun/character-crm-sub000/internal/telemetry"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != "redis" {
		logger.Warn("standalone worker needs QUEUE_BACKEND=redis to see jobs from the api", "queue", cfg.QueueBackend)
	}

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	processor, err := rt.Processor(ctx, os.Getenv("WORKER_ID"))
	if err != nil {
		logger.Error("init worker", "error", err)
		os.Exit(1)
	}
	mon := monitor.New(rt.Queue, monitor.Options{
		AlertSchedule:    cfg.AlertSchedule,
		PruneSchedule:    cfg.PruneSchedule,
		FailureThreshold: cfg.FailureAlertThreshold,
		Retention:        cfg.JobRetention,
	}, logger)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("worker started",
		"pool", cfg.WorkerPoolSize, "visibility", cfg.VisibilityTimeout.String(),
		"backoff_initial", cfg.BackoffInitial.String(), "dry_run_notify", cfg.DryRunNotify, "dry_run_print", cfg.DryRunPrint)
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
