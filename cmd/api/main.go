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

	"github.com/character-tun/character-crm-sub000/internal/api"
	"github.com/character-tun/character-crm-sub000/internal/app"
	"github.com/character-tun/character-crm-sub000/internal/catalog"
	"github.com/character-tun/character-crm-sub000/internal/config"
	"github.com/character-tun/character-crm-sub000/internal/engine"
	"github.com/character-tun/character-crm-sub000/internal/filestore"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/monitor"
	"github.com/character-tun/character-crm-sub000/internal/ratelimit"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if cfg.CatalogFile != "" {
		file, err := catalog.Load(cfg.CatalogFile)
		if err != nil {
			logger.Error("load catalog", "path", cfg.CatalogFile, "error", err)
			os.Exit(1)
		}
		res, err := catalog.Seed(ctx, file, rt.Templates, rt.Registry)
		if err != nil {
			logger.Error("seed catalog", "error", err)
			os.Exit(1)
		}
		logger.Info("catalog seeded",
			"templates_created", res.TemplatesCreated, "templates_skipped", res.TemplatesSkipped,
			"statuses_created", res.StatusesCreated, "statuses_skipped", res.StatusesSkipped)
	}

	files, err := filestore.New(ctx, cfg)
	if err != nil {
		logger.Error("init file store", "error", err)
		os.Exit(1)
	}

	var limiter ratelimit.Limiter
	if rt.Redis != nil {
		limiter = ratelimit.NewTokenBucket(rt.Redis, "crm:ratelimit", cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	} else {
		limiter = ratelimit.NewMemory(cfg.RateLimitCapacity, cfg.RateLimitRefill)
	}

	server := api.New(api.Deps{
		Engine:      engine.New(rt.Registry, rt.Store, rt.Store, rt.Queue, engine.WithLogger(logger), engine.WithMaxAttempts(cfg.MaxAttempts)),
		Statuses:    rt.Registry,
		Templates:   rt.Templates,
		Queue:       rt.Queue,
		Orders:      rt.Store,
		Transitions: rt.Store,
		Outbox:      rt.Store,
		Files:       rt.Store,
		FileStore:   files,
		Limiter:     limiter,
		Logger:      logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "port", cfg.HTTPPort, "storage", cfg.Storage, "queue", cfg.QueueBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// The in-memory queue lives in this process, so its consumers must too.
	if cfg.QueueBackend == "memory" || cfg.QueueBackend == "" {
		processor, err := rt.Processor(ctx, "")
		if err != nil {
			logger.Error("init embedded worker", "error", err)
			os.Exit(1)
		}
		mon := monitor.New(rt.Queue, monitor.Options{
			AlertSchedule:    cfg.AlertSchedule,
			PruneSchedule:    cfg.PruneSchedule,
			FailureThreshold: cfg.FailureAlertThreshold,
			Retention:        cfg.JobRetention,
		}, logger)
		g.Go(func() error { return processor.Run(gctx) })
		g.Go(func() error { return mon.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}
