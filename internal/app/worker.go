package app

import (
	"context"
	"fmt"
	"os"

	"github.com/character-tun/character-crm-sub000/internal/filestore"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/notify"
	"github.com/character-tun/character-crm-sub000/internal/render"
	"github.com/character-tun/character-crm-sub000/internal/worker"
)

// Processor builds a worker pool with the notify and print handlers
// registered. Delivery collaborators are only built for the kinds that do
// not run dry.
func (rt *Runtime) Processor(ctx context.Context, workerID string) (*worker.Processor, error) {
	cfg := rt.Config
	deps := worker.Deps{
		Orders:    rt.Store,
		Templates: rt.Templates,
		Statuses:  rt.Registry,
		Outbox:    rt.Store,
		FileIndex: rt.Store,
		Company: worker.Company{
			Name:    cfg.CompanyName,
			Email:   cfg.CompanyEmail,
			Phone:   cfg.CompanyPhone,
			Address: cfg.CompanyAddress,
		},
		Logger: rt.Logger,
	}
	if !cfg.DryRunNotify {
		n, err := notify.NewSMTP(cfg)
		if err != nil {
			return nil, fmt.Errorf("init notifier: %w", err)
		}
		deps.Notifier = n
	}
	if !cfg.DryRunPrint {
		r, err := render.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("init renderer: %w", err)
		}
		fs, err := filestore.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init file store: %w", err)
		}
		deps.Renderer = r
		deps.Files = fs
	}

	if workerID == "" {
		workerID = defaultWorkerID()
	}
	p := worker.NewProcessor(rt.Queue, worker.Options{
		PoolSize:     cfg.WorkerPoolSize,
		PollInterval: cfg.WorkerPollInterval,
		JobTimeout:   cfg.JobTimeout,
		WorkerID:     workerID,
	}, logging.With(rt.Logger, map[string]any{"worker_id": workerID}))
	worker.NewExecutor(deps, cfg.DryRunNotify, cfg.DryRunPrint).Register(p)
	return p, nil
}

func defaultWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if host, _ := os.Hostname(); host != "" {
		return host
	}
	return fmt.Sprintf("worker-%d", os.Getpid())
}
