package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/queue"
	"github.com/character-tun/character-crm-sub000/internal/telemetry"
)

// JobQueue is the part of the action queue a worker consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*models.Job, error)
	MarkSucceeded(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) (queue.Outcome, error)
	ExtendLease(ctx context.Context, id string, d time.Duration) error
	VisibilityTimeout() time.Duration
}

// Handler executes a job of one kind.
type Handler func(ctx context.Context, job models.Job) error

// Options size the pool.
type Options struct {
	PoolSize     int
	PollInterval time.Duration
	JobTimeout   time.Duration
	WorkerID     string
}

// Processor drives the worker loops.
type Processor struct {
	queue    JobQueue
	handlers map[models.JobKind]Handler
	opts     Options
	logger   glog.Logger
}

// NewProcessor builds a processor over q.
func NewProcessor(q JobQueue, opts Options, logger glog.Logger) *Processor {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Processor{
		queue:    q,
		handlers: make(map[models.JobKind]Handler),
		opts:     opts,
		logger:   logger,
	}
}

// RegisterHandler binds a handler to a job kind.
func (p *Processor) RegisterHandler(kind models.JobKind, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	p.handlers[kind] = handler
}

// Run starts PoolSize loops and blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.PoolSize; i++ {
		loop := logging.With(p.logger, map[string]any{"worker": fmt.Sprintf("%s#%d", p.opts.WorkerID, i)})
		g.Go(func() error { return p.loop(ctx, loop) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Processor) loop(ctx context.Context, logger glog.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := p.ProcessOne(ctx)
		if err != nil {
			logger.Error("worker iteration failed", "error", err)
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.opts.PollInterval):
		}
	}
}

// ProcessOne claims and runs at most one job. It reports whether a job
// was claimed.
func (p *Processor) ProcessOne(ctx context.Context) (bool, error) {
	job, err := p.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	// Outcomes are recorded even when shutdown cancelled the run.
	recordCtx := context.WithoutCancel(ctx)
	logger := logging.With(p.logger, map[string]any{
		"job_id": job.ID, "kind": job.Kind, "order_id": job.OrderID, "attempt": job.Attempts,
	})

	runErr := p.runJob(ctx, *job)
	if runErr == nil {
		if err := p.queue.MarkSucceeded(recordCtx, job.ID); err != nil {
			return true, err
		}
		telemetry.WorkerSuccess.WithLabelValues(string(job.Kind)).Inc()
		logger.Debug("job succeeded")
		return true, nil
	}

	outcome, err := p.queue.MarkFailed(recordCtx, job.ID, runErr)
	if err != nil {
		return true, err
	}
	switch outcome {
	case queue.OutcomeRetry:
		telemetry.WorkerRetries.WithLabelValues(string(job.Kind)).Inc()
		logger.Warn("job failed, retry scheduled", "error", runErr)
	case queue.OutcomeFailed:
		telemetry.WorkerFailures.WithLabelValues(string(job.Kind)).Inc()
		logger.Error("job failed terminally", "error", runErr)
	default:
		logger.Warn("job outcome ignored, lease was lost", "error", runErr)
	}
	return true, nil
}

// runJob executes the handler under the per-job timeout, converting panics
// into errors.
func (p *Processor) runJob(ctx context.Context, job models.Job) (err error) {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		return apperr.Permanent(fmt.Errorf("no handler registered for kind %q", job.Kind))
	}
	if visibility := p.queue.VisibilityTimeout(); p.opts.JobTimeout > visibility/2 {
		if err := p.queue.ExtendLease(ctx, job.ID, p.opts.JobTimeout+visibility/2); err != nil {
			p.logger.Warn("lease extension failed", "job_id", job.ID, "error", err)
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.opts.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			telemetry.WorkerPanics.Inc()
			p.logger.Error("handler panic recovered", "job_id", job.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(jobCtx, job)
}
