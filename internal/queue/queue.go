// Package queue implements the durable action queue that status
// transitions fan out into.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/store"
	"github.com/character-tun/character-crm-sub000/internal/telemetry"
)

// Outcome reports what MarkFailed did with a job.
type Outcome string

const (
	OutcomeRetry  Outcome = "retry"
	OutcomeFailed Outcome = "failed"
	// OutcomeStale means the job was no longer active, usually because its
	// lease expired and another worker took it over.
	OutcomeStale Outcome = "stale"
)

const leaseExpiredError = "lease expired"

// Options tune retry and lease behaviour.
type Options struct {
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	VisibilityTimeout time.Duration
	BatchSize         int64
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Minute
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 2 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	return o
}

// Queue is the ActionQueue: job records in the store, readiness in the
// backend.
type Queue struct {
	jobs    store.Jobs
	backend Backend
	opts    Options
	logger  glog.Logger
	now     func() time.Time
}

// Option customises a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(logger glog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New builds a Queue.
func New(jobs store.Jobs, backend Backend, opts Options, options ...Option) *Queue {
	q := &Queue{
		jobs:    jobs,
		backend: backend,
		opts:    opts.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logging.Discard()
	}
	return q
}

// Enqueue records a waiting job for spec and makes it ready. A spec whose
// dedup key was already submitted returns the existing job id.
func (q *Queue) Enqueue(ctx context.Context, spec models.JobSpec) (string, error) {
	if spec.Kind != models.JobNotify && spec.Kind != models.JobPrint {
		return "", apperr.New(apperr.ErrValidation, "unknown job kind", map[string]any{"kind": spec.Kind})
	}
	if strings.TrimSpace(spec.OrderID) == "" || strings.TrimSpace(spec.TemplateRef) == "" {
		return "", apperr.New(apperr.ErrValidation, "job needs an order and a template", nil)
	}
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.opts.MaxAttempts
	}
	now := q.now()
	job := models.Job{
		ID:            uuid.NewString(),
		Kind:          spec.Kind,
		OrderID:       spec.OrderID,
		TemplateRef:   spec.TemplateRef,
		Channel:       spec.Channel,
		TransitionID:  spec.TransitionID,
		DedupKey:      spec.DedupKey(),
		State:         models.JobWaiting,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now,
		EnqueuedAt:    now,
		UpdatedAt:     now,
	}
	stored, existed, err := q.jobs.CreateJob(ctx, job)
	if err != nil {
		return "", apperr.Wrap(err, "create job")
	}
	if existed {
		q.logger.Debug("duplicate job submission", "job_id", stored.ID, "dedup_key", job.DedupKey)
		return stored.ID, nil
	}
	if err := q.backend.Push(ctx, job.ID, now, now); err != nil {
		if _, ferr := q.jobs.FailJob(ctx, job.ID, models.JobWaiting, now, "enqueue failed: "+err.Error()); ferr != nil {
			q.logger.Error("failed to fail unqueued job", "job_id", job.ID, "error", ferr)
		}
		return "", apperr.Wrap(err, "push job")
	}
	telemetry.EnqueueCounter.WithLabelValues(string(job.Kind)).Inc()
	return job.ID, nil
}

// Dequeue reclaims expired leases, promotes due retries and claims one
// ready job. It returns nil when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*models.Job, error) {
	now := q.now()
	if err := q.reclaimExpired(ctx, now); err != nil {
		return nil, err
	}
	if err := q.promoteDue(ctx, now); err != nil {
		return nil, err
	}

	for i := int64(0); i < q.opts.BatchSize; i++ {
		id, err := q.backend.Pop(ctx, now.Add(q.opts.VisibilityTimeout))
		if err != nil {
			return nil, apperr.Wrap(err, "pop job")
		}
		if id == "" {
			return nil, nil
		}
		job, won, err := q.jobs.ClaimJob(ctx, id, now)
		if errors.Is(err, store.ErrNotFound) {
			_ = q.backend.Ack(ctx, id)
			continue
		}
		if err != nil {
			return nil, apperr.Wrap(err, "claim job")
		}
		if !won {
			if job.State.Terminal() {
				_ = q.backend.Ack(ctx, id)
			}
			continue
		}
		return &job, nil
	}
	return nil, nil
}

// ExtendLease keeps an active job leased for another visibility timeout,
// or for d when that is longer.
func (q *Queue) ExtendLease(ctx context.Context, id string, d time.Duration) error {
	if d < q.opts.VisibilityTimeout {
		d = q.opts.VisibilityTimeout
	}
	if err := q.backend.Extend(ctx, id, q.now().Add(d)); err != nil {
		return apperr.Wrap(err, "extend lease")
	}
	return nil
}

// VisibilityTimeout is how long a claimed job stays leased.
func (q *Queue) VisibilityTimeout() time.Duration {
	return q.opts.VisibilityTimeout
}

// MarkSucceeded records a successful run of an active job.
func (q *Queue) MarkSucceeded(ctx context.Context, id string) error {
	ok, err := q.jobs.CompleteJob(ctx, id, q.now())
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.ErrJobNotFound, "", map[string]any{"id": id})
	}
	if err != nil {
		return apperr.Wrap(err, "complete job")
	}
	if !ok {
		q.logger.Warn("completion of inactive job ignored", "job_id", id)
	}
	if err := q.backend.Ack(ctx, id); err != nil {
		q.logger.Warn("ack failed", "job_id", id, "error", err)
	}
	return nil
}

// MarkFailed records a failed run. The job is delayed for a retry while
// attempts remain and cause is not permanent; otherwise it fails for good.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) (Outcome, error) {
	job, err := q.jobs.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.New(apperr.ErrJobNotFound, "", map[string]any{"id": id})
	}
	if err != nil {
		return "", apperr.Wrap(err, "load job")
	}
	if job.State != models.JobActive {
		return OutcomeStale, nil
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	now := q.now()

	if apperr.IsPermanent(cause) || job.Attempts >= job.MaxAttempts {
		ok, err := q.jobs.FailJob(ctx, id, models.JobActive, now, msg)
		if err != nil {
			return "", apperr.Wrap(err, "fail job")
		}
		if !ok {
			return OutcomeStale, nil
		}
		if err := q.backend.Ack(ctx, id); err != nil {
			q.logger.Warn("ack failed", "job_id", id, "error", err)
		}
		return OutcomeFailed, nil
	}

	next := now.Add(q.RetryDelay(job.Attempts))
	ok, err := q.jobs.RetryJob(ctx, id, next, msg)
	if err != nil {
		return "", apperr.Wrap(err, "retry job")
	}
	if !ok {
		return OutcomeStale, nil
	}
	if err := q.backend.Ack(ctx, id); err != nil {
		q.logger.Warn("ack failed", "job_id", id, "error", err)
	}
	if err := q.backend.Push(ctx, id, next, now); err != nil {
		return "", apperr.Wrap(err, "schedule retry")
	}
	return OutcomeRetry, nil
}

// RetryDelay is the wait after the given number of consumed attempts:
// initial * 2^(attempts-1), capped at the configured maximum.
func (q *Queue) RetryDelay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     q.opts.BackoffInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         q.opts.BackoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	delay := q.opts.BackoffInitial
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	if delay > q.opts.BackoffMax {
		delay = q.opts.BackoffMax
	}
	return delay
}

// Get returns the job with id.
func (q *Queue) Get(ctx context.Context, id string) (models.Job, error) {
	job, err := q.jobs.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Job{}, apperr.New(apperr.ErrJobNotFound, "", map[string]any{"id": id})
	}
	if err != nil {
		return models.Job{}, apperr.Wrap(err, "load job")
	}
	return job, nil
}

// Prune deletes terminal jobs that finished before the cutoff.
func (q *Queue) Prune(ctx context.Context, before time.Time) (int64, error) {
	n, err := q.jobs.PruneJobs(ctx, before)
	if err != nil {
		return 0, apperr.Wrap(err, "prune jobs")
	}
	return n, nil
}

func (q *Queue) promoteDue(ctx context.Context, now time.Time) error {
	ids, err := q.backend.PromoteDue(ctx, now, q.opts.BatchSize)
	if err != nil {
		return apperr.Wrap(err, "promote due jobs")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := q.jobs.PromoteJobs(ctx, ids); err != nil {
		return apperr.Wrap(err, "promote jobs")
	}
	return nil
}

// reclaimExpired requeues active jobs whose lease ran out. The attempt the
// lost run consumed stays counted; when it was the last one the job fails.
func (q *Queue) reclaimExpired(ctx context.Context, now time.Time) error {
	ids, err := q.backend.ReclaimExpired(ctx, now, q.opts.BatchSize)
	if err != nil {
		return apperr.Wrap(err, "reclaim leases")
	}
	for _, id := range ids {
		job, err := q.jobs.GetJob(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return apperr.Wrap(err, "load expired job")
		}
		if job.State != models.JobActive {
			continue
		}
		if job.Attempts >= job.MaxAttempts {
			ok, err := q.jobs.FailJob(ctx, id, models.JobActive, now, leaseExpiredError)
			if err != nil {
				return apperr.Wrap(err, "fail expired job")
			}
			if !ok {
				continue
			}
			telemetry.WorkerFailures.WithLabelValues(string(job.Kind)).Inc()
			q.logger.Warn("job lease expired on last attempt", "job_id", id, "order_id", job.OrderID)
			continue
		}
		ok, err := q.jobs.RequeueJob(ctx, id)
		if err != nil {
			return apperr.Wrap(err, "requeue expired job")
		}
		if !ok {
			continue
		}
		if err := q.backend.Push(ctx, id, now, now); err != nil {
			return apperr.Wrap(err, "push expired job")
		}
		q.logger.Info("job lease expired, requeued", "job_id", id, "attempts", job.Attempts)
	}
	return nil
}
