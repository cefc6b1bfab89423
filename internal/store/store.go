package store

import (
	"context"
	"errors"
	"time"

	"github.com/character-tun/character-crm-sub000/internal/models"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique code is already taken.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStatusChanged is returned when an order no longer carries the
	// status a transition was evaluated against.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

// Statuses persists the status catalog. Codes are stored normalized.
type Statuses interface {
	ListStatuses(ctx context.Context) ([]models.StatusDefinition, error)
	GetStatus(ctx context.Context, code string) (models.StatusDefinition, error)
	CreateStatus(ctx context.Context, def models.StatusDefinition) error
	UpdateStatus(ctx context.Context, def models.StatusDefinition) error
	DeleteStatus(ctx context.Context, code string) error
	StatusReferenced(ctx context.Context, code string) (bool, error)
}

// Templates persists notification and document templates.
type Templates interface {
	ListTemplates(ctx context.Context, kind models.TemplateKind) ([]models.Template, error)
	GetTemplate(ctx context.Context, kind models.TemplateKind, code string) (models.Template, error)
	CreateTemplate(ctx context.Context, tpl models.Template) error
	UpdateTemplate(ctx context.Context, tpl models.Template) error
	DeleteTemplate(ctx context.Context, kind models.TemplateKind, code string) error
}

// Orders persists the orders the engine transitions.
type Orders interface {
	CreateOrder(ctx context.Context, order models.Order) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
}

// Transitions is the append-only transition log.
type Transitions interface {
	// RecordTransition appends entry and moves the order to entry.ToStatus
	// atomically, provided the order still carries expected. Returns
	// ErrNotFound when the order does not exist and ErrStatusChanged when
	// its status moved on.
	RecordTransition(ctx context.Context, entry models.TransitionLogEntry, expected string) error
	ListTransitions(ctx context.Context, orderID string) ([]models.TransitionLogEntry, error)
}

// JobCounts aggregates the job set for queue metrics.
type JobCounts struct {
	Waiting        int64
	Active         int64
	Delayed        int64
	Processed      int64
	Failed         int64
	FailedLastHour int64
}

// Jobs persists job records. Every state change is guarded by the expected
// current state so concurrent workers cannot both win the same transition;
// the boolean result reports whether the guard matched.
type Jobs interface {
	// CreateJob inserts job unless its dedup key exists, in which case the
	// existing job is returned with existed=true.
	CreateJob(ctx context.Context, job models.Job) (models.Job, bool, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	// ClaimJob moves a waiting or delayed job to active and consumes an
	// attempt. Readiness is decided by the queue backend before the claim.
	ClaimJob(ctx context.Context, id string, now time.Time) (models.Job, bool, error)
	PromoteJobs(ctx context.Context, ids []string) error
	CompleteJob(ctx context.Context, id string, now time.Time) (bool, error)
	RetryJob(ctx context.Context, id string, nextAttempt time.Time, lastErr string) (bool, error)
	// FailJob terminally fails a job that is still in state from.
	FailJob(ctx context.Context, id string, from models.JobState, now time.Time, lastErr string) (bool, error)
	RequeueJob(ctx context.Context, id string) (bool, error)
	CountJobs(ctx context.Context, since, hourAgo time.Time) (JobCounts, error)
	RecentFailures(ctx context.Context, since time.Time, limit int) ([]models.FailureRecord, error)
	PruneJobs(ctx context.Context, before time.Time) (int64, error)
}

// Outbox stores the dry-run record of simulated side effects.
type Outbox interface {
	AppendOutbox(ctx context.Context, entry models.OutboxEntry) error
	ListOutbox(ctx context.Context) ([]models.OutboxEntry, error)
	ClearOutbox(ctx context.Context) error
}

// Files indexes rendered documents held by the file store.
type Files interface {
	CreateFile(ctx context.Context, rec models.FileRecord) error
	GetFile(ctx context.Context, id string) (models.FileRecord, error)
	ListFiles(ctx context.Context, orderID string) ([]models.FileRecord, error)
}

// Store is the full persistence surface. The in-memory and Postgres
// adapters both implement it and are selected once at startup.
type Store interface {
	Statuses
	Templates
	Orders
	Transitions
	Jobs
	Outbox
	Files
	Close()
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
