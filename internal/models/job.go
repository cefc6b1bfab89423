package models

import (
	"time"
)

// JobKind selects the executor a job is dispatched to.
type JobKind string

const (
	JobNotify JobKind = "notify"
	JobPrint  JobKind = "print"
)

// JobState enumerates lifecycle states of a queued action.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobDelayed   JobState = "delayed"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further processing will happen for the state.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is one unit of side-effect work derived from one action at one transition.
type Job struct {
	ID            string     `json:"id"`
	Kind          JobKind    `json:"kind"`
	OrderID       string     `json:"order_id"`
	TemplateRef   string     `json:"template_ref"`
	Channel       string     `json:"channel,omitempty"`
	TransitionID  string     `json:"transition_id,omitempty"`
	DedupKey      string     `json:"dedup_key"`
	State         JobState   `json:"state"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastError     *string    `json:"last_error,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// JobSpec collects the inputs needed to submit a job.
type JobSpec struct {
	Kind         JobKind
	OrderID      string
	TemplateRef  string
	Channel      string
	TransitionID string
	MaxAttempts  int
}

// DedupKey identifies repeated submissions of the same action for the same transition.
func (s JobSpec) DedupKey() string {
	return s.OrderID + ":" + s.TemplateRef + ":" + s.TransitionID
}

// FailureRecord is a terminal job failure surfaced through queue metrics.
type FailureRecord struct {
	JobID   string    `json:"jobId"`
	OrderID string    `json:"orderId"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}
