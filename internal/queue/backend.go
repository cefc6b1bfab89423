package queue

import (
	"context"
	"time"
)

// Backend tracks which job ids are ready, scheduled or leased. Job records
// live in the store; the backend only orders ids and hands each ready id
// to exactly one caller.
type Backend interface {
	// Push makes id ready, or schedules it when runAt is after now. now is
	// the caller's clock so scheduling agrees with PromoteDue.
	Push(ctx context.Context, id string, runAt, now time.Time) error
	// PromoteDue moves scheduled ids whose time has come to the ready list.
	PromoteDue(ctx context.Context, now time.Time, limit int64) ([]string, error)
	// Pop atomically takes the next ready id and leases it until leaseUntil.
	// It returns "" when nothing is ready.
	Pop(ctx context.Context, leaseUntil time.Time) (string, error)
	// Extend pushes the lease deadline of an in-flight id forward.
	Extend(ctx context.Context, id string, leaseUntil time.Time) error
	// Ack drops the lease on id.
	Ack(ctx context.Context, id string) error
	// ReclaimExpired removes and returns leases that ran out before now.
	ReclaimExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
}
