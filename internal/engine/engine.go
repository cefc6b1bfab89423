// Package engine validates and records order status transitions and fans
// each accepted transition out into queued actions.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/store"
	"github.com/character-tun/character-crm-sub000/internal/telemetry"
)

// maxRecordAttempts bounds how often a transition is re-evaluated when the
// order's status moves between the read and the write.
const maxRecordAttempts = 3

// Capabilities are the caller permissions relevant to transitions.
type Capabilities struct {
	ChangeStatus bool
	Reopen       bool
}

// TransitionRequest asks to move an order to a new status.
type TransitionRequest struct {
	OrderID        string
	FromStatusHint string
	ToStatusCode   string
	UserID         string
	Capabilities   Capabilities
	Note           string
}

// TransitionResult is the recorded log entry and the jobs it produced.
type TransitionResult struct {
	LogEntry models.TransitionLogEntry
	JobIDs   []string
}

// StatusLookup resolves status codes case-insensitively.
type StatusLookup interface {
	Get(ctx context.Context, code string) (models.StatusDefinition, error)
}

// Enqueuer submits action jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec models.JobSpec) (string, error)
}

// Engine is the TransitionEngine.
type Engine struct {
	statuses    StatusLookup
	orders      store.Orders
	log         store.Transitions
	queue       Enqueuer
	maxAttempts int
	logger      glog.Logger
	now         func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger glog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxAttempts sets the attempt budget of the jobs the engine creates.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// New builds an Engine.
func New(statuses StatusLookup, orders store.Orders, log store.Transitions, queue Enqueuer, opts ...Option) *Engine {
	e := &Engine{
		statuses: statuses,
		orders:   orders,
		log:      log,
		queue:    queue,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	return e
}

// RequestTransition validates req, records it and enqueues the target
// status's actions. Rejections are returned as apperr codes and never
// leave a trace in the log or the queue.
func (e *Engine) RequestTransition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	res, err := e.transition(ctx, req)
	if err != nil {
		outcome := apperr.Code(err)
		if outcome == "" {
			outcome = apperr.CodeInternal
		}
		telemetry.TransitionCounter.WithLabelValues(outcome).Inc()
		return TransitionResult{}, err
	}
	telemetry.TransitionCounter.WithLabelValues("accepted").Inc()
	return res, nil
}

func (e *Engine) transition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if !req.Capabilities.ChangeStatus {
		return TransitionResult{}, apperr.New(apperr.ErrPermissionDenied, "", map[string]any{"user": req.UserID})
	}
	target, err := e.statuses.Get(ctx, req.ToStatusCode)
	if err != nil {
		return TransitionResult{}, err
	}
	var (
		order  models.Order
		entry  models.TransitionLogEntry
		logger glog.Logger
	)
	for attempt := 1; ; attempt++ {
		order, err = e.orders.GetOrder(ctx, req.OrderID)
		if errors.Is(err, store.ErrNotFound) {
			return TransitionResult{}, apperr.New(apperr.ErrOrderNotFound, "", map[string]any{"order": req.OrderID})
		}
		if err != nil {
			return TransitionResult{}, apperr.Wrap(err, "load order")
		}

		logger = logging.With(e.logger, map[string]any{"order_id": order.ID, "user_id": req.UserID})
		current := e.currentStatus(order, req.FromStatusHint, logger)
		if err := e.checkReopen(ctx, current, target, req.Capabilities, logger); err != nil {
			return TransitionResult{}, err
		}

		entry = models.TransitionLogEntry{
			ID:         uuid.NewString(),
			OrderID:    order.ID,
			FromStatus: current,
			ToStatus:   target.Code,
			UserID:     req.UserID,
			Note:       strings.TrimSpace(req.Note),
			OccurredAt: e.now(),
		}
		// The order must still carry the status the gate was evaluated on.
		err = e.log.RecordTransition(ctx, entry, order.StatusCode)
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, store.ErrNotFound):
			return TransitionResult{}, apperr.New(apperr.ErrOrderNotFound, "", map[string]any{"order": req.OrderID})
		case errors.Is(err, store.ErrStatusChanged):
			if attempt < maxRecordAttempts {
				logger.Debug("order status moved during transition, re-evaluating", "expected", order.StatusCode, "attempt", attempt)
				continue
			}
			return TransitionResult{}, apperr.New(apperr.ErrOrderConflict, "order status changed concurrently, retry the request",
				map[string]any{"order": req.OrderID})
		default:
			return TransitionResult{}, apperr.Wrap(err, "record transition")
		}
	}
	logger.Info("status changed", "from", entry.FromStatus, "to", entry.ToStatus, "log_id", entry.ID)

	jobIDs := make([]string, 0, len(target.Actions))
	for _, action := range target.Actions {
		id, err := e.queue.Enqueue(ctx, models.JobSpec{
			Kind:         action.Type,
			OrderID:      order.ID,
			TemplateRef:  action.TemplateRef,
			Channel:      action.Channel,
			TransitionID: entry.ID,
			MaxAttempts:  e.maxAttempts,
		})
		if err != nil {
			telemetry.EnqueueFailures.Inc()
			logger.Error("action enqueue failed after transition was recorded",
				"log_id", entry.ID, "type", action.Type, "template", action.TemplateRef, "error", err)
			continue
		}
		jobIDs = append(jobIDs, id)
	}
	return TransitionResult{LogEntry: entry, JobIDs: jobIDs}, nil
}

// checkReopen applies the reopen gate: leaving a closed or archived status
// for an open one needs the Reopen capability.
func (e *Engine) checkReopen(ctx context.Context, current string, target models.StatusDefinition, caps Capabilities, logger glog.Logger) error {
	if current == "" {
		return nil
	}
	from, err := e.statuses.Get(ctx, current)
	switch {
	case err == nil:
		if from.Group.Closed() && target.Group.Open() && !caps.Reopen {
			return apperr.New(apperr.ErrReopenForbidden, "", map[string]any{"from": from.Code, "to": target.Code})
		}
		return nil
	case apperr.Is(err, apperr.CodeUnknownStatus):
		logger.Warn("order carries a status missing from the catalog", "status", current)
		return nil
	default:
		return err
	}
}

// currentStatus prefers the order's recorded status over the caller hint.
func (e *Engine) currentStatus(order models.Order, hint string, logger glog.Logger) string {
	hint = models.NormalizeCode(hint)
	if order.StatusCode == "" {
		return hint
	}
	if hint != "" && hint != order.StatusCode {
		logger.Warn("status hint disagrees with recorded status", "hint", hint, "recorded", order.StatusCode)
	}
	return order.StatusCode
}
