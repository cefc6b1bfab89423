package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/queue"
	"github.com/character-tun/character-crm-sub000/internal/registry"
	"github.com/character-tun/character-crm-sub000/internal/store"
	"github.com/character-tun/character-crm-sub000/internal/templates"
)

type env struct {
	mem    *store.Memory
	tpls   *templates.Store
	reg    *registry.Registry
	queue  *queue.Queue
	engine *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	tpls := templates.New(mem, mem)
	reg := registry.New(mem, tpls)
	q := queue.New(mem, queue.NewMemoryBackend(), queue.Options{})

	_, err := tpls.Create(ctx, models.Template{Code: "status_email", Kind: models.TemplateNotify, Subject: "{{order.status_name}}", Body: "Hi {{client.name}}"})
	require.NoError(t, err)
	_, err = tpls.Create(ctx, models.Template{Code: "invoice", Kind: models.TemplateDoc, Body: "<h1>{{order.number}}</h1>"})
	require.NoError(t, err)

	defs := []models.StatusDefinition{
		{Code: "new", Name: "New", Group: models.GroupDraft, Order: 1},
		{Code: "in_work", Name: "In work", Group: models.GroupInProgress, Order: 2,
			Actions: []models.ActionSpec{{Type: models.JobNotify, TemplateRef: "status_email", Channel: "email"}}},
		{Code: "closed_paid", Name: "Paid", Group: models.GroupClosedSuccess, Order: 3,
			Actions: []models.ActionSpec{
				{Type: models.JobNotify, TemplateRef: "status_email"},
				{Type: models.JobPrint, TemplateRef: "invoice"},
			}},
		{Code: "cancelled", Name: "Cancelled", Group: models.GroupClosedFail, Order: 4},
		{Code: "archived", Name: "Archived", Group: models.GroupArchived, Order: 5},
	}
	for _, def := range defs {
		_, err := reg.Create(ctx, def)
		require.NoError(t, err)
	}
	require.NoError(t, mem.CreateOrder(ctx, models.Order{ID: "o1", Number: "A-1", StatusCode: "new", Client: models.Client{Name: "Ann", Email: "ann@client.test"}}))

	return &env{mem: mem, tpls: tpls, reg: reg, queue: q, engine: New(reg, mem, mem, q)}
}

var staff = Capabilities{ChangeStatus: true}

func (e *env) move(t *testing.T, order, to string, caps Capabilities) (TransitionResult, error) {
	t.Helper()
	return e.engine.RequestTransition(context.Background(), TransitionRequest{OrderID: order, ToStatusCode: to, UserID: "u1", Capabilities: caps})
}

func (e *env) logLen(t *testing.T, order string) int {
	t.Helper()
	entries, err := e.mem.ListTransitions(context.Background(), order)
	require.NoError(t, err)
	return len(entries)
}

func TestRejections(t *testing.T) {
	e := newEnv(t)

	_, err := e.move(t, "o1", "in_work", Capabilities{})
	assert.True(t, apperr.Is(err, apperr.CodePermissionDenied))

	_, err = e.move(t, "o1", "teleported", staff)
	assert.True(t, apperr.Is(err, apperr.CodeUnknownStatus))

	_, err = e.move(t, "missing", "in_work", staff)
	assert.True(t, apperr.Is(err, apperr.CodeOrderNotFound))

	assert.Equal(t, 0, e.logLen(t, "o1"))
	m, err := e.queue.Metrics(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, m.Waiting)
}

func TestAcceptedTransitionRecordsAndEnqueues(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.engine.RequestTransition(ctx, TransitionRequest{
		OrderID: "o1", ToStatusCode: "IN_WORK", UserID: "u1", Capabilities: staff, Note: " started ",
	})
	require.NoError(t, err)
	assert.Equal(t, "new", res.LogEntry.FromStatus)
	assert.Equal(t, "in_work", res.LogEntry.ToStatus)
	assert.Equal(t, "started", res.LogEntry.Note)
	require.Len(t, res.JobIDs, 1)

	job, err := e.queue.Get(ctx, res.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobNotify, job.Kind)
	assert.Equal(t, res.LogEntry.ID, job.TransitionID)
	assert.Equal(t, "o1:status_email:"+res.LogEntry.ID, job.DedupKey)

	order, err := e.mem.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "in_work", order.StatusCode)
}

func TestReopenGate(t *testing.T) {
	for _, closed := range []string{"closed_paid", "cancelled", "archived"} {
		for _, open := range []string{"new", "in_work"} {
			t.Run(closed+"->"+open, func(t *testing.T) {
				e := newEnv(t)
				_, err := e.move(t, "o1", closed, staff)
				require.NoError(t, err)
				before := e.logLen(t, "o1")

				_, err = e.move(t, "o1", open, staff)
				assert.True(t, apperr.Is(err, apperr.CodeReopenForbidden))
				assert.Equal(t, before, e.logLen(t, "o1"))

				res, err := e.move(t, "o1", open, Capabilities{ChangeStatus: true, Reopen: true})
				require.NoError(t, err)
				assert.Equal(t, open, res.LogEntry.ToStatus)
				assert.Equal(t, before+1, e.logLen(t, "o1"))
			})
		}
	}
}

func TestClosedToClosedNeedsNoReopen(t *testing.T) {
	e := newEnv(t)
	_, err := e.move(t, "o1", "closed_paid", staff)
	require.NoError(t, err)
	_, err = e.move(t, "o1", "archived", staff)
	require.NoError(t, err)
}

func TestSameStatusTransitionRunsActionsAgain(t *testing.T) {
	e := newEnv(t)
	first, err := e.move(t, "o1", "in_work", staff)
	require.NoError(t, err)
	second, err := e.move(t, "o1", "in_work", staff)
	require.NoError(t, err)
	assert.Equal(t, "in_work", second.LogEntry.FromStatus)
	require.Len(t, second.JobIDs, 1)
	assert.NotEqual(t, first.JobIDs[0], second.JobIDs[0])
}

func TestRecordedStatusWinsOverHint(t *testing.T) {
	e := newEnv(t)
	_, err := e.move(t, "o1", "closed_paid", staff)
	require.NoError(t, err)

	_, err = e.engine.RequestTransition(context.Background(), TransitionRequest{
		OrderID: "o1", FromStatusHint: "new", ToStatusCode: "in_work", UserID: "u1", Capabilities: staff,
	})
	assert.True(t, apperr.Is(err, apperr.CodeReopenForbidden))
}

func TestHintUsedWhenOrderHasNoStatus(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.CreateOrder(context.Background(), models.Order{ID: "o2"}))
	_, err := e.engine.RequestTransition(context.Background(), TransitionRequest{
		OrderID: "o2", FromStatusHint: "Archived", ToStatusCode: "new", UserID: "u1", Capabilities: staff,
	})
	assert.True(t, apperr.Is(err, apperr.CodeReopenForbidden))
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, models.JobSpec) (string, error) {
	return "", errors.New("redis unavailable")
}

func TestEnqueueFailureDoesNotFailRecordedTransition(t *testing.T) {
	e := newEnv(t)
	eng := New(e.reg, e.mem, e.mem, failingQueue{})
	res, err := eng.RequestTransition(context.Background(), TransitionRequest{OrderID: "o1", ToStatusCode: "in_work", UserID: "u1", Capabilities: staff})
	require.NoError(t, err)
	assert.Empty(t, res.JobIDs)
	assert.Equal(t, 1, e.logLen(t, "o1"))
}

// racingOrders lets another writer move the order right after each read,
// as a concurrent request would between the gate check and the write.
type racingOrders struct {
	*store.Memory
	interleave func(ctx context.Context, read models.Order)
}

func (r racingOrders) GetOrder(ctx context.Context, id string) (models.Order, error) {
	order, err := r.Memory.GetOrder(ctx, id)
	if err == nil && r.interleave != nil {
		r.interleave(ctx, order)
	}
	return order, err
}

func TestConcurrentCloseIsSeenByReopenGate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.move(t, "o1", "in_work", staff)
	require.NoError(t, err)

	closed := false
	orders := racingOrders{Memory: e.mem, interleave: func(ctx context.Context, read models.Order) {
		if closed {
			return
		}
		closed = true
		require.NoError(t, e.mem.RecordTransition(ctx, models.TransitionLogEntry{
			ID: "close", OrderID: read.ID, FromStatus: read.StatusCode, ToStatus: "closed_paid", UserID: "u2",
		}, read.StatusCode))
	}}
	eng := New(e.reg, orders, e.mem, e.queue)

	_, err = eng.RequestTransition(ctx, TransitionRequest{OrderID: "o1", ToStatusCode: "new", UserID: "u1", Capabilities: staff})
	assert.True(t, apperr.Is(err, apperr.CodeReopenForbidden), "got %v", err)

	order, err := e.mem.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "closed_paid", order.StatusCode)
	entries, err := e.mem.ListTransitions(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "close", entries[1].ID)
}

func TestConcurrentMoveRecordsActualFromStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	moved := false
	orders := racingOrders{Memory: e.mem, interleave: func(ctx context.Context, read models.Order) {
		if moved {
			return
		}
		moved = true
		require.NoError(t, e.mem.RecordTransition(ctx, models.TransitionLogEntry{
			ID: "other", OrderID: read.ID, FromStatus: read.StatusCode, ToStatus: "in_work",
		}, read.StatusCode))
	}}
	eng := New(e.reg, orders, e.mem, e.queue)

	res, err := eng.RequestTransition(ctx, TransitionRequest{OrderID: "o1", ToStatusCode: "closed_paid", UserID: "u1", Capabilities: staff})
	require.NoError(t, err)
	assert.Equal(t, "in_work", res.LogEntry.FromStatus)
}

func TestPersistentContentionIsAConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	n := 0
	orders := racingOrders{Memory: e.mem, interleave: func(ctx context.Context, read models.Order) {
		n++
		to := "new"
		if read.StatusCode == "new" {
			to = "in_work"
		}
		require.NoError(t, e.mem.RecordTransition(ctx, models.TransitionLogEntry{
			ID: fmt.Sprintf("race-%d", n), OrderID: read.ID, FromStatus: read.StatusCode, ToStatus: to,
		}, read.StatusCode))
	}}
	eng := New(e.reg, orders, e.mem, e.queue)

	_, err := eng.RequestTransition(ctx, TransitionRequest{OrderID: "o1", ToStatusCode: "closed_paid", UserID: "u1", Capabilities: staff})
	assert.True(t, apperr.Is(err, apperr.CodeOrderConflict), "got %v", err)
	assert.Equal(t, maxRecordAttempts, n)
}
