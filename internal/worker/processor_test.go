package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/queue"
	"github.com/character-tun/character-crm-sub000/internal/store"
)

func newTestQueue(t *testing.T, maxAttempts int) *queue.Queue {
	t.Helper()
	return queue.New(store.NewMemory(), queue.NewMemoryBackend(), queue.Options{
		MaxAttempts:    maxAttempts,
		BackoffInitial: time.Hour,
	})
}

func enqueue(t *testing.T, q *queue.Queue, kind models.JobKind, order string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), models.JobSpec{Kind: kind, OrderID: order, TemplateRef: "tpl", TransitionID: "t1"})
	require.NoError(t, err)
	return id
}

func TestProcessOneSucceeds(t *testing.T) {
	q := newTestQueue(t, 3)
	p := NewProcessor(q, Options{}, nil)
	var calls int32
	p.RegisterHandler(models.JobNotify, func(context.Context, models.Job) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	id := enqueue(t, q, models.JobNotify, "o1")

	processed, err := p.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.EqualValues(t, 1, calls)

	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, job.State)

	processed, err = p.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestPanicBecomesRetryableFailure(t *testing.T) {
	q := newTestQueue(t, 3)
	p := NewProcessor(q, Options{}, nil)
	p.RegisterHandler(models.JobPrint, func(context.Context, models.Job) error {
		panic("renderer exploded")
	})
	id := enqueue(t, q, models.JobPrint, "o1")

	processed, err := p.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobDelayed, job.State)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, "renderer exploded")
}

func TestMissingHandlerFailsImmediately(t *testing.T) {
	q := newTestQueue(t, 3)
	p := NewProcessor(q, Options{}, nil)
	id := enqueue(t, q, models.JobPrint, "o1")

	_, err := p.ProcessOne(context.Background())
	require.NoError(t, err)
	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
	assert.Equal(t, 1, job.Attempts)
}

func TestHandlerTimeoutIsRetried(t *testing.T) {
	q := newTestQueue(t, 3)
	p := NewProcessor(q, Options{JobTimeout: 20 * time.Millisecond}, nil)
	p.RegisterHandler(models.JobNotify, func(ctx context.Context, _ models.Job) error {
		<-ctx.Done()
		return ctx.Err()
	})
	id := enqueue(t, q, models.JobNotify, "o1")

	_, err := p.ProcessOne(context.Background())
	require.NoError(t, err)
	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobDelayed, job.State)
	require.NotNil(t, job.LastError)
	assert.Contains(t, *job.LastError, context.DeadlineExceeded.Error())
}

func TestRunDrainsQueueAndStopsOnCancel(t *testing.T) {
	q := newTestQueue(t, 3)
	p := NewProcessor(q, Options{PoolSize: 3, PollInterval: 5 * time.Millisecond}, nil)
	var done int32
	p.RegisterHandler(models.JobNotify, func(context.Context, models.Job) error {
		atomic.AddInt32(&done, 1)
		return nil
	})
	p.RegisterHandler(models.JobPrint, func(context.Context, models.Job) error {
		return errors.New("printer offline")
	})
	for _, order := range []string{"o1", "o2", "o3", "o4", "o5"} {
		enqueue(t, q, models.JobNotify, order)
	}
	enqueue(t, q, models.JobPrint, "o6")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		m, err := q.Metrics(context.Background(), 5)
		return err == nil && m.Processed24h == 5 && m.Delayed == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
	assert.EqualValues(t, 5, atomic.LoadInt32(&done))
}
