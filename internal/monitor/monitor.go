// Package monitor runs the scheduled housekeeping around the action queue:
// the failure-rate alert and eviction of old finished jobs.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"

	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/queue"
	"github.com/character-tun/character-crm-sub000/internal/telemetry"
)

// Queue is what the monitor reads and prunes.
type Queue interface {
	Metrics(ctx context.Context, lastN int) (queue.Metrics, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Options configure schedules and thresholds.
type Options struct {
	AlertSchedule    string
	PruneSchedule    string
	FailureThreshold int
	Retention        time.Duration
}

// Monitor owns a cron scheduler for queue housekeeping.
type Monitor struct {
	queue  Queue
	opts   Options
	logger glog.Logger
	now    func() time.Time
}

// New builds a monitor.
func New(q Queue, opts Options, logger glog.Logger) *Monitor {
	if opts.AlertSchedule == "" {
		opts.AlertSchedule = "@every 1m"
	}
	if opts.PruneSchedule == "" {
		opts.PruneSchedule = "@every 1h"
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Monitor{queue: q, opts: opts, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CheckFailures raises an alert when more jobs failed in the last hour
// than the threshold allows. It reports whether the alert fired.
func (m *Monitor) CheckFailures(ctx context.Context) (bool, error) {
	metrics, err := m.queue.Metrics(ctx, queue.DefaultLastN)
	if err != nil {
		return false, err
	}
	if metrics.FailedLastHour <= int64(m.opts.FailureThreshold) {
		return false, nil
	}
	telemetry.FailureAlerts.Inc()
	recent := make([]string, 0, len(metrics.FailedLastN))
	for _, f := range metrics.FailedLastN {
		recent = append(recent, fmt.Sprintf("%s(%s): %s", f.JobID, f.OrderID, f.Error))
	}
	m.logger.Warn("action queue failure threshold exceeded",
		"failed_last_hour", metrics.FailedLastHour,
		"threshold", m.opts.FailureThreshold,
		"waiting", metrics.Waiting,
		"delayed", metrics.Delayed,
		"recent", recent,
	)
	return true, nil
}

// PruneFinished evicts terminal jobs older than the retention window.
func (m *Monitor) PruneFinished(ctx context.Context) (int64, error) {
	n, err := m.queue.Prune(ctx, m.now().Add(-m.opts.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("pruned finished jobs", "count", n, "retention", m.opts.Retention.String())
	}
	return n, nil
}

// Run schedules both checks and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(m.opts.AlertSchedule, func() {
		if _, err := m.CheckFailures(ctx); err != nil {
			m.logger.Error("failure check failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule failure check: %w", err)
	}
	if _, err := c.AddFunc(m.opts.PruneSchedule, func() {
		if _, err := m.PruneFinished(ctx); err != nil {
			m.logger.Error("job pruning failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule pruning: %w", err)
	}

	c.Start()
	m.logger.Info("monitor started", "alert_schedule", m.opts.AlertSchedule, "prune_schedule", m.opts.PruneSchedule)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
