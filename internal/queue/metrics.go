package queue

import (
	"context"
	"time"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/telemetry"
)

// DefaultLastN is the failure list length used when the caller gives none.
const DefaultLastN = 10

// Metrics is a point-in-time view of queue health derived from the job set.
type Metrics struct {
	Waiting        int64                  `json:"waiting"`
	Active         int64                  `json:"active"`
	Delayed        int64                  `json:"delayed"`
	Processed24h   int64                  `json:"processed24h"`
	Failed24h      int64                  `json:"failed24h"`
	FailedLastHour int64                  `json:"failedLastHour"`
	FailedLastN    []models.FailureRecord `json:"failedLastN"`
}

// Metrics computes queue health at call time. It only reads.
func (q *Queue) Metrics(ctx context.Context, lastN int) (Metrics, error) {
	if lastN < 0 {
		lastN = 0
	}
	now := q.now()
	since := now.Add(-24 * time.Hour)
	counts, err := q.jobs.CountJobs(ctx, since, now.Add(-time.Hour))
	if err != nil {
		return Metrics{}, apperr.Wrap(err, "count jobs")
	}
	failures, err := q.jobs.RecentFailures(ctx, since, lastN)
	if err != nil {
		return Metrics{}, apperr.Wrap(err, "list failures")
	}

	telemetry.QueueDepthGauge.WithLabelValues(string(models.JobWaiting)).Set(float64(counts.Waiting))
	telemetry.QueueDepthGauge.WithLabelValues(string(models.JobActive)).Set(float64(counts.Active))
	telemetry.QueueDepthGauge.WithLabelValues(string(models.JobDelayed)).Set(float64(counts.Delayed))

	return Metrics{
		Waiting:        counts.Waiting,
		Active:         counts.Active,
		Delayed:        counts.Delayed,
		Processed24h:   counts.Processed,
		Failed24h:      counts.Failed,
		FailedLastHour: counts.FailedLastHour,
		FailedLastN:    failures,
	}, nil
}
