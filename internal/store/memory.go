package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/character-tun/character-crm-sub000/internal/models"
)

// Memory is an in-process Store used for development and tests. Each
// instance owns its data; nothing is shared between instances.
type Memory struct {
	mu          sync.RWMutex
	statuses    map[string]models.StatusDefinition
	templates   map[models.TemplateKind]map[string]models.Template
	orders      map[string]models.Order
	transitions []models.TransitionLogEntry
	jobs        map[string]*models.Job
	dedup       map[string]string
	outbox      []models.OutboxEntry
	files       map[string]models.FileRecord
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		statuses: make(map[string]models.StatusDefinition),
		templates: map[models.TemplateKind]map[string]models.Template{
			models.TemplateNotify: {},
			models.TemplateDoc:    {},
		},
		orders: make(map[string]models.Order),
		jobs:   make(map[string]*models.Job),
		dedup:  make(map[string]string),
		files:  make(map[string]models.FileRecord),
	}
}

func (m *Memory) Close() {}

func (m *Memory) ListStatuses(_ context.Context) ([]models.StatusDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.StatusDefinition, 0, len(m.statuses))
	for _, def := range m.statuses {
		out = append(out, cloneStatus(def))
	}
	sortStatuses(out)
	return out, nil
}

func (m *Memory) GetStatus(_ context.Context, code string) (models.StatusDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.statuses[models.NormalizeCode(code)]
	if !ok {
		return models.StatusDefinition{}, ErrNotFound
	}
	return cloneStatus(def), nil
}

func (m *Memory) CreateStatus(_ context.Context, def models.StatusDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := models.NormalizeCode(def.Code)
	if _, exists := m.statuses[code]; exists {
		return ErrDuplicate
	}
	def.Code = code
	m.statuses[code] = cloneStatus(def)
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, def models.StatusDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := models.NormalizeCode(def.Code)
	existing, ok := m.statuses[code]
	if !ok {
		return ErrNotFound
	}
	def.Code = code
	def.CreatedAt = existing.CreatedAt
	m.statuses[code] = cloneStatus(def)
	return nil
}

func (m *Memory) DeleteStatus(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code = models.NormalizeCode(code)
	if _, ok := m.statuses[code]; !ok {
		return ErrNotFound
	}
	delete(m.statuses, code)
	return nil
}

func (m *Memory) StatusReferenced(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code = models.NormalizeCode(code)
	for _, t := range m.transitions {
		if t.FromStatus == code || t.ToStatus == code {
			return true, nil
		}
	}
	for _, o := range m.orders {
		if o.StatusCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListTemplates(_ context.Context, kind models.TemplateKind) ([]models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Template, 0, len(m.templates[kind]))
	for _, tpl := range m.templates[kind] {
		out = append(out, cloneTemplate(tpl))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) GetTemplate(_ context.Context, kind models.TemplateKind, ref string) (models.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byCode := m.templates[kind]
	if tpl, ok := byCode[models.NormalizeCode(ref)]; ok {
		return cloneTemplate(tpl), nil
	}
	for _, tpl := range byCode {
		if tpl.ID == ref {
			return cloneTemplate(tpl), nil
		}
	}
	return models.Template{}, ErrNotFound
}

func (m *Memory) CreateTemplate(_ context.Context, tpl models.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCode, ok := m.templates[tpl.Kind]
	if !ok {
		return ErrNotFound
	}
	code := models.NormalizeCode(tpl.Code)
	if _, exists := byCode[code]; exists {
		return ErrDuplicate
	}
	tpl.Code = code
	byCode[code] = cloneTemplate(tpl)
	return nil
}

func (m *Memory) UpdateTemplate(_ context.Context, tpl models.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := models.NormalizeCode(tpl.Code)
	existing, ok := m.templates[tpl.Kind][code]
	if !ok {
		return ErrNotFound
	}
	tpl.Code = code
	tpl.ID = existing.ID
	tpl.CreatedAt = existing.CreatedAt
	m.templates[tpl.Kind][code] = cloneTemplate(tpl)
	return nil
}

func (m *Memory) DeleteTemplate(_ context.Context, kind models.TemplateKind, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code = models.NormalizeCode(code)
	if _, ok := m.templates[kind][code]; !ok {
		return ErrNotFound
	}
	delete(m.templates[kind], code)
	return nil
}

func (m *Memory) CreateOrder(_ context.Context, order models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.ID]; exists {
		return ErrDuplicate
	}
	order.StatusCode = models.NormalizeCode(order.StatusCode)
	m.orders[order.ID] = cloneOrder(order)
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return cloneOrder(order), nil
}

func (m *Memory) RecordTransition(_ context.Context, entry models.TransitionLogEntry, expected string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[entry.OrderID]
	if !ok {
		return ErrNotFound
	}
	if order.StatusCode != models.NormalizeCode(expected) {
		return ErrStatusChanged
	}
	m.transitions = append(m.transitions, entry)
	order.StatusCode = entry.ToStatus
	order.UpdatedAt = entry.OccurredAt
	m.orders[entry.OrderID] = order
	return nil
}

func (m *Memory) ListTransitions(_ context.Context, orderID string) ([]models.TransitionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TransitionLogEntry, 0)
	for _, t := range m.transitions {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) CreateJob(_ context.Context, job models.Job) (models.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.DedupKey != "" {
		if id, ok := m.dedup[job.DedupKey]; ok {
			return *m.jobs[id], true, nil
		}
		m.dedup[job.DedupKey] = job.ID
	}
	stored := job
	m.jobs[job.ID] = &stored
	return job, false, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return *job, nil
}

func (m *Memory) ClaimJob(_ context.Context, id string, now time.Time) (models.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, false, ErrNotFound
	}
	if job.State != models.JobWaiting && job.State != models.JobDelayed {
		return *job, false, nil
	}
	job.State = models.JobActive
	job.Attempts++
	started := now
	job.StartedAt = &started
	job.UpdatedAt = now
	return *job, true, nil
}

func (m *Memory) PromoteJobs(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		if job, ok := m.jobs[id]; ok && job.State == models.JobDelayed {
			job.State = models.JobWaiting
			job.UpdatedAt = now
		}
	}
	return nil
}

func (m *Memory) CompleteJob(_ context.Context, id string, now time.Time) (bool, error) {
	return m.finish(id, models.JobActive, models.JobSucceeded, now, nil)
}

func (m *Memory) FailJob(_ context.Context, id string, from models.JobState, now time.Time, lastErr string) (bool, error) {
	return m.finish(id, from, models.JobFailed, now, &lastErr)
}

func (m *Memory) finish(id string, from, state models.JobState, now time.Time, lastErr *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.State != from || job.State.Terminal() {
		return false, nil
	}
	job.State = state
	finished := now
	job.FinishedAt = &finished
	job.UpdatedAt = now
	if lastErr != nil {
		job.LastError = lastErr
	}
	return true, nil
}

func (m *Memory) RetryJob(_ context.Context, id string, nextAttempt time.Time, lastErr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.State != models.JobActive {
		return false, nil
	}
	job.State = models.JobDelayed
	job.NextAttemptAt = nextAttempt
	job.LastError = &lastErr
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) RequeueJob(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.State != models.JobActive {
		return false, nil
	}
	job.State = models.JobWaiting
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) CountJobs(_ context.Context, since, hourAgo time.Time) (JobCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c JobCounts
	for _, job := range m.jobs {
		switch job.State {
		case models.JobWaiting:
			c.Waiting++
		case models.JobActive:
			c.Active++
		case models.JobDelayed:
			c.Delayed++
		case models.JobSucceeded:
			if finishedSince(job, since) {
				c.Processed++
			}
		case models.JobFailed:
			if finishedSince(job, since) {
				c.Failed++
			}
			if finishedSince(job, hourAgo) {
				c.FailedLastHour++
			}
		}
	}
	return c, nil
}

func (m *Memory) RecentFailures(_ context.Context, since time.Time, limit int) ([]models.FailureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FailureRecord, 0)
	for _, job := range m.jobs {
		if job.State != models.JobFailed || !finishedSince(job, since) {
			continue
		}
		rec := models.FailureRecord{JobID: job.ID, OrderID: job.OrderID, At: *job.FinishedAt}
		if job.LastError != nil {
			rec.Error = *job.LastError
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].JobID > out[j].JobID
		}
		return out[i].At.After(out[j].At)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PruneJobs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, job := range m.jobs {
		if job.State.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(before) {
			delete(m.jobs, id)
			if job.DedupKey != "" {
				delete(m.dedup, job.DedupKey)
			}
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendOutbox(_ context.Context, entry models.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, entry)
	return nil
}

func (m *Memory) ListOutbox(_ context.Context) ([]models.OutboxEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.OutboxEntry, len(m.outbox))
	copy(out, m.outbox)
	return out, nil
}

func (m *Memory) ClearOutbox(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = nil
	return nil
}

func (m *Memory) CreateFile(_ context.Context, rec models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.files[rec.ID]; exists {
		return ErrDuplicate
	}
	m.files[rec.ID] = rec
	return nil
}

func (m *Memory) GetFile(_ context.Context, id string) (models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[id]
	if !ok {
		return models.FileRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListFiles(_ context.Context, orderID string) ([]models.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FileRecord, 0)
	for _, rec := range m.files {
		if rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func finishedSince(job *models.Job, since time.Time) bool {
	return job.FinishedAt != nil && !job.FinishedAt.Before(since)
}

func sortStatuses(defs []models.StatusDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Order == defs[j].Order {
			return defs[i].Code < defs[j].Code
		}
		return defs[i].Order < defs[j].Order
	})
}

func cloneStatus(def models.StatusDefinition) models.StatusDefinition {
	if def.Actions != nil {
		def.Actions = append([]models.ActionSpec(nil), def.Actions...)
	}
	return def
}

func cloneTemplate(tpl models.Template) models.Template {
	if tpl.Variables != nil {
		tpl.Variables = append([]string(nil), tpl.Variables...)
	}
	return tpl
}

func cloneOrder(order models.Order) models.Order {
	if order.Fields != nil {
		fields := make(map[string]string, len(order.Fields))
		for k, v := range order.Fields {
			fields[k] = v
		}
		order.Fields = fields
	}
	return order
}
