package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/character-tun/character-crm-sub000/internal/models"
)

const connectMaxElapsed = 30 * time.Second

// Postgres wraps pgxpool for durable persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection and waits for the server to accept it.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectMaxElapsed
	if err := backoff.Retry(func() error { return pool.Ping(ctx) }, backoff.WithContext(bo, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) ListStatuses(ctx context.Context) ([]models.StatusDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, name, status_group, sort_order, actions, system, created_at, updated_at
		FROM statuses ORDER BY sort_order, code
	`)
	if err != nil {
		return nil, fmt.Errorf("query statuses: %w", err)
	}
	defer rows.Close()

	out := make([]models.StatusDefinition, 0)
	for rows.Next() {
		def, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *Postgres) GetStatus(ctx context.Context, code string) (models.StatusDefinition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT code, name, status_group, sort_order, actions, system, created_at, updated_at
		FROM statuses WHERE code = $1
	`, models.NormalizeCode(code))
	def, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StatusDefinition{}, ErrNotFound
	}
	return def, err
}

func (s *Postgres) CreateStatus(ctx context.Context, def models.StatusDefinition) error {
	actions, err := json.Marshal(nonNilActions(def.Actions))
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO statuses (code, name, status_group, sort_order, actions, system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, models.NormalizeCode(def.Code), def.Name, string(def.Group), def.Order, actions, def.System, def.CreatedAt, def.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateStatus(ctx context.Context, def models.StatusDefinition) error {
	actions, err := json.Marshal(nonNilActions(def.Actions))
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE statuses SET name = $2, status_group = $3, sort_order = $4, actions = $5, system = $6, updated_at = $7
		WHERE code = $1
	`, models.NormalizeCode(def.Code), def.Name, string(def.Group), def.Order, actions, def.System, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteStatus(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM statuses WHERE code = $1`, models.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) StatusReferenced(ctx context.Context, code string) (bool, error) {
	var referenced bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM transition_logs WHERE to_status = $1 OR from_status = $1)
		    OR EXISTS (SELECT 1 FROM orders WHERE status_code = $1)
	`, models.NormalizeCode(code)).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("check status references: %w", err)
	}
	return referenced, nil
}

func (s *Postgres) ListTemplates(ctx context.Context, kind models.TemplateKind) ([]models.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, code, name, subject, body, variables, created_at, updated_at
		FROM templates WHERE kind = $1 ORDER BY code
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	out := make([]models.Template, 0)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (s *Postgres) GetTemplate(ctx context.Context, kind models.TemplateKind, ref string) (models.Template, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, code, name, subject, body, variables, created_at, updated_at
		FROM templates WHERE kind = $1 AND (code = $2 OR id = $3)
		ORDER BY (code = $2) DESC LIMIT 1
	`, string(kind), models.NormalizeCode(ref), ref)
	tpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Template{}, ErrNotFound
	}
	return tpl, err
}

func (s *Postgres) CreateTemplate(ctx context.Context, tpl models.Template) error {
	vars, err := json.Marshal(nonNilStrings(tpl.Variables))
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO templates (id, kind, code, name, subject, body, variables, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tpl.ID, string(tpl.Kind), models.NormalizeCode(tpl.Code), tpl.Name, tpl.Subject, tpl.Body, vars, tpl.CreatedAt, tpl.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateTemplate(ctx context.Context, tpl models.Template) error {
	vars, err := json.Marshal(nonNilStrings(tpl.Variables))
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE templates SET name = $3, subject = $4, body = $5, variables = $6, updated_at = $7
		WHERE kind = $1 AND code = $2
	`, string(tpl.Kind), models.NormalizeCode(tpl.Code), tpl.Name, tpl.Subject, tpl.Body, vars, tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteTemplate(ctx context.Context, kind models.TemplateKind, code string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM templates WHERE kind = $1 AND code = $2`, string(kind), models.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateOrder(ctx context.Context, order models.Order) error {
	fields, err := json.Marshal(nonNilFields(order.Fields))
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders (id, number, status_code, client_name, client_email, client_phone, amount, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.ID, order.Number, models.NormalizeCode(order.StatusCode), order.Client.Name, order.Client.Email, order.Client.Phone,
		order.Amount, fields, order.CreatedAt, order.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Postgres) GetOrder(ctx context.Context, id string) (models.Order, error) {
	var order models.Order
	var fields []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, number, status_code, client_name, client_email, client_phone, amount, fields, created_at, updated_at
		FROM orders WHERE id = $1
	`, id).Scan(&order.ID, &order.Number, &order.StatusCode, &order.Client.Name, &order.Client.Email, &order.Client.Phone,
		&order.Amount, &fields, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("scan order: %w", err)
	}
	if err := json.Unmarshal(fields, &order.Fields); err != nil {
		return models.Order{}, fmt.Errorf("unmarshal fields: %w", err)
	}
	return order, nil
}

// RecordTransition appends the log entry and moves the order inside one
// transaction so the entry is durable before any job derived from it exists.
func (s *Postgres) RecordTransition(ctx context.Context, entry models.TransitionLogEntry, expected string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status_code = $2, updated_at = $3 WHERE id = $1 AND status_code = $4
	`, entry.OrderID, entry.ToStatus, entry.OccurredAt, models.NormalizeCode(expected))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, entry.OrderID).Scan(&exists); err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusChanged
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO transition_logs (id, order_id, from_status, to_status, user_id, note, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.OrderID, entry.FromStatus, entry.ToStatus, entry.UserID, entry.Note, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert transition log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Postgres) ListTransitions(ctx context.Context, orderID string) ([]models.TransitionLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, from_status, to_status, user_id, note, occurred_at
		FROM transition_logs WHERE order_id = $1 ORDER BY occurred_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := make([]models.TransitionLogEntry, 0)
	for rows.Next() {
		var e models.TransitionLogEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.UserID, &e.Note, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const jobColumns = `id, kind, order_id, template_ref, channel, transition_id, dedup_key, state, attempts,
	max_attempts, next_attempt_at, last_error, enqueued_at, started_at, finished_at, updated_at`

func (s *Postgres) CreateJob(ctx context.Context, job models.Job) (models.Job, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, kind, order_id, template_ref, channel, transition_id, dedup_key, state, attempts,
			max_attempts, next_attempt_at, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, $11)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id
	`, job.ID, string(job.Kind), job.OrderID, job.TemplateRef, job.Channel, job.TransitionID, job.DedupKey,
		string(job.State), job.MaxAttempts, job.NextAttemptAt, job.EnqueuedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE dedup_key = $1`, job.DedupKey))
		if err != nil {
			return models.Job{}, false, fmt.Errorf("load deduplicated job: %w", err)
		}
		return existing, true, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}
	return job, false, nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (s *Postgres) ClaimJob(ctx context.Context, id string, now time.Time) (models.Job, bool, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs SET state = 'active', attempts = attempts + 1, started_at = $2, updated_at = $2
		WHERE id = $1 AND state IN ('waiting', 'delayed')
		RETURNING `+jobColumns, id, now))
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := s.GetJob(ctx, id)
		return current, false, err
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

func (s *Postgres) PromoteJobs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = 'waiting', updated_at = NOW()
		WHERE id = ANY($1::text[]) AND state = 'delayed'
	`, ids)
	return err
}

func (s *Postgres) CompleteJob(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.guardedUpdate(ctx, `
		UPDATE jobs SET state = 'succeeded', finished_at = $2, updated_at = $2
		WHERE id = $1 AND state = 'active'
	`, id, now)
}

func (s *Postgres) RetryJob(ctx context.Context, id string, nextAttempt time.Time, lastErr string) (bool, error) {
	return s.guardedUpdate(ctx, `
		UPDATE jobs SET state = 'delayed', next_attempt_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'active'
	`, id, nextAttempt, lastErr)
}

func (s *Postgres) FailJob(ctx context.Context, id string, from models.JobState, now time.Time, lastErr string) (bool, error) {
	return s.guardedUpdate(ctx, `
		UPDATE jobs SET state = 'failed', finished_at = $2, last_error = $3, updated_at = $2
		WHERE id = $1 AND state = $4 AND state NOT IN ('succeeded', 'failed')
	`, id, now, lastErr, string(from))
}

func (s *Postgres) RequeueJob(ctx context.Context, id string) (bool, error) {
	return s.guardedUpdate(ctx, `
		UPDATE jobs SET state = 'waiting', updated_at = NOW()
		WHERE id = $1 AND state = 'active'
	`, id)
}

func (s *Postgres) guardedUpdate(ctx context.Context, sql string, args ...any) (bool, error) {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, args[0]).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *Postgres) CountJobs(ctx context.Context, since, hourAgo time.Time) (JobCounts, error) {
	var c JobCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'waiting'),
			COUNT(*) FILTER (WHERE state = 'active'),
			COUNT(*) FILTER (WHERE state = 'delayed'),
			COUNT(*) FILTER (WHERE state = 'succeeded' AND finished_at >= $1),
			COUNT(*) FILTER (WHERE state = 'failed' AND finished_at >= $1),
			COUNT(*) FILTER (WHERE state = 'failed' AND finished_at >= $2)
		FROM jobs
	`, since, hourAgo).Scan(&c.Waiting, &c.Active, &c.Delayed, &c.Processed, &c.Failed, &c.FailedLastHour)
	if err != nil {
		return JobCounts{}, fmt.Errorf("count jobs: %w", err)
	}
	return c, nil
}

func (s *Postgres) RecentFailures(ctx context.Context, since time.Time, limit int) ([]models.FailureRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, COALESCE(last_error, ''), finished_at
		FROM jobs WHERE state = 'failed' AND finished_at >= $1
		ORDER BY finished_at DESC, id DESC LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	out := make([]models.FailureRecord, 0)
	for rows.Next() {
		var rec models.FailureRecord
		if err := rows.Scan(&rec.JobID, &rec.OrderID, &rec.Error, &rec.At); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) PruneJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs WHERE state IN ('succeeded', 'failed') AND finished_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) AppendOutbox(ctx context.Context, e models.OutboxEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox (id, type, job_id, order_id, template_ref, channel, recipient, subject, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, string(e.Type), e.JobID, e.OrderID, e.TemplateRef, e.Channel, e.Recipient, e.Subject, e.At)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *Postgres) ListOutbox(ctx context.Context) ([]models.OutboxEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, job_id, order_id, template_ref, channel, recipient, subject, at
		FROM outbox ORDER BY at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	out := make([]models.OutboxEntry, 0)
	for rows.Next() {
		var e models.OutboxEntry
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.JobID, &e.OrderID, &e.TemplateRef, &e.Channel, &e.Recipient, &e.Subject, &e.At); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Type = models.JobKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) ClearOutbox(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM outbox`)
	return err
}

func (s *Postgres) CreateFile(ctx context.Context, rec models.FileRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (id, order_id, job_id, template_ref, mime, size, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.OrderID, rec.JobID, rec.TemplateRef, rec.Mime, rec.Size, rec.StorageKey, rec.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *Postgres) GetFile(ctx context.Context, id string) (models.FileRecord, error) {
	var rec models.FileRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, order_id, job_id, template_ref, mime, size, storage_key, created_at FROM files WHERE id = $1
	`, id).Scan(&rec.ID, &rec.OrderID, &rec.JobID, &rec.TemplateRef, &rec.Mime, &rec.Size, &rec.StorageKey, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FileRecord{}, ErrNotFound
	}
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("scan file: %w", err)
	}
	return rec, nil
}

func (s *Postgres) ListFiles(ctx context.Context, orderID string) ([]models.FileRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, job_id, template_ref, mime, size, storage_key, created_at
		FROM files WHERE order_id = $1 ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	out := make([]models.FileRecord, 0)
	for rows.Next() {
		var rec models.FileRecord
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.JobID, &rec.TemplateRef, &rec.Mime, &rec.Size, &rec.StorageKey, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanStatus(row pgx.Row) (models.StatusDefinition, error) {
	var def models.StatusDefinition
	var group string
	var actions []byte
	if err := row.Scan(&def.Code, &def.Name, &group, &def.Order, &actions, &def.System, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return models.StatusDefinition{}, err
	}
	def.Group = models.StatusGroup(group)
	if err := json.Unmarshal(actions, &def.Actions); err != nil {
		return models.StatusDefinition{}, fmt.Errorf("unmarshal actions: %w", err)
	}
	return def, nil
}

func scanTemplate(row pgx.Row) (models.Template, error) {
	var tpl models.Template
	var kind string
	var vars []byte
	if err := row.Scan(&tpl.ID, &kind, &tpl.Code, &tpl.Name, &tpl.Subject, &tpl.Body, &vars, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return models.Template{}, err
	}
	tpl.Kind = models.TemplateKind(kind)
	if err := json.Unmarshal(vars, &tpl.Variables); err != nil {
		return models.Template{}, fmt.Errorf("unmarshal variables: %w", err)
	}
	return tpl, nil
}

// scanJob populates a Job from columns in jobColumns order.
func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var kind, state string
	var lastErr pgtype.Text
	err := row.Scan(&job.ID, &kind, &job.OrderID, &job.TemplateRef, &job.Channel, &job.TransitionID, &job.DedupKey,
		&state, &job.Attempts, &job.MaxAttempts, &job.NextAttemptAt, &lastErr, &job.EnqueuedAt,
		&job.StartedAt, &job.FinishedAt, &job.UpdatedAt)
	if err != nil {
		return models.Job{}, err
	}
	job.Kind = models.JobKind(kind)
	job.State = models.JobState(state)
	job.LastError = textPtr(lastErr)
	return job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func nonNilActions(a []models.ActionSpec) []models.ActionSpec {
	if a == nil {
		return []models.ActionSpec{}
	}
	return a
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilFields(f map[string]string) map[string]string {
	if f == nil {
		return map[string]string{}
	}
	return f
}
