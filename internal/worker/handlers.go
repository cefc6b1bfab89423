package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/filestore"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/notify"
	"github.com/character-tun/character-crm-sub000/internal/render"
	"github.com/character-tun/character-crm-sub000/internal/store"
	"github.com/character-tun/character-crm-sub000/internal/templates"
)

// TemplateSource resolves templates at execution time.
type TemplateSource interface {
	Get(ctx context.Context, kind models.TemplateKind, ref string) (models.Template, error)
}

// StatusSource names statuses for template variables.
type StatusSource interface {
	Get(ctx context.Context, code string) (models.StatusDefinition, error)
}

// Company is the sender identity exposed to templates as company.*.
type Company struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// Deps wires the executor to its collaborators. Notifier, Renderer and
// Files may be nil when the matching dry-run flag is set.
type Deps struct {
	Orders    store.Orders
	Templates TemplateSource
	Statuses  StatusSource
	Outbox    store.Outbox
	FileIndex store.Files
	Notifier  notify.Notifier
	Renderer  render.DocumentRenderer
	Files     filestore.FileStore
	Company   Company
	Logger    glog.Logger
}

// Executor runs notify and print jobs, or records them in the outbox when
// running dry.
type Executor struct {
	deps         Deps
	dryRunNotify bool
	dryRunPrint  bool
	now          func() time.Time
}

// NewExecutor builds an executor.
func NewExecutor(deps Deps, dryRunNotify, dryRunPrint bool) *Executor {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Executor{
		deps:         deps,
		dryRunNotify: dryRunNotify,
		dryRunPrint:  dryRunPrint,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Register binds the executor's handlers to p.
func (e *Executor) Register(p *Processor) {
	p.RegisterHandler(models.JobNotify, e.Notify)
	p.RegisterHandler(models.JobPrint, e.Print)
}

// Notify renders the notification template and sends it to the resolved
// recipient.
func (e *Executor) Notify(ctx context.Context, job models.Job) error {
	order, tpl, vars, err := e.prepare(ctx, job, models.TemplateNotify)
	if err != nil {
		return err
	}
	to, rerr := recipient(job.Channel, order.Client)
	subject := templates.Render(tpl.Subject, vars)
	body := templates.Render(tpl.Body, vars)

	if e.dryRunNotify {
		// Simulated sends are recorded even when no address resolves.
		if rerr != nil {
			e.deps.Logger.Warn("dry-run notification has no recipient", "job_id", job.ID, "order_id", job.OrderID, "error", rerr)
		}
		return e.appendOutbox(ctx, job, to, subject)
	}
	if rerr != nil {
		return apperr.Permanent(rerr)
	}
	if e.deps.Notifier == nil {
		return apperr.Permanent(errors.New("no notifier configured"))
	}
	msgID, err := e.deps.Notifier.Send(ctx, to, subject, body)
	if err != nil {
		return err
	}
	e.deps.Logger.Info("notification sent", "job_id", job.ID, "order_id", job.OrderID, "message_id", msgID)
	return nil
}

// Print renders the document template, stores the bytes and indexes the
// file against the order.
func (e *Executor) Print(ctx context.Context, job models.Job) error {
	_, tpl, vars, err := e.prepare(ctx, job, models.TemplateDoc)
	if err != nil {
		return err
	}
	html := templates.Render(tpl.Body, vars)

	if e.dryRunPrint {
		return e.appendOutbox(ctx, job, "", "")
	}
	if e.deps.Renderer == nil || e.deps.Files == nil || e.deps.FileIndex == nil {
		return apperr.Permanent(errors.New("no document pipeline configured"))
	}
	doc, mime, err := e.deps.Renderer.Render(ctx, html)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("orders/%s/%s-%s%s", job.OrderID, tpl.Code, job.ID, render.Extension(mime))
	storageKey, err := e.deps.Files.Put(ctx, key, mime, doc)
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	rec := models.FileRecord{
		ID:          uuid.NewString(),
		OrderID:     job.OrderID,
		JobID:       job.ID,
		TemplateRef: tpl.Code,
		Mime:        mime,
		Size:        int64(len(doc)),
		StorageKey:  storageKey,
		CreatedAt:   e.now(),
	}
	if err := e.deps.FileIndex.CreateFile(ctx, rec); err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	e.deps.Logger.Info("document stored", "job_id", job.ID, "order_id", job.OrderID, "file_id", rec.ID, "size", rec.Size)
	return nil
}

func (e *Executor) prepare(ctx context.Context, job models.Job, kind models.TemplateKind) (models.Order, models.Template, map[string]string, error) {
	tpl, err := e.deps.Templates.Get(ctx, kind, job.TemplateRef)
	if err != nil {
		if apperr.Is(err, apperr.CodeTemplateNotFound) {
			return models.Order{}, models.Template{}, nil, apperr.Permanent(err)
		}
		return models.Order{}, models.Template{}, nil, err
	}
	order, err := e.deps.Orders.GetOrder(ctx, job.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Order{}, models.Template{}, nil, apperr.Permanent(apperr.New(apperr.ErrOrderNotFound, "", map[string]any{"order": job.OrderID}))
	}
	if err != nil {
		return models.Order{}, models.Template{}, nil, fmt.Errorf("load order: %w", err)
	}
	statusName := order.StatusCode
	if e.deps.Statuses != nil && order.StatusCode != "" {
		if def, err := e.deps.Statuses.Get(ctx, order.StatusCode); err == nil {
			statusName = def.Name
		}
	}
	return order, tpl, Variables(order, statusName, e.deps.Company, e.now()), nil
}

func (e *Executor) appendOutbox(ctx context.Context, job models.Job, to, subject string) error {
	entry := models.OutboxEntry{
		ID:          uuid.NewString(),
		Type:        job.Kind,
		JobID:       job.ID,
		OrderID:     job.OrderID,
		TemplateRef: job.TemplateRef,
		Channel:     job.Channel,
		Recipient:   to,
		Subject:     subject,
		At:          e.now(),
	}
	if err := e.deps.Outbox.AppendOutbox(ctx, entry); err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}

// Variables builds the substitution context for order templates.
func Variables(order models.Order, statusName string, company Company, now time.Time) map[string]string {
	vars := map[string]string{
		"order.id":          order.ID,
		"order.number":      order.Number,
		"order.status":      order.StatusCode,
		"order.status_name": statusName,
		"order.amount":      strconv.FormatFloat(order.Amount, 'f', 2, 64),
		"order.created_at":  order.CreatedAt.Format(time.RFC3339),
		"client.name":       order.Client.Name,
		"client.email":      order.Client.Email,
		"client.phone":      order.Client.Phone,
		"company.name":      company.Name,
		"company.email":     company.Email,
		"company.phone":     company.Phone,
		"company.address":   company.Address,
		"now":               now.Format(time.RFC3339),
		"date":              now.Format("2006-01-02"),
	}
	for k, v := range order.Fields {
		key := "order." + k
		if _, taken := vars[key]; !taken {
			vars[key] = v
		}
	}
	return vars
}

// recipient resolves the address a notify action goes to.
func recipient(channel string, client models.Client) (string, error) {
	channel = strings.TrimSpace(channel)
	switch {
	case channel == "" || strings.EqualFold(channel, "email"):
		if client.Email == "" {
			return "", errors.New("client has no email address")
		}
		return client.Email, nil
	case strings.Contains(channel, "@"):
		return channel, nil
	}
	return "", fmt.Errorf("unsupported notification channel %q", channel)
}
