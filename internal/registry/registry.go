// Package registry owns the ordered catalog of order statuses and the
// actions each status triggers.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-logger/glog"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/cache"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/store"
)

const listKey = "list"

// TemplateResolver checks that an action's template exists.
type TemplateResolver interface {
	Get(ctx context.Context, kind models.TemplateKind, ref string) (models.Template, error)
}

// Registry is the status catalog. Codes compare case-insensitively.
type Registry struct {
	repo      store.Statuses
	templates TemplateResolver
	cache     cache.Cache[[]models.StatusDefinition]
	ttl       time.Duration
	logger    glog.Logger
	now       func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithCache serves the status list from c for ttl.
func WithCache(c cache.Cache[[]models.StatusDefinition], ttl time.Duration) Option {
	return func(r *Registry) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger glog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New builds a Registry over repo. templates validates action specs.
func New(repo store.Statuses, templates TemplateResolver, opts ...Option) *Registry {
	r := &Registry{
		repo:      repo,
		templates: templates,
		cache:     cache.NewMemory[[]models.StatusDefinition](),
		ttl:       time.Minute,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	return r
}

// List returns every status ordered by Order then code.
func (r *Registry) List(ctx context.Context) ([]models.StatusDefinition, error) {
	return cache.ReadThrough(ctx, r.cache, listKey, r.ttl, func(ctx context.Context) ([]models.StatusDefinition, error) {
		defs, err := r.repo.ListStatuses(ctx)
		if err != nil {
			return nil, apperr.Wrap(err, "list statuses")
		}
		return defs, nil
	})
}

// Get resolves code case-insensitively. Unknown codes yield UnknownStatus.
func (r *Registry) Get(ctx context.Context, code string) (models.StatusDefinition, error) {
	defs, err := r.List(ctx)
	if err != nil {
		return models.StatusDefinition{}, err
	}
	norm := models.NormalizeCode(code)
	for _, def := range defs {
		if def.Code == norm {
			return def, nil
		}
	}
	return models.StatusDefinition{}, apperr.New(apperr.ErrUnknownStatus, "", map[string]any{"code": code})
}

// Create adds def to the catalog.
func (r *Registry) Create(ctx context.Context, def models.StatusDefinition) (models.StatusDefinition, error) {
	if err := r.validate(ctx, &def); err != nil {
		return models.StatusDefinition{}, err
	}
	now := r.now()
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := r.repo.CreateStatus(ctx, def); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return models.StatusDefinition{}, apperr.New(apperr.ErrStatusConflict, "", map[string]any{"code": def.Code})
		}
		return models.StatusDefinition{}, apperr.Wrap(err, "create status")
	}
	r.invalidate(ctx)
	return def, nil
}

// Update replaces name, group, order and actions of the status def.Code.
// The code itself cannot change and the system flag is preserved.
func (r *Registry) Update(ctx context.Context, def models.StatusDefinition) (models.StatusDefinition, error) {
	if err := r.validate(ctx, &def); err != nil {
		return models.StatusDefinition{}, err
	}
	existing, err := r.repo.GetStatus(ctx, def.Code)
	if errors.Is(err, store.ErrNotFound) {
		return models.StatusDefinition{}, apperr.New(apperr.ErrUnknownStatus, "", map[string]any{"code": def.Code})
	}
	if err != nil {
		return models.StatusDefinition{}, apperr.Wrap(err, "load status")
	}
	def.System = existing.System
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = r.now()
	if err := r.repo.UpdateStatus(ctx, def); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.StatusDefinition{}, apperr.New(apperr.ErrUnknownStatus, "", map[string]any{"code": def.Code})
		}
		return models.StatusDefinition{}, apperr.Wrap(err, "update status")
	}
	r.invalidate(ctx)
	return def, nil
}

// Delete removes a status that is neither a system status nor referenced
// by an order or the transition log.
func (r *Registry) Delete(ctx context.Context, code string) error {
	def, err := r.repo.GetStatus(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.ErrUnknownStatus, "", map[string]any{"code": code})
	}
	if err != nil {
		return apperr.Wrap(err, "load status")
	}
	if def.System {
		return apperr.New(apperr.ErrStatusInUse, "system statuses cannot be deleted", map[string]any{"code": def.Code})
	}
	referenced, err := r.repo.StatusReferenced(ctx, def.Code)
	if err != nil {
		return apperr.Wrap(err, "check status references")
	}
	if referenced {
		return apperr.New(apperr.ErrStatusInUse, "", map[string]any{"code": def.Code})
	}
	if err := r.repo.DeleteStatus(ctx, def.Code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.ErrUnknownStatus, "", map[string]any{"code": code})
		}
		return apperr.Wrap(err, "delete status")
	}
	r.invalidate(ctx)
	return nil
}

func (r *Registry) validate(ctx context.Context, def *models.StatusDefinition) error {
	def.Code = models.NormalizeCode(def.Code)
	def.Name = strings.TrimSpace(def.Name)
	if def.Code == "" {
		return apperr.New(apperr.ErrValidation, "status code is required", nil)
	}
	if def.Name == "" {
		def.Name = def.Code
	}
	if !def.Group.Valid() {
		return apperr.New(apperr.ErrValidation, "unknown status group", map[string]any{"code": def.Code, "group": def.Group})
	}
	def.Actions = append([]models.ActionSpec(nil), def.Actions...)
	for i, action := range def.Actions {
		if action.Type != models.JobNotify && action.Type != models.JobPrint {
			return apperr.New(apperr.ErrValidation, "unknown action type", map[string]any{"code": def.Code, "type": action.Type})
		}
		kind := models.TemplateKindFor(action.Type)
		tpl, err := r.templates.Get(ctx, kind, action.TemplateRef)
		if err != nil {
			if apperr.Is(err, apperr.CodeTemplateNotFound) {
				return apperr.New(apperr.ErrUnknownTemplate, "", map[string]any{
					"code": def.Code, "template": action.TemplateRef, "kind": kind,
				})
			}
			return err
		}
		def.Actions[i].TemplateRef = tpl.Code
		def.Actions[i].Channel = strings.TrimSpace(action.Channel)
	}
	return nil
}

func (r *Registry) invalidate(ctx context.Context) {
	if err := r.cache.InvalidateAll(ctx); err != nil {
		r.logger.Warn("status cache invalidation failed", "error", err)
	}
}
