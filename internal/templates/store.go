// Package templates manages the notification and document templates that
// status actions render.
package templates

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/cache"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/store"
)

// Store is the template catalog. Lists are served from a namespace cache
// that is dropped after every write.
type Store struct {
	repo     store.Templates
	statuses store.Statuses
	cache    cache.Cache[[]models.Template]
	ttl      time.Duration
	logger   glog.Logger
	now      func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithCache serves lists from c for ttl.
func WithCache(c cache.Cache[[]models.Template], ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger glog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a Store over repo. statuses backs the delete guard.
func New(repo store.Templates, statuses store.Statuses, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		statuses: statuses,
		cache:    cache.NewMemory[[]models.Template](),
		ttl:      time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// List returns every template of kind, ordered by code.
func (s *Store) List(ctx context.Context, kind models.TemplateKind) ([]models.Template, error) {
	if !kind.Valid() {
		return nil, apperr.New(apperr.ErrValidation, "unknown template kind", map[string]any{"kind": kind})
	}
	return cache.ReadThrough(ctx, s.cache, "list:"+string(kind), s.ttl, func(ctx context.Context) ([]models.Template, error) {
		tpls, err := s.repo.ListTemplates(ctx, kind)
		if err != nil {
			return nil, apperr.Wrap(err, "list templates")
		}
		return tpls, nil
	})
}

// Get resolves ref as a template code (case-insensitive) or id.
func (s *Store) Get(ctx context.Context, kind models.TemplateKind, ref string) (models.Template, error) {
	tpls, err := s.List(ctx, kind)
	if err != nil {
		return models.Template{}, err
	}
	code := models.NormalizeCode(ref)
	for _, tpl := range tpls {
		if tpl.Code == code || tpl.ID == ref {
			return tpl, nil
		}
	}
	return models.Template{}, apperr.New(apperr.ErrTemplateNotFound, "", map[string]any{"kind": kind, "ref": ref})
}

// Create validates and stores tpl, deriving its variables.
func (s *Store) Create(ctx context.Context, tpl models.Template) (models.Template, error) {
	if err := validate(&tpl); err != nil {
		return models.Template{}, err
	}
	now := s.now()
	tpl.ID = uuid.NewString()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	if err := s.repo.CreateTemplate(ctx, tpl); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return models.Template{}, apperr.New(apperr.ErrTemplateConflict, "", map[string]any{"kind": tpl.Kind, "code": tpl.Code})
		}
		return models.Template{}, apperr.Wrap(err, "create template")
	}
	s.invalidate(ctx)
	return tpl, nil
}

// Update replaces name, subject and body of the template kind/code.
func (s *Store) Update(ctx context.Context, tpl models.Template) (models.Template, error) {
	if err := validate(&tpl); err != nil {
		return models.Template{}, err
	}
	existing, err := s.repo.GetTemplate(ctx, tpl.Kind, tpl.Code)
	if errors.Is(err, store.ErrNotFound) {
		return models.Template{}, apperr.New(apperr.ErrTemplateNotFound, "", map[string]any{"kind": tpl.Kind, "ref": tpl.Code})
	}
	if err != nil {
		return models.Template{}, apperr.Wrap(err, "load template")
	}
	tpl.ID = existing.ID
	tpl.CreatedAt = existing.CreatedAt
	tpl.UpdatedAt = s.now()
	if err := s.repo.UpdateTemplate(ctx, tpl); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Template{}, apperr.New(apperr.ErrTemplateNotFound, "", map[string]any{"kind": tpl.Kind, "ref": tpl.Code})
		}
		return models.Template{}, apperr.Wrap(err, "update template")
	}
	s.invalidate(ctx)
	return tpl, nil
}

// Delete removes a template no status action refers to.
func (s *Store) Delete(ctx context.Context, kind models.TemplateKind, code string) error {
	if !kind.Valid() {
		return apperr.New(apperr.ErrValidation, "unknown template kind", map[string]any{"kind": kind})
	}
	tpl, err := s.repo.GetTemplate(ctx, kind, code)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.ErrTemplateNotFound, "", map[string]any{"kind": kind, "ref": code})
	}
	if err != nil {
		return apperr.Wrap(err, "load template")
	}

	defs, err := s.statuses.ListStatuses(ctx)
	if err != nil {
		return apperr.Wrap(err, "list statuses")
	}
	for _, def := range defs {
		for _, action := range def.Actions {
			if models.TemplateKindFor(action.Type) != kind {
				continue
			}
			if models.NormalizeCode(action.TemplateRef) == tpl.Code || action.TemplateRef == tpl.ID {
				return apperr.New(apperr.ErrTemplateInUse, "", map[string]any{"template": tpl.Code, "status": def.Code})
			}
		}
	}

	if err := s.repo.DeleteTemplate(ctx, kind, tpl.Code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.ErrTemplateNotFound, "", map[string]any{"kind": kind, "ref": code})
		}
		return apperr.Wrap(err, "delete template")
	}
	s.invalidate(ctx)
	return nil
}

func (s *Store) invalidate(ctx context.Context) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Warn("template cache invalidation failed", "error", err)
	}
}

func validate(tpl *models.Template) error {
	tpl.Code = models.NormalizeCode(tpl.Code)
	switch {
	case !tpl.Kind.Valid():
		return apperr.New(apperr.ErrValidation, "unknown template kind", map[string]any{"kind": tpl.Kind})
	case tpl.Code == "":
		return apperr.New(apperr.ErrValidation, "template code is required", nil)
	case blank(tpl.Body):
		return apperr.New(apperr.ErrValidation, "template body is required", map[string]any{"code": tpl.Code})
	}
	if tpl.Kind != models.TemplateNotify {
		tpl.Subject = ""
	}
	if blank(tpl.Name) {
		tpl.Name = tpl.Code
	}
	tpl.Variables = Variables(tpl.Subject, tpl.Body)
	return nil
}
