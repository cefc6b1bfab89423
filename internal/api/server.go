package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-logger/glog"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/engine"
	"github.com/character-tun/character-crm-sub000/internal/filestore"
	"github.com/character-tun/character-crm-sub000/internal/logging"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/queue"
	"github.com/character-tun/character-crm-sub000/internal/ratelimit"
	"github.com/character-tun/character-crm-sub000/internal/store"
	"github.com/character-tun/character-crm-sub000/internal/telemetry"
)

// Transitioner accepts status change requests.
type Transitioner interface {
	RequestTransition(ctx context.Context, req engine.TransitionRequest) (engine.TransitionResult, error)
}

// StatusAdmin manages the status catalog.
type StatusAdmin interface {
	List(ctx context.Context) ([]models.StatusDefinition, error)
	Get(ctx context.Context, code string) (models.StatusDefinition, error)
	Create(ctx context.Context, def models.StatusDefinition) (models.StatusDefinition, error)
	Update(ctx context.Context, def models.StatusDefinition) (models.StatusDefinition, error)
	Delete(ctx context.Context, code string) error
}

// TemplateAdmin manages templates.
type TemplateAdmin interface {
	List(ctx context.Context, kind models.TemplateKind) ([]models.Template, error)
	Get(ctx context.Context, kind models.TemplateKind, ref string) (models.Template, error)
	Create(ctx context.Context, tpl models.Template) (models.Template, error)
	Update(ctx context.Context, tpl models.Template) (models.Template, error)
	Delete(ctx context.Context, kind models.TemplateKind, code string) error
}

// QueueReader exposes job inspection and metrics.
type QueueReader interface {
	Get(ctx context.Context, id string) (models.Job, error)
	Metrics(ctx context.Context, lastN int) (queue.Metrics, error)
}

// Deps wires the server. Limiter may be nil to disable rate limiting.
type Deps struct {
	Engine      Transitioner
	Statuses    StatusAdmin
	Templates   TemplateAdmin
	Queue       QueueReader
	Orders      store.Orders
	Transitions store.Transitions
	Outbox      store.Outbox
	Files       store.Files
	FileStore   filestore.FileStore
	Limiter     ratelimit.Limiter
	Logger      glog.Logger
}

// Server wires HTTP handlers for the CRM status API.
type Server struct {
	deps   Deps
	logger glog.Logger
}

// New constructs the API server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{deps: deps, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.handleCreateOrder)
		r.Get("/{id}", s.handleGetOrder)
		r.Post("/{id}/status", s.handleTransition)
		r.Get("/{id}/transitions", s.handleTransitions)
		r.Get("/{id}/files", s.handleOrderFiles)
	})

	r.Route("/queue", func(r chi.Router) {
		r.Get("/metrics", s.handleQueueMetrics)
		r.Get("/jobs/{id}", s.handleGetJob)
	})

	r.Get("/files/{id}", s.handleDownload)

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Get("/outbox", s.handleListOutbox)
		r.Delete("/outbox", s.handleClearOutbox)
	})

	r.Route("/statuses", func(r chi.Router) {
		r.Get("/", s.handleListStatuses)
		r.With(requireAdmin).Post("/", s.handleCreateStatus)
		r.With(requireAdmin).Put("/{code}", s.handleUpdateStatus)
		r.With(requireAdmin).Delete("/{code}", s.handleDeleteStatus)
	})

	r.Route("/templates/{kind}", func(r chi.Router) {
		r.Get("/", s.handleListTemplates)
		r.Get("/{code}", s.handleGetTemplate)
		r.With(requireAdmin).Post("/", s.handleCreateTemplate)
		r.With(requireAdmin).Put("/{code}", s.handleUpdateTemplate)
		r.With(requireAdmin).Delete("/{code}", s.handleDeleteTemplate)
	})
	return r
}

func (s *Server) handleListOutbox(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Outbox.ListOutbox(r.Context())
	if err != nil {
		s.writeError(w, r, apperr.Wrap(err, "list outbox"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (s *Server) handleClearOutbox(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Outbox.ClearOutbox(r.Context()); err != nil {
		s.writeError(w, r, apperr.Wrap(err, "clear outbox"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		return apperr.New(apperr.ErrValidation, "invalid json", map[string]any{"cause": err.Error()})
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, apperr.EnvelopeFor(err))
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
