package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/engine"
	"github.com/character-tun/character-crm-sub000/internal/filestore"
	"github.com/character-tun/character-crm-sub000/internal/models"
	"github.com/character-tun/character-crm-sub000/internal/queue"
	"github.com/character-tun/character-crm-sub000/internal/store"
	"github.com/character-tun/character-crm-sub000/internal/telemetry"
)

type transitionRequest struct {
	NewStatusCode string `json:"newStatusCode"`
	Note          string `json:"note"`
	FromStatus    string `json:"fromStatus"`
}

type transitionResponse struct {
	OK     bool     `json:"ok"`
	LogID  string   `json:"logId"`
	JobIDs []string `json:"jobIds"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if trimmed(req.NewStatusCode) == "" {
		s.writeError(w, r, apperr.New(apperr.ErrValidation, "newStatusCode is required", nil))
		return
	}
	who := callerFrom(r)
	if s.deps.Limiter != nil {
		key := who.UserID
		if key == "" {
			key = "anonymous"
		}
		allowed, _, err := s.deps.Limiter.Allow(r.Context(), key)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing request", "error", err)
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			s.writeError(w, r, apperr.New(apperr.ErrRateLimited, "", map[string]any{"user": key}))
			return
		}
	}

	res, err := s.deps.Engine.RequestTransition(r.Context(), engine.TransitionRequest{
		OrderID:        chi.URLParam(r, "id"),
		FromStatusHint: req.FromStatus,
		ToStatusCode:   req.NewStatusCode,
		UserID:         who.UserID,
		Capabilities:   who.capabilities(),
		Note:           req.Note,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{OK: true, LogID: res.LogEntry.ID, JobIDs: res.JobIDs})
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.loadOrder(w, r, id); !ok {
		return
	}
	entries, err := s.deps.Transitions.ListTransitions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(err, "list transitions"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

type createOrderRequest struct {
	ID     string            `json:"id"`
	Number string            `json:"number"`
	Status string            `json:"status"`
	Client models.Client     `json:"client"`
	Amount float64           `json:"amount"`
	Fields map[string]string `json:"fields"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order := models.Order{
		ID:     trimmed(req.ID),
		Number: trimmed(req.Number),
		Client: req.Client,
		Amount: req.Amount,
		Fields: req.Fields,
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Number == "" {
		order.Number = order.ID
	}
	if code := trimmed(req.Status); code != "" {
		def, err := s.deps.Statuses.Get(r.Context(), code)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		order.StatusCode = def.Code
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := s.deps.Orders.CreateOrder(r.Context(), order); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			s.writeError(w, r, apperr.New(apperr.ErrOrderConflict, "", map[string]any{"order": order.ID}))
			return
		}
		s.writeError(w, r, apperr.Wrap(err, "create order"))
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadOrder(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleOrderFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.loadOrder(w, r, id); !ok {
		return
	}
	files, err := s.deps.Files.ListFiles(r.Context(), id)
	if err != nil {
		s.writeError(w, r, apperr.Wrap(err, "list files"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": files})
}

func (s *Server) loadOrder(w http.ResponseWriter, r *http.Request, id string) (models.Order, bool) {
	order, err := s.deps.Orders.GetOrder(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, r, apperr.New(apperr.ErrOrderNotFound, "", map[string]any{"order": id}))
		return models.Order{}, false
	}
	if err != nil {
		s.writeError(w, r, apperr.Wrap(err, "load order"))
		return models.Order{}, false
	}
	return order, true
}

func (s *Server) handleQueueMetrics(w http.ResponseWriter, r *http.Request) {
	lastN := queue.DefaultLastN
	if raw := r.URL.Query().Get("lastN"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, apperr.New(apperr.ErrValidation, "lastN must be a non-negative integer", map[string]any{"lastN": raw}))
			return
		}
		lastN = n
	}
	m, err := s.deps.Queue.Metrics(r.Context(), lastN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.deps.Files.GetFile(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, r, apperr.New(apperr.ErrFileNotFound, "", map[string]any{"id": id}))
		return
	}
	if err != nil {
		s.writeError(w, r, apperr.Wrap(err, "load file"))
		return
	}
	body, err := s.deps.FileStore.Open(r.Context(), rec.StorageKey)
	if errors.Is(err, filestore.ErrNotFound) {
		s.writeError(w, r, apperr.New(apperr.ErrFileNotFound, "stored bytes are missing", map[string]any{"id": id}))
		return
	}
	if err != nil {
		s.writeError(w, r, apperr.Wrap(err, "open file"))
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", rec.Mime)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s-%s"`, rec.TemplateRef, rec.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("file stream interrupted", "file_id", id, "error", err)
	}
}
