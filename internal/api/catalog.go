package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/character-tun/character-crm-sub000/internal/models"
)

func (s *Server) handleListStatuses(w http.ResponseWriter, r *http.Request) {
	defs, err := s.deps.Statuses.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": defs})
}

func (s *Server) handleCreateStatus(w http.ResponseWriter, r *http.Request) {
	var def models.StatusDefinition
	if err := decodeJSON(r, &def); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.deps.Statuses.Create(r.Context(), def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var def models.StatusDefinition
	if err := decodeJSON(r, &def); err != nil {
		s.writeError(w, r, err)
		return
	}
	def.Code = chi.URLParam(r, "code")
	updated, err := s.deps.Statuses.Update(r.Context(), def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Statuses.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func kindParam(r *http.Request) models.TemplateKind {
	return models.TemplateKind(chi.URLParam(r, "kind"))
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.deps.Templates.List(r.Context(), kindParam(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tpls})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.deps.Templates.Get(r.Context(), kindParam(r), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl models.Template
	if err := decodeJSON(r, &tpl); err != nil {
		s.writeError(w, r, err)
		return
	}
	tpl.Kind = kindParam(r)
	created, err := s.deps.Templates.Create(r.Context(), tpl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl models.Template
	if err := decodeJSON(r, &tpl); err != nil {
		s.writeError(w, r, err)
		return
	}
	tpl.Kind = kindParam(r)
	tpl.Code = chi.URLParam(r, "code")
	updated, err := s.deps.Templates.Update(r.Context(), tpl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Templates.Delete(r.Context(), kindParam(r), chi.URLParam(r, "code")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
