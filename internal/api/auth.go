package api

import (
	"net/http"
	"strings"

	"github.com/character-tun/character-crm-sub000/internal/apperr"
	"github.com/character-tun/character-crm-sub000/internal/engine"
)

const (
	headerUserID       = "X-User-ID"
	headerCapabilities = "X-User-Capabilities"

	capChangeStatus = "status:change"
	capReopen       = "status:reopen"
	capAdmin        = "admin"
)

// caller is the identity the upstream gateway attached to the request.
type caller struct {
	UserID string
	caps   map[string]bool
}

func callerFrom(r *http.Request) caller {
	c := caller{UserID: strings.TrimSpace(r.Header.Get(headerUserID)), caps: make(map[string]bool)}
	for _, part := range strings.Split(r.Header.Get(headerCapabilities), ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			c.caps[p] = true
		}
	}
	return c
}

func (c caller) admin() bool { return c.caps[capAdmin] }

// capabilities maps the caller onto the engine's permission model. Admins
// hold every capability.
func (c caller) capabilities() engine.Capabilities {
	return engine.Capabilities{
		ChangeStatus: c.admin() || c.caps[capChangeStatus],
		Reopen:       c.admin() || c.caps[capReopen],
	}
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !callerFrom(r).admin() {
			writeJSON(w, http.StatusForbidden, apperr.EnvelopeFor(apperr.New(apperr.ErrPermissionDenied, "admin capability required", nil)))
			return
		}
		next.ServeHTTP(w, r)
	})
}
