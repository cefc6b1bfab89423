package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "reopen", err: New(ErrReopenForbidden, "", nil), status: http.StatusForbidden},
		{name: "unknown status", err: New(ErrUnknownStatus, "no status x", nil), status: http.StatusUnprocessableEntity},
		{name: "template in use", err: ErrTemplateInUse, status: http.StatusConflict},
		{name: "wrapped", err: fmt.Errorf("outer: %w", New(ErrOrderNotFound, "", nil)), status: http.StatusNotFound},
		{name: "foreign", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestNewDoesNotMutateSentinel(t *testing.T) {
	err := New(ErrUnknownStatus, "status \"nope\" is not defined", map[string]any{"code": "nope"})
	require.Equal(t, CodeUnknownStatus, Code(err))
	assert.Equal(t, "unknown status", ErrUnknownStatus.Message)
	assert.Equal(t, "status \"nope\" is not defined", err.Message)

	env := EnvelopeFor(err)
	assert.Equal(t, CodeUnknownStatus, env.Error)
	assert.Equal(t, "nope", env.Details["code"])
}

func TestEnvelopeHidesForeignErrors(t *testing.T) {
	env := EnvelopeFor(errors.New("pq: connection refused"))
	assert.Equal(t, CodeInternal, env.Error)
	assert.Equal(t, "internal error", env.Message)
}

func TestPermanent(t *testing.T) {
	base := errors.New("template missing")
	err := fmt.Errorf("print: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}
