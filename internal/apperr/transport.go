package apperr

import (
	"net/http"
	"strings"
)

var httpStatusByCode = map[string]int{
	CodeUnknownStatus:    http.StatusUnprocessableEntity,
	CodePermissionDenied: http.StatusForbidden,
	CodeReopenForbidden:  http.StatusForbidden,
	CodeOrderNotFound:    http.StatusNotFound,
	CodeOrderConflict:    http.StatusConflict,
	CodeStatusConflict:   http.StatusConflict,
	CodeStatusInUse:      http.StatusConflict,
	CodeTemplateConflict: http.StatusConflict,
	CodeTemplateInUse:    http.StatusConflict,
	CodeTemplateNotFound: http.StatusNotFound,
	CodeUnknownTemplate:  http.StatusUnprocessableEntity,
	CodeJobNotFound:      http.StatusNotFound,
	CodeFileNotFound:     http.StatusNotFound,
	CodeValidation:       http.StatusBadRequest,
	CodeRateLimited:      http.StatusTooManyRequests,
}

// Envelope is the JSON error body returned by the HTTP API.
type Envelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HTTPStatus maps err to the status code the API responds with.
func HTTPStatus(err error) int {
	if status, ok := httpStatusByCode[strings.TrimSpace(Code(err))]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// EnvelopeFor builds the response body for err. Foreign errors are reported
// as Internal without leaking their text.
func EnvelopeFor(err error) Envelope {
	code := Code(err)
	if _, ok := httpStatusByCode[code]; !ok {
		return Envelope{Error: CodeInternal, Message: "internal error"}
	}
	env := Envelope{Error: code, Message: err.Error()}
	if ge := asAppError(err); ge != nil {
		env.Message = ge.Message
		if len(ge.Metadata) > 0 {
			env.Details = ge.Metadata
		}
	}
	return env
}
