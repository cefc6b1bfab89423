// Package apperr defines the error taxonomy shared by the engine, the
// registries and the HTTP boundary.
package apperr

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	CodeUnknownStatus    = "UnknownStatus"
	CodePermissionDenied = "PermissionDenied"
	CodeReopenForbidden  = "ReopenForbidden"
	CodeOrderNotFound    = "OrderNotFound"
	CodeOrderConflict    = "OrderConflict"
	CodeStatusConflict   = "StatusConflict"
	CodeStatusInUse      = "StatusInUse"
	CodeTemplateConflict = "TemplateConflict"
	CodeTemplateInUse    = "TemplateInUse"
	CodeTemplateNotFound = "TemplateNotFound"
	CodeUnknownTemplate  = "UnknownTemplate"
	CodeJobNotFound      = "JobNotFound"
	CodeFileNotFound     = "FileNotFound"
	CodeValidation       = "Validation"
	CodeRateLimited      = "RateLimited"
	CodeInternal         = "Internal"
)

var (
	ErrUnknownStatus = apperrors.New("unknown status", apperrors.CategoryBadInput).
				WithTextCode(CodeUnknownStatus)
	ErrPermissionDenied = apperrors.New("permission denied", apperrors.CategoryBadInput).
				WithTextCode(CodePermissionDenied)
	ErrReopenForbidden = apperrors.New("reopening a closed order requires the reopen permission", apperrors.CategoryBadInput).
				WithTextCode(CodeReopenForbidden)
	ErrOrderNotFound = apperrors.New("order not found", apperrors.CategoryBadInput).
				WithTextCode(CodeOrderNotFound)
	ErrOrderConflict = apperrors.New("order already exists", apperrors.CategoryConflict).
				WithTextCode(CodeOrderConflict)
	ErrStatusConflict = apperrors.New("status code already exists", apperrors.CategoryConflict).
				WithTextCode(CodeStatusConflict)
	ErrStatusInUse = apperrors.New("status is referenced by transition history", apperrors.CategoryConflict).
			WithTextCode(CodeStatusInUse)
	ErrTemplateConflict = apperrors.New("template code already exists", apperrors.CategoryConflict).
				WithTextCode(CodeTemplateConflict)
	ErrTemplateInUse = apperrors.New("template is referenced by a status action", apperrors.CategoryConflict).
				WithTextCode(CodeTemplateInUse)
	ErrTemplateNotFound = apperrors.New("template not found", apperrors.CategoryBadInput).
				WithTextCode(CodeTemplateNotFound)
	ErrUnknownTemplate = apperrors.New("action references an unknown template", apperrors.CategoryValidation).
				WithTextCode(CodeUnknownTemplate)
	ErrJobNotFound = apperrors.New("job not found", apperrors.CategoryBadInput).
			WithTextCode(CodeJobNotFound)
	ErrFileNotFound = apperrors.New("file not found", apperrors.CategoryBadInput).
			WithTextCode(CodeFileNotFound)
	ErrValidation = apperrors.New("validation failed", apperrors.CategoryValidation).
			WithTextCode(CodeValidation)
	ErrRateLimited = apperrors.New("rate limited", apperrors.CategoryBadInput).
			WithTextCode(CodeRateLimited)
)

// New clones base with an occurrence-specific message and metadata.
func New(base *apperrors.Error, message string, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrValidation
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// Wrap marks an infrastructure failure as external.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(err, apperrors.CategoryExternal, message)
}

// Code returns the text code carried by err, or "" for foreign errors.
func Code(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// Is reports whether err carries the given text code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// PermanentError marks a job failure that must not be retried.
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string { return e.Cause.Error() }
func (e *PermanentError) Unwrap() error { return e.Cause }

// Permanent wraps err so the queue fails the job without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return stderrors.As(err, &pe)
}

func asAppError(err error) *apperrors.Error {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge
	}
	return nil
}
