package models

import "time"

// TemplateKind separates notification templates from document templates.
type TemplateKind string

const (
	TemplateNotify TemplateKind = "notify"
	TemplateDoc    TemplateKind = "doc"
)

// Valid reports whether k is a known template kind.
func (k TemplateKind) Valid() bool {
	return k == TemplateNotify || k == TemplateDoc
}

// TemplateKindFor returns the template kind an action of type t renders.
func TemplateKindFor(t JobKind) TemplateKind {
	if t == JobPrint {
		return TemplateDoc
	}
	return TemplateNotify
}

// Template holds a notification or document body with {{variable}} tokens.
type Template struct {
	ID        string       `json:"id"`
	Code      string       `json:"code" yaml:"code"`
	Kind      TemplateKind `json:"kind" yaml:"kind"`
	Name      string       `json:"name" yaml:"name"`
	Subject   string       `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body      string       `json:"body" yaml:"body"`
	Variables []string     `json:"variables"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
