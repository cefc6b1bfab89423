package models

import (
	"strings"
	"time"
)

// StatusGroup is a coarse lifecycle bucket used by the reopen policy.
type StatusGroup string

const (
	GroupDraft         StatusGroup = "draft"
	GroupInProgress    StatusGroup = "in_progress"
	GroupClosedSuccess StatusGroup = "closed_success"
	GroupClosedFail    StatusGroup = "closed_fail"
	GroupArchived      StatusGroup = "archived"
)

// Valid reports whether g is one of the known groups.
func (g StatusGroup) Valid() bool {
	switch g {
	case GroupDraft, GroupInProgress, GroupClosedSuccess, GroupClosedFail, GroupArchived:
		return true
	}
	return false
}

// Closed covers every group an order has to be reopened from.
func (g StatusGroup) Closed() bool {
	return g == GroupClosedSuccess || g == GroupClosedFail || g == GroupArchived
}

// Open covers the groups work happens in.
func (g StatusGroup) Open() bool {
	return g == GroupDraft || g == GroupInProgress
}

// ActionSpec is a side effect run when an order enters a status.
type ActionSpec struct {
	Type        JobKind `json:"type" yaml:"type"`
	TemplateRef string  `json:"templateRef" yaml:"template"`
	Channel     string  `json:"channel,omitempty" yaml:"channel,omitempty"`
}

// StatusDefinition is one entry of the status catalog.
type StatusDefinition struct {
	Code      string       `json:"code" yaml:"code"`
	Name      string       `json:"name" yaml:"name"`
	Group     StatusGroup  `json:"group" yaml:"group"`
	Order     int          `json:"order" yaml:"order"`
	Actions   []ActionSpec `json:"actions" yaml:"actions"`
	System    bool         `json:"system" yaml:"system"`
	CreatedAt time.Time    `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time    `json:"updatedAt" yaml:"-"`
}

// NormalizeCode lowercases and trims a status or template code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
