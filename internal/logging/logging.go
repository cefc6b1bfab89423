// Package logging builds the structured logger shared by the binaries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// New returns a go-logger instance writing to out (stdout when nil).
// format "console" switches from JSON lines to human readable output.
func New(out io.Writer, level, format string) glog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	level = strings.ToLower(level)
	if strings.EqualFold(format, "console") {
		return glog.NewLogger(glog.WithWriter(out), glog.WithLevel(level))
	}
	return glog.NewLogger(glog.WithWriter(out), glog.WithLoggerTypeJSON(), glog.WithLevel(level))
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() glog.Logger {
	return New(io.Discard, "error", "json")
}

// With attaches fields when the logger supports them.
func With(logger glog.Logger, fields map[string]any) glog.Logger {
	if logger == nil {
		return Discard()
	}
	if fl, ok := logger.(glog.FieldsLogger); ok && len(fields) > 0 {
		return fl.WithFields(fields)
	}
	return logger
}
