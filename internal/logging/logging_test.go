package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithAddsStructuredFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := With(New(buf, "debug", "json"), map[string]any{"order_id": "ord-1"})

	logger.Info("status changed")

	out := buf.String()
	assert.True(t, strings.Contains(out, "status changed"), out)
	assert.True(t, strings.Contains(out, "order_id"), out)
}

func TestWithNilLogger(t *testing.T) {
	assert.NotNil(t, With(nil, map[string]any{"a": 1}))
}
