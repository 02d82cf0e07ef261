// ABOUTME: Tests for logger construction and the color handler
// ABOUTME: Color output is disabled so assertions can match plain text

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")
	logger.With("component", "relay").Info("principal online", "principal", "seller-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "principal online", rec["msg"])
	assert.Equal(t, "relay", rec["component"])
	assert.Equal(t, "seller-1", rec["principal"])
}

func TestColorHandler_Text(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := New(&buf, "warn", "text")

	logger.Info("hidden")
	logger.With("component", "session").Warn("reconnecting", "attempt", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN reconnecting")
	assert.Contains(t, out, " component=session")
	assert.Contains(t, out, " attempt=3")
}

func TestColorHandler_Groups(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := slog.New(NewColorHandler(&buf, slog.LevelDebug))
	logger.WithGroup("http").Debug("request", "path", "/health")

	assert.Contains(t, buf.String(), "DBG request")
	assert.Contains(t, buf.String(), " http.path=/health")
}
