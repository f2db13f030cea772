package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_RedactsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")

	logger.Info("provider configured",
		"provider", "iletimerkezi",
		"hash", "s3cr3t-hash",
		"db_password", "hunter2",
		"Authorization", "Bearer sms-live-abc",
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "iletimerkezi", entry["provider"])
	assert.Equal(t, redacted, entry["hash"])
	assert.Equal(t, redacted, entry["db_password"])
	assert.Equal(t, redacted, entry["Authorization"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestNewLogger_RedactsInsideGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")

	logger.Info("auth", slog.Group("credentials", slog.String("api_key", "k"), slog.String("user", "u")))

	out := buf.String()
	assert.NotContains(t, out, `"api_key":"k"`)
	assert.Contains(t, out, `"user":"u"`)
}

func TestNewLogger_TextFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("shown", "to", "****4567")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "msg=shown"), "expected text output, got %q", out)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}
