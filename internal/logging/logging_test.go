package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"polychat/internal/config"
)

func TestRedact(t *testing.T) {
	require.Equal(t, "key [REDACTED] end", Redact("key sk-abcdefgh12345678 end"))
	require.Equal(t, "[REDACTED]", Redact("AIzaSyA1234567890abcdefghij"))
	require.Equal(t, "sk-short", Redact("sk-short"))
}

func TestLoggerRedactsAttributesAndMessage(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("using sk-proj-0123456789",
		"header", "Bearer sk-proj-0123456789",
		"err", errors.New(`Post "https://x/?key=AIzaSyA1234567890abcdefghij": timeout`),
		"model", "gpt-4o",
	)

	out := buf.String()
	require.NotContains(t, out, "sk-proj-0123456789")
	require.NotContains(t, out, "AIzaSyA1234567890abcdefghij")
	require.Contains(t, out, "gpt-4o")
	require.Contains(t, out, redacted)
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "text"}, &bytes.Buffer{})
	require.Error(t, err)

	_, err = New(config.LoggingConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}
