package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.String())
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.SlogLevel())
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	require := assert.New(t)
	require.NotNil(defaultLogger)

	Info("test-subsystem", "test message")

	output := buf.String()
	require.Contains(output, "test message")
	require.Contains(output, "test-subsystem")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	assert.False(t, strings.Contains(output, "debug message"), "debug message should be filtered at INFO level")
	assert.True(t, strings.Contains(output, "info message"))
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Audit(AuditEvent{
		Action:  "provider_restart",
		Outcome: "success",
		Target:  "math-provider",
		Details: "forced by operator",
	})

	output := buf.String()
	assert.Contains(t, output, "[AUDIT]")
	assert.Contains(t, output, "action=provider_restart")
	assert.Contains(t, output, "outcome=success")
	assert.Contains(t, output, "target=math-provider")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", TruncateID("short"))
	assert.Equal(t, "12345678...", TruncateID("123456789012345"))
}
