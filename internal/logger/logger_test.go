package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"off", LevelNone},
		{" Error ", LevelError},
		{"invalid", LevelInfo}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNewLoggerWritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "client.log")

	l, err := New(LevelInfo, logPath, "session")
	require.NoError(t, err)

	l.Info("connected to %s", "ws://localhost")
	l.Debug("should not appear")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	text := string(content)
	assert.Contains(t, text, "[INFO] [session] connected to ws://localhost")
	assert.NotContains(t, text, "should not appear")
}

func TestLoggerWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelDebug, &buf, "session")

	l.WithPrefix("reconnect").Warn("attempt %d", 3)

	assert.Contains(t, buf.String(), "[session:reconnect] attempt 3")
}

func TestLoggerDisabled(t *testing.T) {
	l, err := New(LevelNone, "", "test")
	require.NoError(t, err)
	defer l.Close()

	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "")

	l.Debug("debug1")
	l.SetLevel(LevelDebug)
	l.Debug("debug2")

	assert.NotContains(t, buf.String(), "debug1")
	assert.Contains(t, buf.String(), "debug2")
	assert.Equal(t, LevelDebug, l.GetLevel())
}

func TestGlobalLogger(t *testing.T) {
	require.NotNil(t, Global())

	// Should not panic before Init
	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
}

func TestSlogHandlerFormatsAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "transfer")

	log := Slog(l).With("file_id", "abc").WithGroup("chunk")
	log.Info("sent", "index", 2, "name", "my file.txt")
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[transfer] sent file_id=abc chunk.index=2")
	assert.Contains(t, lines[0], `chunk.name="my file.txt"`)
}
