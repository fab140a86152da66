package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Logger = (*SquadLogger)(nil)
	_ Logger = NoOpLogger{}
)

func newBufferLogger(level LogLevel) (*SquadLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	cfg.Output = buf
	cfg.AddSource = false
	return NewLogger(cfg), buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	return m
}

func TestSquadLogger_KeyValueArgs(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)
	l.WithComponent("session").Info("turn started", "session", "backend", "generation", 3)

	m := decodeLine(t, buf)
	assert.Equal(t, "turn started", m["msg"])
	assert.Equal(t, "session", m["component"])
	assert.Equal(t, "backend", m["session"])
	assert.EqualValues(t, 3, m["generation"])
}

func TestForComponent(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	l.component = "agentsquad"

	ForComponent(l, "store").Info("snapshot saved")
	m := decodeLine(t, buf)
	assert.Equal(t, "store", m["component"])

	buf.Reset()
	l.Info("unchanged")
	m = decodeLine(t, buf)
	assert.Equal(t, "agentsquad", m["component"])

	assert.Equal(t, Logger(NoOpLogger{}), ForComponent(NoOpLogger{}, "store"))
}

func TestSquadLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestSquadLogger_LogTurnFailure(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	l.LogTurn("frontend", 7, time.Second, true, errors.New("stuck"))

	m := decodeLine(t, buf)
	assert.Equal(t, "Turn failed", m["msg"])
	assert.Equal(t, "ERROR", m["level"])
	assert.Equal(t, "stuck", m["error"])
	assert.Equal(t, false, m["success"])
}

func TestSquadLogger_CustomAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Output = buf
	cfg.AddSource = false
	cfg.CustomAttrs["deployment"] = "test"
	NewLogger(cfg).Info("hello")

	m := decodeLine(t, buf)
	assert.Equal(t, "test", m["deployment"])
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "ERROR", LogLevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}
