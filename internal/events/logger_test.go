package events_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinsync/skein/internal/events"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, events.DebugLevel, events.ParseLevel("debug"))
	assert.Equal(t, events.WarnLevel, events.ParseLevel("WARN"))
	assert.Equal(t, events.WarnLevel, events.ParseLevel("warning"))
	assert.Equal(t, events.ErrorLevel, events.ParseLevel("error"))
	assert.Equal(t, events.InfoLevel, events.ParseLevel("anything else"))
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  events.LogLevel
		msgLevel  events.LogLevel
		shouldLog bool
	}{
		{"debug logger, debug message", events.DebugLevel, events.DebugLevel, true},
		{"debug logger, info message", events.DebugLevel, events.InfoLevel, true},
		{"info logger, debug message", events.InfoLevel, events.DebugLevel, false},
		{"info logger, info message", events.InfoLevel, events.InfoLevel, true},
		{"error logger, warn message", events.ErrorLevel, events.WarnLevel, false},
		{"error logger, error message", events.ErrorLevel, events.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := events.NewLogger(tt.logLevel, "text", &buf)

			switch tt.msgLevel {
			case events.DebugLevel:
				logger.Debug("test debug")
			case events.InfoLevel:
				logger.Info("test info")
			case events.WarnLevel:
				logger.Warn("test warn")
			default:
				logger.Error("test error")
			}

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewLogger(events.InfoLevel, "json", &buf)

	logger.WithField("handle", "00000000000000ff").Info("node created")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "node created", entry["msg"])
	assert.Equal(t, "00000000000000ff", entry["handle"])
	assert.NotEmpty(t, entry["time"])
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewLogger(events.InfoLevel, "text", &buf)

	logger.WithFields(map[string]interface{}{
		"b_second": 2,
		"a_first":  1,
	}).Warn("ordered fields")

	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "ordered fields")
	// Fields render sorted by key.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("a_first=1")), bytes.Index(buf.Bytes(), []byte("b_second=2")))
}

func TestLoggerFieldsDoNotLeakBetweenClones(t *testing.T) {
	var buf bytes.Buffer
	base := events.NewLogger(events.InfoLevel, "text", &buf)

	withComponent := base.WithField("component", "tree")
	withComponent.WithField("extra", "x").Info("first")

	buf.Reset()
	withComponent.Info("second")
	assert.Contains(t, buf.String(), "component=tree")
	assert.NotContains(t, buf.String(), "extra=x")

	buf.Reset()
	base.Info("third")
	assert.NotContains(t, buf.String(), "component=tree")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewLogger(events.InfoLevel, "text", &buf)

	logger.WithError(errors.New("boom")).Error("operation failed")
	assert.Contains(t, buf.String(), "error=boom")
}
