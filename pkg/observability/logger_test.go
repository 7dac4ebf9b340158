package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	logger.WithField("project_id", "95").Info("index published")

	entry := logLine(t, &buf)
	assert.Equal(t, "index published", entry["msg"])
	assert.Equal(t, "95", entry["project_id"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)
	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)
	logger.WithError(errors.New("boom")).Error("build failed")

	entry := logLine(t, &buf)
	assert.Equal(t, "boom", entry["error"])

	// Nil errors add nothing.
	assert.Same(t, logger, logger.WithError(nil))
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	logger.WithFields(map[string]interface{}{
		"project_id": "95",
		"version":    3,
	}).Info("rebuilt")

	entry := logLine(t, &buf)
	assert.Equal(t, "95", entry["project_id"])
	assert.Equal(t, float64(3), entry["version"])
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "tr_abc")
	ctx = WithSessionID(ctx, "sess-1")

	assert.Equal(t, "tr_abc", GetRequestID(ctx))
	assert.Equal(t, "sess-1", GetSessionID(ctx))

	FromContext(ctx).Info("handled")
	entry := logLine(t, &buf)
	assert.Equal(t, "tr_abc", entry["request_id"])
	assert.Equal(t, "sess-1", entry["session_id"])
}

func TestFromContextDefaults(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetSessionID(ctx))
	assert.NotNil(t, GetLogger(ctx))
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
}
