package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("debug"))
	assert.Equal(t, LogLevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel(""))
	assert.Equal(t, LogLevelInfo, ParseLevel("nonsense"))
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestEduInsightLoggerAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf, Component: "test"})

	logger.WithJob("req-1", "job-1").Info("stage dispatched", "stage", "analysis")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "stage dispatched", entry["msg"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, "analysis", entry["stage"])
}

func TestEduInsightLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "json", Output: &buf})

	logger.Info("should be dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("should pass")
	assert.NotZero(t, buf.Len())
}

func TestEduInsightLoggerContextIsCopied(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})
	derived := base.WithContext("tenant", "school-a")

	base.Info("base entry")
	entry := decodeLine(t, &buf)
	_, leaked := entry["tenant"]
	assert.False(t, leaked)

	buf.Reset()
	derived.Info("derived entry")
	entry = decodeLine(t, &buf)
	assert.Equal(t, "school-a", entry["tenant"])
}

func TestErrorWithStack(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})

	logger.ErrorWithStack(errors.New("boom"), "job force-failed", "job_id", "job-1")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Contains(t, entry["stack_trace"], "goroutine")
}
