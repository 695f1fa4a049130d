package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLines(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nopWriter{}) })
	return &buf
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]string {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(line), &out))
	return out
}

func TestEntryBindsFields(t *testing.T) {
	buf := captureLines(t)

	With("run_id", "r-1").With("workspace", "acme").Info("run started", "accounts", 12)

	line := decodeLine(t, buf)
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "run started", line["msg"])
	assert.Equal(t, "r-1", line["run_id"])
	assert.Equal(t, "acme", line["workspace"])
	assert.Equal(t, "12", line["accounts"])
}

func TestEmailFieldsAreRedacted(t *testing.T) {
	buf := captureLines(t)

	Warn("tag update failed", "email", "john.doe@example.com", "error", errors.New("sync bob@corp.io failed"))

	line := decodeLine(t, buf)
	assert.Equal(t, "jo***@example.com", line["email"])
	assert.Equal(t, "sync bo***@corp.io failed", line["error"])
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLines(t)
	SetLevel(WARN)
	defer SetLevel(INFO)

	Info("hidden")
	assert.Empty(t, buf.String())

	Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}
