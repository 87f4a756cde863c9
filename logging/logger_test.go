package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringer string

func (s stringer) String() string { return string(s) }

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "json", "debug")
	require.NoError(t, err)

	logger.WithComponent("test").WithMode(stringer("complete.obs")).Debug("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "test", record["component"])
	assert.Equal(t, "complete.obs", record["mode"])

	_, err = New(&buf, "xml", "info")
	assert.Error(t, err)
	_, err = New(&buf, "text", "loud")
	assert.Error(t, err)
}

func TestLogMatrix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, slog.LevelInfo)

	logger.LogMatrix(context.Background(), 3, 100, time.Millisecond, nil)
	assert.Contains(t, buf.String(), "correlation matrix computed")
	assert.Contains(t, buf.String(), "columns=3")

	buf.Reset()
	logger.LogMatrix(context.Background(), 3, 100, 0, errors.New("boom"))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "error=boom")
}

func TestLogRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTextLogger(&buf, slog.LevelInfo)

	// Successful requests log at debug level.
	logger.WithRequestID("r1").LogRequest(context.Background(), "tcp", 10, true, nil)
	assert.Empty(t, buf.String())

	logger.WithRequestID("r2").LogRequest(context.Background(), "zmq", 10, false, errors.New("bad"))
	out := buf.String()
	assert.True(t, strings.Contains(out, "request_id=r2"))
	assert.Contains(t, out, "transport=zmq")
}

func TestNoopLogger(t *testing.T) {
	assert.NotNil(t, OrNoop(nil))
	assert.False(t, NoopLogger().Enabled(context.Background(), slog.LevelError))

	l := NewTextLogger(nil, slog.LevelInfo)
	assert.Same(t, l, OrNoop(l))
}
