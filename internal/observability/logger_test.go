package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useBuffer points the package logger at a buffer for the duration of the test
func useBuffer(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	saved := logger
	logger = newLogger(&buf, level, format)
	t.Cleanup(func() { logger = saved })
	return &buf
}

func TestNewLogger_Formats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		buf := useBuffer(t, "info", "json")
		FromContext(context.Background()).Info("test message", "key", "value")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "test message", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("text", func(t *testing.T) {
		buf := useBuffer(t, "info", "text")
		FromContext(context.Background()).Info("test message", "key", "value")

		assert.Contains(t, buf.String(), `msg="test message"`)
		assert.Contains(t, buf.String(), "key=value")
	})

	t.Run("level filters", func(t *testing.T) {
		buf := useBuffer(t, "warn", "json")
		FromContext(context.Background()).Info("dropped")

		assert.Empty(t, buf.String())
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithConnectionID(ctx, "conn-1")

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
	assert.Equal(t, "user-1", ctx.Value(userIDKey))
	assert.Equal(t, "conn-1", ctx.Value(connectionIDKey))
}

func TestFromContext(t *testing.T) {
	t.Run("fallback when not initialized", func(t *testing.T) {
		saved := logger
		defer func() { logger = saved }()
		logger = nil

		assert.Equal(t, slog.Default(), FromContext(context.Background()))
	})

	t.Run("no values returns base logger", func(t *testing.T) {
		useBuffer(t, "info", "json")

		assert.Same(t, logger, FromContext(context.Background()))
	})

	t.Run("values are attached", func(t *testing.T) {
		buf := useBuffer(t, "info", "json")

		ctx := WithRequestID(context.Background(), "req-7")
		ctx = WithConnectionID(ctx, "conn-1")
		FromContext(ctx).Info("joined")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "req-7", entry["request_id"])
		assert.Equal(t, "conn-1", entry["connection_id"])
		assert.NotContains(t, entry, "user_id")
	})
}
