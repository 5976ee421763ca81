package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	logger := NewLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestWithEpoch(t *testing.T) {
	var buf bytes.Buffer
	logger := WithEpoch(newJSONLogger(&buf, slog.LevelInfo), 7, "run-1")

	logger.Info("published")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "published", line["msg"])
	assert.Equal(t, float64(7), line["epoch"])
	assert.Equal(t, "run-1", line["run_id"])
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestNewLogger_Format(t *testing.T) {
	tests := []struct {
		name   string
		format string
		want   string
	}{
		{name: "default json", format: "", want: `"msg":"feed pruned"`},
		{name: "text", format: "TEXT", want: `msg="feed pruned"`},
		{name: "unknown falls back to json", format: "logfmt", want: `"msg":"feed pruned"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newLogger(&buf, tt.format, slog.LevelInfo).Info("feed pruned", slog.Int64("feed_id", 3))
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	var buf bytes.Buffer
	logger := newJSONLogger(&buf, slog.LevelInfo)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}
