package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level slog.Level) (*slog.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.Level(-8))
	return slog.New(NewHandler(WithLevel(level), WithCore(core))), logs
}

func TestNewHandler_FiltersByLevel(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0].Message)
	assert.Equal(t, "value", entries[0].ContextMap()["key"])
}

func TestNewHandler_DebugLevel(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(slog.LevelDebug)
	logger.Debug("visible")

	assert.Equal(t, 1, logs.FilterMessage("visible").Len())
}

func TestNewHandler_InjectsTraceIDs(t *testing.T) {
	t.Parallel()

	logger, logs := newObservedLogger(slog.LevelInfo)

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "traced")

	entries := logs.FilterMessage("traced").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
