// Package logging builds the slog handler used across the coordinator.
//
// Records are emitted through zap (JSON to stderr) by way of zapr, so the rest
// of the code base only ever talks to log/slog.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option configures the handler built by NewHandler
type Option func(*handlerConfig)

type handlerConfig struct {
	level slog.Leveler
	core  zapcore.Core
}

// WithLevel sets the minimum level that is emitted
func WithLevel(level slog.Leveler) Option {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// WithCore replaces the zap core records are written to
func WithCore(core zapcore.Core) Option {
	return func(c *handlerConfig) {
		c.core = core
	}
}

// NewHandler returns a slog.Handler backed by zap. OpenTelemetry trace and span
// ids found in the record's context are added as attributes.
func NewHandler(opts ...Option) slog.Handler {
	cfg := &handlerConfig{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.core == nil {
		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "time"
		encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		// logr verbosity maps to negative zap levels; level filtering happens in
		// levelHandler so the core accepts everything.
		cfg.core = zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(os.Stderr),
			zap.NewAtomicLevelAt(zapcore.Level(-8)),
		)
	}

	logger := zapr.NewLogger(zap.New(cfg.core))
	return &traceHandler{
		Handler: &levelHandler{
			Handler: logr.ToSlogHandler(logger),
			level:   cfg.level,
		},
	}
}

// ParseLevel converts a textual level into a slog.Level.
// The second return value is false when the text is not recognised.
func ParseLevel(levelStr string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

type levelHandler struct {
	slog.Handler
	level slog.Leveler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() && h.Handler.Enabled(ctx, level)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}

// traceHandler wraps an slog.Handler to inject OpenTelemetry trace_id and
// span_id into every log record.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}
