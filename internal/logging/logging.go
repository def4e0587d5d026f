// Package logging builds the service's slog loggers and carries them, with
// the request id, through request contexts.
//
// Attributes whose key names wallet or condition secrets are replaced with
// a fixed marker before they reach any handler.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Redacted replaces the value of sensitive attributes.
const Redacted = "[REDACTED]"

// Key fragments that mark an attribute as secret. Matching is by substring,
// case-insensitive, so "session_token" and "WalletSeed" are both caught.
var sensitiveKeys = []string{"seed", "secret", "fulfillment", "token", "password", "privatekey"}

// New returns a logger on stdout. format "json" selects JSON lines;
// anything else is logfmt-style text.
func New(level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl <= slog.LevelDebug,
		ReplaceAttr: redact,
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel accepts debug, info, warn(ing) and error in any case.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	switch s := strings.ToLower(strings.TrimSpace(level)); s {
	case "warning":
		lvl = slog.LevelWarn
	case "debug", "info", "warn", "error":
		_ = lvl.UnmarshalText([]byte(s))
	default:
		lvl = slog.LevelInfo
	}
	return lvl
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindGroup && IsSensitive(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// IsSensitive reports whether key names secret material.
func IsSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, frag := range sensitiveKeys {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	loggerKey
)

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the stored logger or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// L returns the context logger tagged with the request id and, when a
// sampled span is active, its trace id so log lines join up with traces.
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	var attrs []any
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && sc.IsSampled() {
		attrs = append(attrs, "trace_id", sc.TraceID().String())
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
