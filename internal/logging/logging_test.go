package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewWithWriter_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "error", "JSON")

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	logger.Error("ledger unreachable", "endpoint", "https://s.altnet.rippletest.net:51234")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "ledger unreachable", entry["msg"])
	assert.Equal(t, "ERROR", entry["level"])
}

func TestRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	logger.Info("wallet bootstrapped",
		"address", "rOwnerAddress",
		"seed", "sEdTM1uX8pu2do5XvTnutH6HsouMaM2",
		"fulfillment", "A0228020",
		"session_token", "st_abc",
		"WalletSecret", "deadbeef",
	)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "rOwnerAddress", entry["address"])
	for _, key := range []string{"seed", "fulfillment", "session_token", "WalletSecret"} {
		assert.Equal(t, Redacted, entry[key], key)
	}
	assert.NotContains(t, buf.String(), "sEdTM1")
}

func TestRedactsInsideGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text").
		With(slog.Group("wallet", slog.String("address", "rOwner"), slog.String("Seed", "sSecret")))

	logger.Info("loaded")
	out := buf.String()
	assert.NotContains(t, out, "sSecret")
	assert.Contains(t, out, "wallet.address=rOwner")
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Same(t, slog.Default(), FromContext(ctx))

	custom := New("debug", "json")
	ctx = WithLogger(WithRequestID(ctx, "first"), custom)
	ctx = WithRequestID(ctx, "second")

	assert.Equal(t, "second", RequestID(ctx))
	assert.Same(t, custom, FromContext(ctx))
}

func TestL_TagsRequestAndTrace(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))

	L(ctx).Info("bare")
	entry := decodeLine(t, &buf)
	assert.NotContains(t, entry, "request_id")
	assert.NotContains(t, entry, "trace_id")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx = trace.ContextWithSpanContext(WithRequestID(ctx, "req-456"), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	buf.Reset()
	L(ctx).Info("tagged")
	entry = decodeLine(t, &buf)
	assert.Equal(t, "req-456", entry["request_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.False(t, strings.Contains(buf.String(), "00f067aa0ba902b7"))
}
