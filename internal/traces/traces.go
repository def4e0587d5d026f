// Package traces wires OpenTelemetry tracing for escrow operations and
// ledger RPCs.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sein12/BlockSmith-2025-XRPL-Hackathon"

// Config selects the exporter. An empty Endpoint disables tracing.
type Config struct {
	Endpoint    string
	ServiceName string
	Version     string
	SampleRatio float64 // 0 means sample everything
}

// Init installs a global tracer provider exporting over OTLP/gRPC and
// returns its shutdown function.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "blocksmith-escrow"
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "service", cfg.ServiceName)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on span and marks the span as failed. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func Account(addr string) attribute.KeyValue {
	return attribute.String("xrpl.account", addr)
}

func Amount(amount string) attribute.KeyValue {
	return attribute.String("escrow.amount", amount)
}

func EscrowID(id string) attribute.KeyValue {
	return attribute.String("escrow.id", id)
}

func OfferSequence(seq uint32) attribute.KeyValue {
	return attribute.Int64("escrow.offer_sequence", int64(seq))
}

func RPCMethod(method string) attribute.KeyValue {
	return attribute.String("rpc.method", method)
}

func TxHash(hash string) attribute.KeyValue {
	return attribute.String("xrpl.tx_hash", hash)
}

func TxType(kind string) attribute.KeyValue {
	return attribute.String("xrpl.tx_type", kind)
}

// EngineResult is the ledger's transaction result code, e.g. tesSUCCESS.
func EngineResult(code string) attribute.KeyValue {
	return attribute.String("xrpl.engine_result", code)
}
