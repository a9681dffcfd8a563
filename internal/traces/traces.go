// Package traces wires OpenTelemetry tracing for issuance and settlement.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "github.com/mbd888/swapgate"
	serviceName = "swapgate"
)

// Config selects the exporter. An empty Endpoint disables tracing.
type Config struct {
	Endpoint string
	Version  string
	// SampleRatio applies to root spans; children follow their parent.
	// 1 samples everything, 0 nothing.
	SampleRatio float64
}

// Init installs the global tracer provider and returns its shutdown func.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, err
	}

	tp := NewProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)))
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sampleRatio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

// NewProvider builds a tracer provider; tests pass a span recorder.
func NewProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(opts...)
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span on the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Annotate adds attributes to the span already in ctx, if any.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

func Actor(addr string) attribute.KeyValue { return attribute.String("swap.actor", addr) }
func Amount(amount string) attribute.KeyValue { return attribute.String("swap.amount", amount) }
func ServiceID(id string) attribute.KeyValue { return attribute.String("swap.service_id", id) }
func Nonce(nonce string) attribute.KeyValue { return attribute.String("authz.nonce", nonce) }
func Score(score int) attribute.KeyValue { return attribute.Int("risk.score", score) }
func Tier(tier string) attribute.KeyValue { return attribute.String("risk.tier", tier) }
func Flags(flags []string) attribute.KeyValue { return attribute.StringSlice("risk.flags", flags) }
func ReceiptID(id string) attribute.KeyValue { return attribute.String("receipt.id", id) }
func Outcome(outcome string) attribute.KeyValue { return attribute.String("swap.outcome", outcome) }
