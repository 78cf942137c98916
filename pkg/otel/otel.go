package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config describes where pricing spans are exported and how many are kept
type Config struct {
	ServiceName       string
	ServiceVersion    string
	Environment       string
	CollectorEndpoint string
	CollectorInsecure bool
	SamplingRate      float64
}

func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:       serviceName,
		ServiceVersion:    "1.0.0",
		Environment:       "production",
		CollectorEndpoint: "localhost:4317",
		CollectorInsecure: true,
		SamplingRate:      1.0,
	}
}

// InitTracer installs a batching OTLP/gRPC tracer provider as the global
// provider. The caller owns shutdown.
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if config == nil {
		config = DefaultConfig("pricelab")
	}

	exporter, err := newExporter(ctx, config)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(config.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

func newExporter(ctx context.Context, config *Config) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.CollectorEndpoint)}
	if config.CollectorInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// sampler honours the parent's decision and samples root spans at rate
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans, waiting at most five seconds
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return tp.Shutdown(ctx)
}

// StartSpan starts a span on the named tracer of the global provider
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks the span failed. message, when set, becomes the status
// description in place of the raw error text.
func RecordError(span trace.Span, err error, message string) {
	if span == nil || err == nil {
		return
	}

	span.RecordError(err)
	if message == "" {
		message = err.Error()
	}
	span.SetStatus(codes.Error, message)
}

func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Attribute keys attached to pricing spans
const (
	AttrStoreID         = attribute.Key("store.id")
	AttrExperimentID    = attribute.Key("experiment.id")
	AttrAssignmentCount = attribute.Key("assignment.count")
	AttrAppliedCount    = attribute.Key("applied.count")
	AttrRestoredCount   = attribute.Key("restored.count")
	AttrAutoApply       = attribute.Key("experiment.auto_apply")
	AttrWindowDays      = attribute.Key("performance.window_days")
	AttrRecordsScanned  = attribute.Key("eventlog.records_scanned")
	AttrCacheHit        = attribute.Key("cache.hit")
)

// ExperimentAttributes identifies the experiment a span works on.
// experimentID may be empty for store-wide operations.
func ExperimentAttributes(storeID, experimentID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrStoreID.String(storeID),
	}
	if experimentID != "" {
		attrs = append(attrs, AttrExperimentID.String(experimentID))
	}
	return attrs
}

func MutationAttributes(assignments, applied, restored int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAssignmentCount.Int(assignments),
		AttrAppliedCount.Int(applied),
		AttrRestoredCount.Int(restored),
	}
}

func ScanAttributes(recordsScanned int, cacheHit bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRecordsScanned.Int(recordsScanned),
		AttrCacheHit.Bool(cacheHit),
	}
}
