// Package tracing wires an optional OTLP exporter behind the global
// OpenTelemetry provider. Without an endpoint every span is a no-op.
package tracing

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/version"
)

const serviceName = "poolproxy"

var active atomic.Pointer[sdktrace.TracerProvider]

// Options selects the exporter. An empty Endpoint disables export.
type Options struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	BatchWait   time.Duration
}

// OptionsFromEnv reads the standard OTEL_* variables.
func OptionsFromEnv() Options {
	opts := Options{
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    true,
		SampleRatio: 1,
		BatchWait:   5 * time.Second,
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))) {
	case "false", "0", "no":
		opts.Insecure = false
	}
	if raw := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			opts.SampleRatio = r
		}
	}
	return opts
}

func noop(context.Context) error { return nil }

// Init installs the provider described by opts and returns its shutdown.
// Calling Init again replaces nothing while a provider is active.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Endpoint == "" || active.Load() != nil {
		return noop, nil
	}
	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return noop, err
	}
	host, _ := os.Hostname()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version.Version),
			attribute.String("service.instance.id", host),
		),
		resource.WithFromEnv(),
	)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return noop, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(opts.BatchWait)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	)
	if !active.CompareAndSwap(nil, tp) {
		_ = tp.Shutdown(ctx)
		return noop, nil
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return func(ctx context.Context) error {
		active.CompareAndSwap(tp, nil)
		return tp.Shutdown(ctx)
	}, nil
}

// Enabled reports whether an exporter is installed.
func Enabled() bool {
	return active.Load() != nil
}

// StartSpan opens a span on the component's tracer.
func StartSpan(ctx context.Context, component, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(serviceName+"/"+component).Start(ctx, name, opts...)
}
