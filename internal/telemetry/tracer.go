// Package telemetry manages the process-wide OpenTelemetry tracer provider:
// request spans created by internal/api's otelhttp instrumentation and read
// back by internal/log for trace-correlated logging both flow through the
// provider configured here.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds telemetry configuration. There is deliberately no exporter
// endpoint here: the server emits spans for in-process correlation (trace_id/
// span_id on logs, request IDs) without requiring an OTLP collector to be
// reachable at startup.
type Config struct {
	Enabled bool
	ServiceName string
	ServiceVersion string
	SamplingRate float64
}

// Provider wraps the process-wide TracerProvider and its shutdown.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds and installs the global TracerProvider. When disabled,
// it installs a noop provider so every Tracer() call elsewhere in the
// codebase stays a cheap no-op rather than needing a nil check.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the tracer provider; a noop provider shuts down
// instantly.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(shutdownCtx)
}

// Tracer returns a tracer for name, following the global provider installed
// by NewProvider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
