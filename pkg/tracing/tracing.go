// Package tracing sets up Cube's OpenTelemetry trace pipeline: a
// pretty-printing stdouttrace exporter when tracing is enabled, and a
// stdouttrace exporter writing to io.Discard otherwise. This mirrors the enabled/disabled branch in the teacher's
// cmd/otel.go newTraceProvider, with the OTLP gRPC collector branch dropped
// (see DESIGN.md) since Cube has no remote collector to export to.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Setup installs a TracerProvider globally and returns a shutdown func.
// When enabled is false, spans are still created (so instrumented code paths
// never need to branch) but are discarded immediately.
func Setup(ctx context.Context, enabled bool, res *resource.Resource) (func(context.Context) error, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)

	if enabled {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(io.Discard))
	}

	if err != nil {
		return nil, fmt.Errorf("tracing: building exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// Tracer returns a named tracer from the globally installed provider, the
// same per-package otel.Tracer(name) convention the teacher uses in
// pkg/storage/local (tracer := otel.Tracer(otelPackageName)).
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }
