// Package telemetry builds the OpenTelemetry Resource shared by Cube's
// tracing and metrics pipelines.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"

	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// NewResource builds the OpenTelemetry resource shared by the tracer and
// meter providers, so spans and metrics describe the same service identity.
func NewResource(
	ctx context.Context,
	serviceName, serviceVersion string,
	extraAttrs ...attribute.KeyValue,
) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
	}
	attrs = append(attrs, extraAttrs...)

	return resource.New(
		ctx,

		// NOTE: bump the semconv import above if this fails schema validation.
		resource.WithSchemaURL(semconv.SchemaURL),

		resource.WithAttributes(attrs...),

		// OTEL_RESOURCE_ATTRIBUTES / OTEL_SERVICE_NAME env overrides.
		resource.WithFromEnv(),

		resource.WithTelemetrySDK(),

		// Deliberately narrower than resource.WithProcess(): that also pulls in
		// WithProcessCommandArgs, which would leak --cache-database-url-style
		// flags if Cube ever grows a secret flag. PID/runtime only.
		resource.WithProcessPID(),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),

		resource.WithOS(),
		resource.WithHost(),
	)
}
