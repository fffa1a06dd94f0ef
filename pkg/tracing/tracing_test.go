package tracing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/kalbasit/cube/pkg/tracing"
)

func TestSetupEnabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	shutdown, err := tracing.Setup(ctx, true, resource.Default())
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	defer func() {
		assert.NoError(t, shutdown(ctx))
	}()

	tracer := tracing.Tracer("cube/tracing_test")
	assert.NotNil(t, tracer)

	_, span := tracer.Start(ctx, "test-span")
	span.End()
}

func TestSetupDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	shutdown, err := tracing.Setup(ctx, false, resource.Default())
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	defer func() {
		assert.NoError(t, shutdown(ctx))
	}()

	tracer := tracing.Tracer("cube/tracing_test")
	_, span := tracer.Start(ctx, "test-span")
	span.End()
}
