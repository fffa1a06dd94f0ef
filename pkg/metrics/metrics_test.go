package metrics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalbasit/cube/pkg/metrics"
)

func TestNewAndRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	m, err := metrics.New(ctx, "cube-test", "0.0.1")
	require.NoError(t, err)

	require.NotNil(t, m.Registry)

	m.RecordShardOp(ctx, "00", "get", "nil")
	m.RecordBloomReject(ctx, "00")
	m.RecordWALFsync(ctx, 0.001)
	m.RecordTxnConflict(ctx)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	require.NoError(t, m.Shutdown(ctx))
}

func TestRecordOnNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics

	ctx := context.Background()
	m.RecordShardOp(ctx, "00", "get", "ok")
	m.RecordBloomReject(ctx, "00")
	m.RecordWALFsync(ctx, 0.1)
	m.RecordTxnConflict(ctx)
	require.NoError(t, m.Shutdown(ctx))
}
