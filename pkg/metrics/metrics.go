// Package metrics wires Cube's operational counters to an OpenTelemetry
// Meter backed by a Prometheus registry, the same otel-metrics-exported-as-
// prometheus shape as the teacher's pkg/prometheus.SetupPrometheusMetrics.
package metrics

import (
	"context"
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kalbasit/cube/pkg/telemetry"
)

// Metrics holds the instruments recorded by the shard engine and the
// transaction manager; the HTTP layer serves its Registry on /metrics.
type Metrics struct {
	Registry *promclient.Registry

	shutdown func(context.Context) error

	shardOps     metric.Int64Counter
	bloomRejects metric.Int64Counter
	walFsync     metric.Float64Histogram
	txnConflicts metric.Int64Counter
}

// New builds a Metrics bound to a fresh Prometheus registry.
func New(ctx context.Context, serviceName, serviceVersion string) (*Metrics, error) {
	res, err := telemetry.NewResource(ctx, serviceName, serviceVersion)
	if err != nil {
		return nil, fmt.Errorf("metrics: building resource: %w", err)
	}

	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("metrics: building prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	meter := provider.Meter("github.com/kalbasit/cube")

	m := &Metrics{Registry: registry, shutdown: provider.Shutdown}

	m.shardOps, err = meter.Int64Counter(
		"cube_shard_ops_total",
		metric.WithDescription("shard operations processed, by op and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: shard ops counter: %w", err)
	}

	m.bloomRejects, err = meter.Int64Counter(
		"cube_bloom_reject_total",
		metric.WithDescription("GETs answered NIL purely from the Bloom filter"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: bloom reject counter: %w", err)
	}

	m.walFsync, err = meter.Float64Histogram(
		"cube_wal_fsync_seconds",
		metric.WithDescription("WAL append+fsync latency"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: wal fsync histogram: %w", err)
	}

	m.txnConflicts, err = meter.Int64Counter(
		"cube_txn_conflicts_total",
		metric.WithDescription("transaction commits rejected by first-committer-wins"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: txn conflicts counter: %w", err)
	}

	return m, nil
}

// Shutdown flushes and stops the underlying meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.shutdown == nil {
		return nil
	}

	return m.shutdown(ctx)
}

// RecordShardOp records one shard operation (op is "get" or "set", result is
// "ok", "nil", or "error").
func (m *Metrics) RecordShardOp(ctx context.Context, shard, op, result string) {
	if m == nil {
		return
	}

	m.shardOps.Add(ctx, 1, metric.WithAttributes(
		attrShard(shard), attrOp(op), attrResult(result),
	))
}

// RecordBloomReject records a GET answered NIL without touching the data
// file, the observable signal behind spec.md §8 scenario 7.
func (m *Metrics) RecordBloomReject(ctx context.Context, shard string) {
	if m == nil {
		return
	}

	m.bloomRejects.Add(ctx, 1, metric.WithAttributes(attrShard(shard)))
}

// RecordWALFsync records the latency of one WAL append+fsync in seconds.
func (m *Metrics) RecordWALFsync(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}

	m.walFsync.Record(ctx, seconds)
}

// RecordTxnConflict records one first-committer-wins rejection.
func (m *Metrics) RecordTxnConflict(ctx context.Context) {
	if m == nil {
		return
	}

	m.txnConflicts.Add(ctx, 1)
}
