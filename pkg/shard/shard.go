// Package shard implements the per-shard engine: one logical owner per
// shard, reached only through its request channel, that serializes GET/SET
// against a Bloom filter, a write-ahead log, and a persistence-layer data
// file (spec.md §4.5). Each Shard runs its own goroutine consuming a
// bounded mailbox, per spec.md §9's recommended actor shape.
package shard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalbasit/cube/pkg/bloom"
	"github.com/kalbasit/cube/pkg/codec"
	"github.com/kalbasit/cube/pkg/metrics"
	"github.com/kalbasit/cube/pkg/persistence"
	"github.com/kalbasit/cube/pkg/tracing"
	"github.com/kalbasit/cube/pkg/value"
	"github.com/kalbasit/cube/pkg/wal"
)

const (
	otelPackageName = "github.com/kalbasit/cube/pkg/shard"

	// maxVersionsPerKey bounds the optional MVCC ring (spec.md §4.5).
	maxVersionsPerKey = 100

	// mailboxSize is the shard's request channel buffer.
	mailboxSize = 64
)

// version is one entry of the optional MVCC ring: a value observed as of
// a commit timestamp.
type version struct {
	ts    time.Time
	value string
}

// Shard owns one shard's filter, WAL, and data file. All public methods
// dispatch a closure onto the shard's single owner goroutine and block for
// its result; callers from different goroutines are safely serialized.
type Shard struct {
	id string

	persist *persistence.Store
	wal     *wal.WAL
	filter  *bloom.Filter
	metrics *metrics.Metrics
	logger  zerolog.Logger
	tracer  trace.Tracer

	jobs chan func()

	versions map[string][]version
}

// New constructs a Shard. Call Boot before Run.
func New(
	id string,
	persist *persistence.Store,
	w *wal.WAL,
	bloomSize, bloomHashCount int,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Shard {
	return &Shard{
		id:       id,
		persist:  persist,
		wal:      w,
		filter:   bloom.New(bloomSize, bloomHashCount),
		metrics:  m,
		logger:   logger.With().Str("shard", id).Logger(),
		tracer:   tracing.Tracer(otelPackageName),
		jobs:     make(chan func(), mailboxSize),
		versions: make(map[string][]version),
	}
}

// ID returns the shard's two-digit identifier.
func (s *Shard) ID() string { return s.id }

// Boot performs crash recovery (spec.md §4.4/§4.5): replay the WAL into the
// data file, clear the WAL, then warm the Bloom filter from the data file.
// It must run before Run and before any Get/Set is dispatched.
func (s *Shard) Boot(ctx context.Context) error {
	records, err := s.wal.Replay(s.id)
	if err != nil {
		return fmt.Errorf("shard %s: wal replay: %w", s.id, err)
	}

	for _, record := range records {
		prefix, err := codec.ExtractKeyPrefix(record)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed WAL record during replay")

			continue
		}

		if err := s.persist.UpdateOrAppend(s.id, record, prefix); err != nil {
			return fmt.Errorf("shard %s: applying replayed wal record: %w", s.id, err)
		}
	}

	if len(records) > 0 {
		if err := s.wal.Clear(s.id); err != nil {
			return fmt.Errorf("shard %s: clearing wal after replay: %w", s.id, err)
		}

		s.logger.Info().Int("records", len(records)).Msg("replayed wal")
	}

	var (
		count     int
		byteCount int64
	)

	if err := s.persist.StreamLines(s.id, func(line string) error {
		prefix, err := codec.ExtractKeyPrefix(line)
		if err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed line during bloom warm-up")

			return nil
		}

		s.filter.Add(prefix)
		count++
		byteCount += int64(len(line)) + 1

		return nil
	}); err != nil {
		return fmt.Errorf("shard %s: warming bloom filter: %w", s.id, err)
	}

	s.logger.Info().
		Int("keys", count).
		Str("size", humanize.Bytes(uint64(byteCount))). //nolint:gosec
		Msg("shard booted")

	return nil
}

// Run processes the shard's mailbox until ctx is canceled.
func (s *Shard) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			job()
		}
	}
}

// dispatch runs fn on the shard's owner goroutine and waits for it to
// complete or ctx to be canceled.
func (s *Shard) dispatch(ctx context.Context, fn func()) error {
	done := make(chan struct{})

	select {
	case s.jobs <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get performs an unqualified (current) read. It returns "NIL" (not an
// error) when the key is absent.
func (s *Shard) Get(ctx context.Context, key []byte) (string, error) {
	var (
		result string
		opErr  error
	)

	if err := s.dispatch(ctx, func() { result, opErr = s.getLocked(ctx, key) }); err != nil {
		return "", err
	}

	return result, opErr
}

// GetAt performs a snapshot read as of ts: the optional MVCC ring (spec.md
// §4.5) is consulted first; absence falls through to the current on-disk
// read, matching spec.md §5's fallback rule.
func (s *Shard) GetAt(ctx context.Context, key []byte, ts time.Time) (string, error) {
	var (
		result string
		opErr  error
	)

	err := s.dispatch(ctx, func() {
		if v, ok := s.ringLookup(key, ts); ok {
			result = v

			return
		}

		result, opErr = s.getLocked(ctx, key)
	})
	if err != nil {
		return "", err
	}

	return result, opErr
}

// Set applies a write and returns the value observed immediately before it
// (per spec.md §4.5, read-before-write) and the new canonical value.
func (s *Shard) Set(ctx context.Context, key []byte, val value.Value) (oldValue, newValue string, err error) {
	var setErr error

	dispatchErr := s.dispatch(ctx, func() {
		oldValue, newValue, setErr = s.setLocked(ctx, key, val)
	})
	if dispatchErr != nil {
		return "", "", dispatchErr
	}

	return oldValue, newValue, setErr
}

func (s *Shard) getLocked(ctx context.Context, key []byte) (string, error) {
	ctx, span := s.tracer.Start(ctx, "shard.get", trace.WithAttributes(attribute.String("shard", s.id)))
	defer span.End()

	prefix, shardID, err := codec.EncodeGet(key)
	if err != nil {
		return "", err
	}

	if !s.filter.Contains(prefix) {
		s.metrics.RecordBloomReject(ctx, s.id)
		s.metrics.RecordShardOp(ctx, s.id, "get", "nil")

		return "NIL", nil
	}

	line, ok, err := s.persist.ReadLineByPrefix(shardID, prefix)
	if err != nil {
		s.metrics.RecordShardOp(ctx, s.id, "get", "error")

		return "", err
	}

	if !ok {
		s.metrics.RecordShardOp(ctx, s.id, "get", "nil")

		return "NIL", nil
	}

	decoded, err := codec.Decode(line)
	if err != nil {
		s.logger.Warn().Err(err).Str("prefix", prefix).Msg("malformed record treated as missing")
		s.metrics.RecordShardOp(ctx, s.id, "get", "nil")

		return "NIL", nil
	}

	s.metrics.RecordShardOp(ctx, s.id, "get", "ok")

	return decoded, nil
}

func (s *Shard) setLocked(
	ctx context.Context,
	key []byte,
	val value.Value,
) (oldValue, newValue string, err error) {
	ctx, span := s.tracer.Start(ctx, "shard.set", trace.WithAttributes(attribute.String("shard", s.id)))
	defer span.End()

	record, shardID, err := codec.EncodeSet(key, val)
	if err != nil {
		return "", "", err
	}

	prefix, err := codec.ExtractKeyPrefix(record)
	if err != nil {
		return "", "", err
	}

	newValue = val.Canonical()

	oldValue, err = s.getLocked(ctx, key)
	if err != nil {
		return "", "", err
	}

	start := time.Now()

	if err := s.wal.Log(shardID, record); err != nil {
		s.metrics.RecordShardOp(ctx, s.id, "set", "error")

		return "", "", fmt.Errorf("shard %s: wal log: %w", s.id, err)
	}

	s.metrics.RecordWALFsync(ctx, time.Since(start).Seconds())

	if err := s.persist.UpdateOrAppend(shardID, record, prefix); err != nil {
		s.metrics.RecordShardOp(ctx, s.id, "set", "error")

		return "", "", fmt.Errorf("shard %s: update-or-append: %w", s.id, err)
	}

	s.filter.Add(prefix)
	s.recordVersion(key, newValue)

	s.metrics.RecordShardOp(ctx, s.id, "set", "ok")

	return oldValue, newValue, nil
}

func (s *Shard) recordVersion(key []byte, newValue string) {
	k := string(key)
	entries := append(s.versions[k], version{ts: time.Now(), value: newValue})

	if len(entries) > maxVersionsPerKey {
		entries = entries[len(entries)-maxVersionsPerKey:]
	}

	s.versions[k] = entries
}

// ringLookup scans the version ring newest-first for the first entry with
// entryTs <= ts.
func (s *Shard) ringLookup(key []byte, ts time.Time) (string, bool) {
	entries := s.versions[string(key)]
	if len(entries) == 0 {
		return "", false
	}

	idx := sort.Search(len(entries), func(i int) bool { return entries[i].ts.After(ts) })
	if idx == 0 {
		return "", false
	}

	return entries[idx-1].value, true
}
