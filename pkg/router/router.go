// Package router provides the stateless key-to-shard routing facade used by
// both the transaction manager and direct (non-transactional) command
// handling. It owns no state of its own; it only knows how to reach the
// shard that owns a given key.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/kalbasit/cube/pkg/codec"
	"github.com/kalbasit/cube/pkg/shard"
	"github.com/kalbasit/cube/pkg/value"
)

// Router dispatches Get/Set calls to the owning shard by deterministic hash
// (codec.ShardOf), the same routing both GET and SET use so that repeated
// lookups of one key always land on the same shard.
type Router struct {
	shards map[string]*shard.Shard
}

// New builds a Router over an already-booted set of shards keyed by their
// two-digit identifier.
func New(shards map[string]*shard.Shard) *Router {
	return &Router{shards: shards}
}

func (r *Router) shardFor(shardID string) (*shard.Shard, error) {
	s, ok := r.shards[shardID]
	if !ok {
		return nil, fmt.Errorf("router: no shard registered for id %q", shardID)
	}

	return s, nil
}

// Get performs a current (non-snapshot) read of key.
func (r *Router) Get(ctx context.Context, key []byte) (string, error) {
	_, shardID, err := codec.EncodeGet(key)
	if err != nil {
		return "", err
	}

	s, err := r.shardFor(shardID)
	if err != nil {
		return "", err
	}

	return s.Get(ctx, key)
}

// GetAt performs a snapshot read of key as of ts, used by in-flight
// transactions to serve repeatable reads (spec.md §4.7).
func (r *Router) GetAt(ctx context.Context, key []byte, ts time.Time) (string, error) {
	_, shardID, err := codec.EncodeGet(key)
	if err != nil {
		return "", err
	}

	s, err := r.shardFor(shardID)
	if err != nil {
		return "", err
	}

	return s.GetAt(ctx, key, ts)
}

// Set applies val to key and returns the value observed immediately before
// the write alongside its new canonical form.
func (r *Router) Set(ctx context.Context, key []byte, val value.Value) (oldValue, newValue string, err error) {
	_, shardID, err := codec.EncodeGet(key)
	if err != nil {
		return "", "", err
	}

	s, err := r.shardFor(shardID)
	if err != nil {
		return "", "", err
	}

	return s.Set(ctx, key, val)
}

// ShardIDFor exposes the routing decision for a key without touching the
// shard.
func ShardIDFor(key []byte) (string, error) {
	_, shardID, err := codec.EncodeGet(key)

	return shardID, err
}
