package router_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kalbasit/cube/pkg/codec"
	"github.com/kalbasit/cube/pkg/metrics"
	"github.com/kalbasit/cube/pkg/persistence"
	"github.com/kalbasit/cube/pkg/router"
	"github.com/kalbasit/cube/pkg/shard"
	"github.com/kalbasit/cube/pkg/value"
	"github.com/kalbasit/cube/pkg/wal"
)

func newTestRouter(t *testing.T) *router.Router {
	t.Helper()

	dir := t.TempDir()

	persist, err := persistence.New(dir)
	require.NoError(t, err)

	w, err := wal.New(dir)
	require.NoError(t, err)

	m, err := metrics.New(context.Background(), "cube-router-test", "0.0.1")
	require.NoError(t, err)

	shards := make(map[string]*shard.Shard, codec.ShardCount)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	for i := 0; i < codec.ShardCount; i++ {
		shardID := shardIDString(i)

		s := shard.New(shardID, persist, w, 1000, 3, m, zerolog.Nop())
		require.NoError(t, s.Boot(ctx))

		go s.Run(ctx)

		shards[shardID] = s
	}

	return router.New(shards)
}

func shardIDString(i int) string {
	const digits = "0123456789"

	return string([]byte{digits[i/10], digits[i%10]})
}

func TestSetThenGetRoutesToSameShard(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	ctx := context.Background()

	old, newVal, err := r.Set(ctx, []byte("hello"), value.String("world"))
	require.NoError(t, err)
	require.Equal(t, "NIL", old)
	require.Equal(t, "world", newVal)

	got, err := r.Get(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "world", got)
}

func TestShardIDForIsStable(t *testing.T) {
	t.Parallel()

	id1, err := router.ShardIDFor([]byte("some-key"))
	require.NoError(t, err)

	id2, err := router.ShardIDFor([]byte("some-key"))
	require.NoError(t, err)

	require.Equal(t, id1, id2)
}
