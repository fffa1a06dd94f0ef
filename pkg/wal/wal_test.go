package wal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalbasit/cube/pkg/wal"
)

func TestLogReplayClear(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w, err := wal.New(dir)
	require.NoError(t, err)

	recs, err := w.Replay("00")
	require.NoError(t, err)
	require.Empty(t, recs)

	require.NoError(t, w.Log("00", "record-one"))
	require.NoError(t, w.Log("00", "record-two\n"))

	recs, err = w.Replay("00")
	require.NoError(t, err)
	require.Equal(t, []string{"record-one", "record-two"}, recs)

	require.NoError(t, w.Clear("00"))

	recs, err = w.Replay("00")
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestClearIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w, err := wal.New(dir)
	require.NoError(t, err)

	require.NoError(t, w.Clear("00"))
	require.NoError(t, w.Clear("00"))
}
