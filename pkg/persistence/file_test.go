package persistence_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalbasit/cube/pkg/persistence"
)

func TestUpdateOrAppendThenReadBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := persistence.New(dir)
	require.NoError(t, err)

	require.NoError(t, s.UpdateOrAppend("00", "004AABB1000000010AA\n", "004AABB1"))

	line, ok, err := s.ReadLineByPrefix("00", "004AABB1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "004AABB1000000010AA", line)
}

func TestUpdateOrAppendReplacesSingleOccurrencePreservesOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := persistence.New(dir)
	require.NoError(t, err)

	require.NoError(t, s.UpdateOrAppend("00", "rec-a", "rec-a"))
	require.NoError(t, s.UpdateOrAppend("00", "rec-b", "rec-b"))
	require.NoError(t, s.UpdateOrAppend("00", "rec-a-v2", "rec-a"))

	var lines []string

	require.NoError(t, s.StreamLines("00", func(line string) error {
		lines = append(lines, line)

		return nil
	}))

	require.Equal(t, []string{"rec-a-v2", "rec-b"}, lines)
}

func TestReadLineByPrefixReturnsLastMatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := persistence.New(dir)
	require.NoError(t, err)

	// simulate append-only duplicates (e.g. via the fast-path Write or a
	// crash between append and rename).
	require.NoError(t, s.Write("00", "keyXold\n"))
	require.NoError(t, s.Write("00", "keyXnew\n"))

	line, ok, err := s.ReadLineByPrefix("00", "keyX")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "keyXnew", line)
}

func TestKeyPrefixDoesNotMatchLongerKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := persistence.New(dir)
	require.NoError(t, err)

	require.NoError(t, s.UpdateOrAppend("00", "004B6B6579310061", "004B6B657931"))
	require.NoError(t, s.UpdateOrAppend("00", "005B6B657931320062", "005B6B65793132"))

	line, ok, err := s.ReadLineByPrefix("00", "004B6B657931")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "004B6B6579310061", line)
}

func TestExistsAndEmptyShard(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	s, err := persistence.New(dir)
	require.NoError(t, err)

	require.False(t, s.Exists("00"))

	_, ok, err := s.ReadLineByPrefix("00", "anything")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.UpdateOrAppend("00", "rec", "rec"))
	require.True(t, s.Exists("00"))
}
