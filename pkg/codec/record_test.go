package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalbasit/cube/pkg/codec"
	"github.com/kalbasit/cube/pkg/value"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []value.Value{
		value.String("Alice"),
		value.String(""),
		value.Integer(42),
		value.Integer(-7),
		value.Boolean(true),
		value.Boolean(false),
		value.Nil(),
	}

	for _, v := range cases {
		record, shardID, err := codec.EncodeSet([]byte("name"), v)
		require.NoError(t, err)
		assert.Len(t, shardID, 2)

		got, err := codec.Decode(record)
		require.NoError(t, err)
		assert.Equal(t, v.Canonical(), got)
	}
}

func TestExtractKeyPrefixMatchesBetweenGetAndSet(t *testing.T) {
	t.Parallel()

	record, setShard, err := codec.EncodeSet([]byte("key1"), value.String("a"))
	require.NoError(t, err)

	getPrefix, getShard, err := codec.EncodeGet([]byte("key1"))
	require.NoError(t, err)

	setPrefix, err := codec.ExtractKeyPrefix(record)
	require.NoError(t, err)

	assert.Equal(t, getPrefix, setPrefix)
	assert.Equal(t, getShard, setShard)
}

func TestKeyPrefixDistinctness(t *testing.T) {
	t.Parallel()

	r1, _, err := codec.EncodeSet([]byte("key1"), value.String("a"))
	require.NoError(t, err)

	r2, _, err := codec.EncodeSet([]byte("key12"), value.String("b"))
	require.NoError(t, err)

	p1, err := codec.ExtractKeyPrefix(r1)
	require.NoError(t, err)

	p2, err := codec.ExtractKeyPrefix(r2)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
}

func TestKeyTooLong(t *testing.T) {
	t.Parallel()

	longKey := make([]byte, codec.MaxKeyBytes+1)

	_, _, err := codec.EncodeSet(longKey, value.String("x"))
	require.ErrorIs(t, err, codec.ErrKeyTooLong)

	_, _, err = codec.EncodeGet(longKey)
	require.ErrorIs(t, err, codec.ErrKeyTooLong)
}

func TestDecodeMalformedRecord(t *testing.T) {
	t.Parallel()

	_, err := codec.Decode("not-a-record")
	require.ErrorIs(t, err, codec.ErrMalformedRecord)

	_, err = codec.Decode("004AABB0000000")
	require.ErrorIs(t, err, codec.ErrMalformedRecord)
}

func TestShardOfStable(t *testing.T) {
	t.Parallel()

	_, s1, err := codec.EncodeGet([]byte("somekey"))
	require.NoError(t, err)

	_, s2, err := codec.EncodeSet([]byte("somekey"), value.Integer(1))
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
}
