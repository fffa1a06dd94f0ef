package parser_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalbasit/cube/pkg/parser"
	"github.com/kalbasit/cube/pkg/value"
)

func TestParseGetUnquotedKey(t *testing.T) {
	t.Parallel()

	cmd, err := parser.Parse("GET name")
	require.NoError(t, err)
	assert.Equal(t, parser.KindGet, cmd.Kind)
	assert.Equal(t, "name", cmd.Key)
}

func TestParseGetQuotedKey(t *testing.T) {
	t.Parallel()

	cmd, err := parser.Parse(`GET "my key"`)
	require.NoError(t, err)
	assert.Equal(t, "my key", cmd.Key)
}

func TestParseSetString(t *testing.T) {
	t.Parallel()

	cmd, err := parser.Parse(`SET name "Alice"`)
	require.NoError(t, err)
	assert.Equal(t, parser.KindSet, cmd.Kind)
	assert.Equal(t, "name", cmd.Key)
	assert.Equal(t, value.String("Alice"), cmd.Value)
}

func TestParseSetIntegerNegative(t *testing.T) {
	t.Parallel()

	cmd, err := parser.Parse("SET x -42")
	require.NoError(t, err)
	assert.Equal(t, value.Integer(-42), cmd.Value)
}

func TestParseSetBooleanLowercase(t *testing.T) {
	t.Parallel()

	cmd, err := parser.Parse("SET flag true")
	require.NoError(t, err)
	assert.Equal(t, value.Boolean(true), cmd.Value)
}

func TestParseSetNilRejected(t *testing.T) {
	t.Parallel()

	_, err := parser.Parse("SET x NIL")
	assert.ErrorIs(t, err, parser.ErrCannotSetNil)
}

func TestParseBeginCommitRollback(t *testing.T) {
	t.Parallel()

	for input, kind := range map[string]parser.Kind{
		"BEGIN":    parser.KindBegin,
		"COMMIT":   parser.KindCommit,
		"ROLLBACK": parser.KindRollback,
	} {
		cmd, err := parser.Parse(input)
		require.NoError(t, err)
		assert.Equal(t, kind, cmd.Kind)
	}
}

func TestParseUnknownCommand(t *testing.T) {
	t.Parallel()

	_, err := parser.Parse("DELETE x")
	assert.ErrorIs(t, err, parser.ErrUnknownCommand)
}

func TestParseCommandKeywordIsCaseSensitive(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"get x", "Get x", "begin", "Begin", "commit", "rollback"} {
		_, err := parser.Parse(input)
		assert.ErrorIsf(t, err, parser.ErrUnknownCommand, "input %q should be rejected", input)
	}
}

func TestParseUnclosedString(t *testing.T) {
	t.Parallel()

	_, err := parser.Parse(`SET x "unterminated`)
	assert.ErrorIs(t, err, parser.ErrUnclosedString)
}

func TestParseExtraInput(t *testing.T) {
	t.Parallel()

	_, err := parser.Parse("BEGIN now")
	assert.ErrorIs(t, err, parser.ErrExtraInput)
}

func TestParseInvalidKey(t *testing.T) {
	t.Parallel()

	_, err := parser.Parse("GET 1abc")
	assert.ErrorIs(t, err, parser.ErrInvalidKey)
}

func TestParseInvalidValue(t *testing.T) {
	t.Parallel()

	_, err := parser.Parse("SET x @@@")
	assert.ErrorIs(t, err, parser.ErrInvalidValue)
}

func TestParseEscapesInQuotedString(t *testing.T) {
	t.Parallel()

	cmd, err := parser.Parse(`SET x "line\nbreak \"quoted\" end\\"`)
	require.NoError(t, err)
	assert.Equal(t, "line\nbreak \"quoted\" end\\", cmd.Value.Str)
}
