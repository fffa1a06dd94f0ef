//nolint:testpackage
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsRootCommand(t *testing.T) {
	t.Parallel()

	root := New()
	require.NotNil(t, root)

	assert.Equal(t, "cube", root.Name)
	assert.Len(t, root.Commands, 1)
	assert.Equal(t, "serve", root.Commands[0].Name)
}

func TestServeCommandDefaultFlags(t *testing.T) {
	t.Parallel()

	root := New()
	serve := root.Commands[0]

	names := make(map[string]bool, len(serve.Flags))
	for _, f := range serve.Flags {
		for _, n := range f.Names() {
			names[n] = true
		}
	}

	for _, want := range []string{"port", "data-dir", "bloom-size", "bloom-hash-count", "txn-idle-timeout", "txn-sweep-interval"} {
		assert.True(t, names[want], "expected serve command to declare flag %q", want)
	}
}
