package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandHasServeAndVersionSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["version"])
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), Version)
}

// TestServeCommandAcceptsConfigurationFlags guards against flags being
// registered from inside RunE, which is too late for cobra to recognize them
// on the command line (and, for a flag a parent already owns, panics with a
// "flag redefined" error instead of merely being ignored).
func TestServeCommandAcceptsConfigurationFlags(t *testing.T) {
	root := NewRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		require.NoError(t, serve.ParseFlags([]string{"--port", "9000", "--debug"}))
	})

	port, err := serve.Flags().GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, 9000, port)

	debug, err := serve.Flags().GetBool("debug")
	require.NoError(t, err)
	assert.True(t, debug)
}
