package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Cleanup(func() { cfgFile, verbose = "", false })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)

	path := filepath.Join(t.TempDir(), "svcctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node:\n  name: ops\nregistry:\n  type: memory\n"), 0o644))
	cfgFile, verbose = path, true

	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.Node.Name)
	assert.Equal(t, "memory", cfg.Registry.Type)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "call", "wait", "list"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
}

func TestCallRejectsInvalidJSON(t *testing.T) {
	err := runCall(callCmd, []string{"add_two_ints", "{not json"})
	assert.ErrorContains(t, err, "not valid JSON")
}
