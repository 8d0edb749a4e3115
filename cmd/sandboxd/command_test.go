package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubRun(cmd *cobra.Command, args []string) error { return nil }

func TestRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.RunE = stubRun
	cmd.SetArgs([]string{"--help"})
	require.NoError(t, cmd.Execute())
}

func TestRootCommandParsesFlags(t *testing.T) {
	cmd := newRootCommand()
	cmd.RunE = stubRun
	cmd.SetArgs([]string{"--config", "/tmp/sandbox.yaml", "--listen", "127.0.0.1:1234", "--workers", "8"})
	require.NoError(t, cmd.Execute())

	configVal, err := cmd.Flags().GetString("config")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sandbox.yaml", configVal)

	listenVal, err := cmd.Flags().GetString("listen")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", listenVal)

	workersVal, err := cmd.Flags().GetInt("workers")
	require.NoError(t, err)
	assert.Equal(t, 8, workersVal)
}

func TestRootCommandDefaultListenAddr(t *testing.T) {
	cmd := newRootCommand()
	listenVal, err := cmd.Flags().GetString("listen")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", listenVal)
}
