package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "ingestagent")
	assert.Contains(t, out, "destination directory")
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "ingestagent", cmd.Use)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"run", "validate", "check", "history", "reconcile"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommand_Version(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"config", "profile", "log-level"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}
