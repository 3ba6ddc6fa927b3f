package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateCommand_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "services.db")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("LOG_LEVEL", "error")

	cmd := rootCmd()
	cmd.SetArgs([]string{"migrate", "--env-file", ""})

	require.NoError(t, cmd.Execute())
	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestMigrateCommand_BadConfig(t *testing.T) {
	t.Setenv("PORT", "70000")

	cmd := rootCmd()
	cmd.SetArgs([]string{"migrate", "--env-file", ""})

	assert.ErrorContains(t, cmd.Execute(), "PORT")
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd().Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
}
