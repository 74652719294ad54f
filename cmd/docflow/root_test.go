package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "docflow", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommandSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"process", "batch", "watch", "migrate", "config"} {
		assert.Contains(t, names, want)
	}
}

func TestProcessRequiresOneArg(t *testing.T) {
	_, err := execute(t, "process")
	assert.Error(t, err)
}

func TestConfigMasksSecrets(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
llm:
  openai:
    api_key: sk-very-secret
`)
	out, err := execute(t, "--config", path, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "log_level: debug")
	assert.Contains(t, out, "****")
	assert.NotContains(t, out, "sk-very-secret")
}

func TestConfigMissingFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "config")
	assert.ErrorContains(t, err, "config file does not exist")
}

func TestMigrateSQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "docflow.db")
	path := writeConfig(t, "database:\n  sqlite_path: "+db+"\n")
	out, err := execute(t, "--config", path, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
	_, err = os.Stat(db)
	assert.NoError(t, err)
}
