package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoaderWith(viper.New()).Load("")
	require.NoError(t, err)
	def := LoadConfig()
	assert.Equal(t, def.Pipeline.Workers, cfg.Pipeline.Workers)
	assert.Equal(t, def.Extract.ChunkSize, cfg.Extract.ChunkSize)
	assert.Equal(t, def.Server.GRPCAddr, cfg.Server.GRPCAddr)
}

func TestLoaderFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
pipeline:
  workers: 7
llm:
  providers: [anthropic]
`), 0o600))
	t.Setenv("DOCFLOW_OUTPUT_DIR", "/tmp/artifacts")

	l := NewLoaderWith(viper.New())
	cfg, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.ConfigFileUsed())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Pipeline.Workers)
	assert.Equal(t, []string{"anthropic"}, cfg.LLM.Providers)
	assert.Equal(t, "/tmp/artifacts", cfg.Output.Dir)
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoaderWith(viper.New()).Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "config file does not exist")
}

func TestDumpYAMLMasksSecrets(t *testing.T) {
	cfg := LoadConfig()
	cfg.LLM.OpenAI.APIKey = "sk-live"
	cfg.Database.DSN = "postgres://u:p@h/db"

	out, err := DumpYAML(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-live")
	assert.NotContains(t, string(out), "u:p@h")
	assert.Equal(t, "sk-live", cfg.LLM.OpenAI.APIKey)
}

func TestValidate(t *testing.T) {
	cfg := LoadConfig()
	cfg.LLM.Providers = []string{"openai"}
	cfg.LLM.OpenAI.APIKey = ""
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)

	cfg.LLM.OpenAI.APIKey = "sk"
	assert.NoError(t, cfg.Validate())

	cfg.Extract.ChunkOverlap = cfg.Extract.ChunkSize
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)

	cfg = LoadConfig()
	cfg.LLM.Providers = []string{"mystery"}
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
}
