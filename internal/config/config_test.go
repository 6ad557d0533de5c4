package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "data/personas.db", cfg.Store.DatabasePath)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: openai
  model: gpt-4o-mini
  timeout: 90s
server:
  addr: ":9999"
store:
  database_path: /tmp/test-personas.db
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "/tmp/test-personas.db", cfg.Store.DatabasePath)

	timeout, err := cfg.LLMTimeout()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, timeout)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [broken"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PERSONALENS_PROVIDER", "openai")
	t.Setenv("PERSONALENS_API_KEY", "sk-test")
	t.Setenv("PERSONALENS_ADDR", ":7070")
	t.Setenv("PERSONALENS_DB_PATH", "/tmp/override.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "/tmp/override.db", cfg.Store.DatabasePath)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "key"
	require.NoError(t, cfg.Validate())

	cfg.LLM.Provider = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	assert.Error(t, cfg.Validate(), "missing api key must fail validation")

	cfg = DefaultConfig()
	cfg.LLM.APIKey = "key"
	cfg.LLM.Timeout = "soon"
	assert.Error(t, cfg.Validate())
}

func TestTimeoutDefaults(t *testing.T) {
	cfg := &Config{}
	llm, err := cfg.LLMTimeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, llm)

	req, err := cfg.RequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, req)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.Addr = ":4242"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":4242", loaded.Server.Addr)
}
