package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdwal/exactapi/common/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "NL", cfg.Exact.Country)
	assert.Equal(t, 5, cfg.Exact.RefreshThresholdMinutes)
	assert.Equal(t, "memory", cfg.Store.Kind)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EXACT_CLIENT_ID", "env-client")
	t.Setenv("EXACT_CLIENT_SECRET", "env-secret")
	t.Setenv("EXACT_COUNTRY", "BE")
	t.Setenv("EXACT_REFRESH_THRESHOLD_MINUTES", "7")
	t.Setenv("ADDR", ":9090")
	t.Setenv("STORE_KIND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-client", cfg.Exact.ClientID)
	assert.Equal(t, "env-secret", cfg.Exact.ClientSecret)
	assert.Equal(t, "BE", cfg.Exact.Country)
	assert.Equal(t, 7, cfg.Exact.RefreshThresholdMinutes)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Store.Kind)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
}

func TestLoad_YAMLFileWithEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  addr: ":7070"
exact:
  client_id: file-client
  country: DE
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("EXACT_COUNTRY", "FR")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "file-client", cfg.Exact.ClientID)
	// env wins over file
	assert.Equal(t, "FR", cfg.Exact.Country)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
