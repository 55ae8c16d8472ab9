package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves the test into a scratch directory so Load never picks up a
// developer's config.yaml.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, 30*time.Second, cfg.Gateway.RequestTimeout)
	assert.Equal(t, int64(10485760), cfg.Gateway.MaxBodyBytes)
	assert.Equal(t, 50, cfg.Pools.GlobalMax)
	assert.Equal(t, 10, cfg.Pools.PerUserMax)
	assert.Equal(t, 5*time.Minute, cfg.Pools.IdleTimeout)
	assert.Equal(t, 300*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 30*time.Second, cfg.Changes.RefreshInterval)
	assert.Equal(t, 5, cfg.Discovery.MaxConcurrent)
	assert.Equal(t, 10, cfg.Testing.MaxBatch)
	assert.False(t, cfg.Tunnel.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t)
	t.Setenv("PGAI_PORT", "9000")
	t.Setenv("CONNECTION_SERVICE_URL", "http://connection:8081")
	t.Setenv("PGAI_POOLS_GLOBAL_MAX", "20")
	t.Setenv("PGAI_TUNNEL_ENABLED", "true")
	t.Setenv("PGAI_ENCRYPTION_KEY", "passphrase")

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "http://connection:8081", cfg.Gateway.ConnectionServiceURL)
	assert.Equal(t, 20, cfg.Pools.GlobalMax)
	assert.True(t, cfg.Tunnel.Enabled)
	assert.Equal(t, "passphrase", cfg.EncryptionKey)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := chdir(t)
	yaml := `
port: "7070"
gateway:
  user_service_url: http://user:8080
  request_timeout: 15s
pools:
  global_max: 30
  per_user_max: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "http://user:8080", cfg.Gateway.UserServiceURL)
	assert.Equal(t, 15*time.Second, cfg.Gateway.RequestTimeout)
	assert.Equal(t, 30, cfg.Pools.GlobalMax)
	assert.Equal(t, 5, cfg.Pools.PerUserMax)
}

func TestLoad_RejectsBadCaps(t *testing.T) {
	chdir(t)
	t.Setenv("PGAI_POOLS_PER_USER_MAX", "100")
	t.Setenv("PGAI_POOLS_GLOBAL_MAX", "50")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per_user_max")
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "pgai", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=pgai sslmode=disable", c.ConnectionString())
}
