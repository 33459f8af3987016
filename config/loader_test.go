package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEmptyPath(t *testing.T) {
	loader := NewLoader()

	config, err := loader.LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, "sai-newscache", config.Name)
	assert.Equal(t, 2000, config.Cache.Capacity)
	assert.Equal(t, 90*time.Second, config.Cache.DefaultTTL)
	assert.Equal(t, 600*time.Second, config.Cache.DefaultStaleTTL)
	assert.Equal(t, 30*time.Second, config.Cache.NegativeTTL)
	assert.True(t, config.Breaker.Enabled)
	assert.Equal(t, 3, config.Breaker.FailureBurst)
	assert.False(t, config.L2.Enabled)
	assert.Equal(t, 4.0, config.L2.TTLMultiplier)
	assert.True(t, config.Revalidate.Enabled)
	assert.True(t, config.Prefetch.Enabled)
	assert.Equal(t, 8*time.Second, config.Dispatch.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	loader := NewLoader()

	_, err := loader.LoadFromFile("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestLoadYamlOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: edge-cache
cache:
  capacity: 500
  default_ttl: 45s
breaker:
  enabled: false
providers:
  - name: newsapi
    base_url: https://newsapi.example.com/v2
    api_key: secret
    cost: 1
    daily_limit: 1000
`), 0644))

	loader := NewLoader()
	config, err := loader.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-cache", config.Name)
	assert.Equal(t, 500, config.Cache.Capacity)
	assert.Equal(t, 45*time.Second, config.Cache.DefaultTTL)
	assert.False(t, config.Breaker.Enabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, 600*time.Second, config.Cache.DefaultStaleTTL)
	assert.True(t, config.Revalidate.Enabled)

	require.Len(t, config.Providers, 1)
	assert.Equal(t, "newsapi", config.Providers[0].Name)
	assert.Equal(t, 1000, config.Providers[0].DailyLimit)
}

func TestLoadInvalidYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("cache: [not a map"), 0644))

	loader := NewLoader()
	_, err := loader.LoadFromFile(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEWSCACHE_CACHE_CAPACITY", "42")
	t.Setenv("NEWSCACHE_CACHE_TTL", "2m")
	t.Setenv("NEWSCACHE_BREAKER_ENABLED", "false")
	t.Setenv("NEWSCACHE_LOG_LEVEL", "debug")

	loader := NewLoader()
	config, err := loader.LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, 42, config.Cache.Capacity)
	assert.Equal(t, 2*time.Minute, config.Cache.DefaultTTL)
	assert.False(t, config.Breaker.Enabled)
	assert.Equal(t, "debug", config.Logger.Level)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("NEWSCACHE_CACHE_CAPACITY", "not-a-number")

	loader := NewLoader()
	config, err := loader.LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, 2000, config.Cache.Capacity)
}

func TestConfigManagerLoadAndGet(t *testing.T) {
	manager, err := NewConfigurationManager("")
	require.NoError(t, err)

	config := manager.GetConfig()
	require.NotNil(t, config)
	assert.Equal(t, "sai-newscache", config.Name)
}

func TestNewFromConfigNilUsesDefaults(t *testing.T) {
	manager := NewFromConfig(nil)

	config := manager.GetConfig()
	require.NotNil(t, config)
	assert.Equal(t, 2000, config.Cache.Capacity)
}
