package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("GIGSYNC_API_BASE_URL", "https://api.example.test")
	t.Setenv("GIGSYNC_REALTIME_URL", "wss://push.example.test/ws")
	t.Setenv("GIGSYNC_SESSION_USER_ID", "42")
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("GIGSYNC_MEMBERSHIP_STATIC_GROUPS", "7, 9")
	t.Setenv("GIGSYNC_AUTH_API_KEYS", "k1,k2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test", cfg.API.BaseURL)
	assert.Equal(t, 10, cfg.API.TimeoutSec)
	assert.Equal(t, 300, cfg.Cache.TTLSec)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 1000, cfg.Realtime.BaseBackoffMs)
	assert.Equal(t, 30000, cfg.Realtime.MaxBackoffMs)
	assert.Equal(t, 300, cfg.Read.DebounceMs)
	assert.Equal(t, []string{"7", "9"}, cfg.Membership.StaticGroups)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("GIGSYNC_REALTIME_URL", "wss://push.example.test/ws")
	t.Setenv("GIGSYNC_SESSION_USER_ID", "42")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_url")
}

func TestLoadFrom_File(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "gigsync.yaml")
	body := []byte("cache:\n  backend: redis\n  ttl_sec: 60\nread:\n  debounce_ms: 150\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 60, cfg.Cache.TTLSec)
	assert.Equal(t, 150, cfg.Read.DebounceMs)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("GIGSYNC_CACHE_BACKEND", "memcached")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memcached")
}
