package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Hub.Port)
	assert.Equal(t, 30*time.Second, cfg.Hub.SyncInterval)
	assert.Equal(t, 50, cfg.Hub.HistorySize)
	assert.Equal(t, "0.0.0.0:9000", cfg.Hub.ListenAddr())
	assert.False(t, cfg.Hub.TLSEnabled())
	assert.Equal(t, "memory", cfg.Agent.Queue)
	assert.Equal(t, uint(0), cfg.Agent.Reconnect.MaxAttempts)
	assert.Equal(t, 64<<20, cfg.Wire.MaxFrameBytes)
	assert.Zero(t, cfg.Cache.FriendTTL)
}

func TestLoadFile_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	yaml := `
hub:
  port: 9443
  cert_file: server.crt
  key_file: server.key
  sync_interval: 5s
  history_size: 3
agent:
  hub_host: hub.internal
  queue: redis
cache:
  friend_ttl: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("SYNCSPHERE_HUB_HISTORY_SIZE", "7")
	t.Setenv("SYNCSPHERE_AGENT_INSECURE_SKIP_VERIFY", "true")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.Hub.Port)
	assert.Equal(t, 5*time.Second, cfg.Hub.SyncInterval)
	assert.Equal(t, 7, cfg.Hub.HistorySize)
	assert.True(t, cfg.Hub.TLSEnabled())
	assert.Equal(t, "hub.internal:9000", cfg.Agent.HubAddr())
	assert.Equal(t, "redis", cfg.Agent.Queue)
	assert.True(t, cfg.Agent.InsecureSkipVerify)
	assert.Equal(t, 5*time.Minute, cfg.Cache.FriendTTL)
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  queue: kafka\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadFile_CertWithoutKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hub:\n  cert_file: server.crt\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFile_MissingExplicitFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
