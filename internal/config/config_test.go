package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths(t *testing.T) *Paths {
	dir := t.TempDir()
	return &Paths{
		ConfigDir: filepath.Join(dir, "config"),
		DataDir:   filepath.Join(dir, "data"),
		CacheDir:  filepath.Join(dir, "cache"),
	}
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	paths := testPaths(t)
	cfg, err := LoadFile(filepath.Join(paths.ConfigDir, "nope.toml"), paths)
	require.NoError(t, err)

	assert.Equal(t, paths.DataDir, cfg.General.DataDir)
	assert.Equal(t, filepath.Join(paths.DataDir, "plugins"), cfg.Plugins.PluginDir)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, []string{"active"}, cfg.Ingest.StopChatStates)
	assert.Equal(t, 72*time.Hour, cfg.Dedup.TTL())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	paths := testPaths(t)
	path := filepath.Join(paths.ConfigDir, "config.toml")
	require.NoError(t, os.MkdirAll(paths.ConfigDir, 0700))
	require.NoError(t, os.WriteFile(path, []byte(`
[account]
jid = "inbox@example.com"
port = 5223

[storage]
driver = "memory"

[dedup]
backend = "memory"
ttl_hours = 1

[ingest]
stop_chat_states = ["active", "gone"]
`), 0600))

	t.Setenv("INBOX_ACCOUNT_PASSWORD", "secret")
	t.Setenv("INBOX_LOG_LEVEL", "debug")
	t.Setenv("INBOX_PLUGINS_ENABLED", "notifylog,other")

	cfg, err := LoadFile(path, paths)
	require.NoError(t, err)

	assert.Equal(t, "inbox@example.com", cfg.Account.JID)
	assert.Equal(t, 5223, cfg.Account.Port)
	assert.Equal(t, "inbox", cfg.Account.Resource)
	assert.Equal(t, "secret", cfg.Account.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, time.Hour, cfg.Dedup.TTL())
	assert.Equal(t, []string{"active", "gone"}, cfg.Ingest.StopChatStates)
	assert.Equal(t, []string{"notifylog", "other"}, cfg.Plugins.Enabled)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Storage.Driver = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Storage.Driver = "memory"
	assert.Error(t, cfg.Validate(), "sqlite dedup needs sqlite storage")

	cfg.Dedup.Backend = "redis"
	assert.NoError(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	paths := testPaths(t)
	path := paths.ConfigPath()

	cfg := DefaultConfig()
	cfg.Account.JID = "inbox@example.com"
	cfg.Telemetry.Enabled = true
	require.NoError(t, Save(cfg, path))

	loaded, err := LoadFile(path, paths)
	require.NoError(t, err)
	assert.Equal(t, "inbox@example.com", loaded.Account.JID)
	assert.True(t, loaded.Telemetry.Enabled)
}
