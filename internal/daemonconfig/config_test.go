package daemonconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultFillsEveryField(t *testing.T) {
	cfg := Default()
	require.NotEmpty(t, cfg.SocketPath)
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
	require.NotEmpty(t, cfg.StateDir)
}

func TestLoadDecodesSocketAndPlugins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sysconfigd.hcl")
	doc := `
socket_path = "/tmp/sysconfigd-test.sock"
log_level   = "debug"

plugin "com.example.provisioning" {
    name     = "provisioning"
    required = true
}

plugin "com.example.network" {
    name = "network"
}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/sysconfigd-test.sock", cfg.SocketPath)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Plugins, 2)

	preload := cfg.PluginPreload()
	require.Contains(t, preload, "com.example.provisioning")
	require.True(t, preload["com.example.provisioning"].Required)
	require.False(t, preload["com.example.network"].Required)
}

func TestLoadFillsDefaultsForUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sysconfigd.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`log_level = "warn"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.SocketPath)
	require.Equal(t, "warn", cfg.LogLevel)
	require.NotEmpty(t, cfg.StateDir)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.hcl"))
	require.Error(t, err)
}

func TestGlobalConfigProjectsLogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "trace"}
	require.Equal(t, "trace", cfg.GlobalConfig().LogLevel)
}
