package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.Equal(t, "wakdb", cfg.AppName)
	require.Equal(t, "data", cfg.Storage.DataDir)
	require.Equal(t, 128, cfg.Storage.PageCacheCapacity)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YamlOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wakdb.yaml")
	yaml := []byte("storage:\n  data_dir: /var/lib/wakdb\n  page_cache_capacity: 32\nlog:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/wakdb", cfg.Storage.DataDir)
	require.Equal(t, 32, cfg.Storage.PageCacheCapacity)
	require.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	require.Equal(t, "wakdb", cfg.AppName)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
