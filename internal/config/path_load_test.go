package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	t.Cleanup(xdg.Reload)
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	xdg.Reload()
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "vice", "config.jsonc"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "audio": {
    "sample_rate": 44100,
    "channels": 2,
  },
  "store": {"path": "/tmp/vice/settings.json"},
  "control": {"health": false, "notify": false}
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, 44100, loaded.Config.Audio.SampleRate)
	require.Equal(t, "/tmp/vice/settings.json", loaded.Config.Store.Path)
	require.False(t, loaded.Config.Control.Health)
	require.False(t, loaded.Config.Control.Notify)
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"log": {"level": "warn"}}`), 0o600))
	t.Setenv("VICE_LOG_LEVEL", "debug")
	t.Setenv("VICE_SAMPLE_RATE", "44100")
	t.Setenv("VICE_HEALTH", "false")
	t.Setenv("VICE_NOTIFY", "false")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", loaded.Config.Log.Level)
	require.Equal(t, 44100, loaded.Config.Audio.SampleRate)
	require.False(t, loaded.Config.Control.Health)
	require.False(t, loaded.Config.Control.Notify)
	require.Equal(t, Default().Audio.BlockFrames, loaded.Config.Audio.BlockFrames)
}

func TestLoadRejectsInvalidEnvironmentOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")
	t.Setenv("VICE_LOG_LEVEL", "loud")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "log.level")
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}
