package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/require"
)

func useStateHome(t *testing.T) string {
	t.Helper()
	t.Cleanup(xdg.Reload)
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	xdg.Reload()
	return dir
}

func TestResolveLogPathUsesXDGStateHome(t *testing.T) {
	dir := useStateHome(t)
	require.Equal(t, filepath.Join(dir, "vice", "log.jsonl"), resolveLogPath())
}

func TestNewCreatesWritableJSONLogFile(t *testing.T) {
	useStateHome(t)

	runtime, err := New("info")
	require.NoError(t, err)

	runtime.Logger.Info("unit-test-log", "component", "logging")
	runtime.Logger.Debug("filtered-debug")
	require.NoError(t, runtime.Close())

	contents, err := os.ReadFile(runtime.Path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"msg":"unit-test-log"`)
	require.Contains(t, string(contents), `"component":"logging"`)
	require.Contains(t, string(contents), `"pid":`)
	require.NotContains(t, string(contents), "filtered-debug")

	stat, err := os.Stat(runtime.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestNewDebugLevelKeepsDebugRecords(t *testing.T) {
	useStateHome(t)

	runtime, err := New("debug")
	require.NoError(t, err)
	runtime.Logger.Debug("kept-debug")
	require.NoError(t, runtime.Close())

	contents, err := os.ReadFile(runtime.Path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "kept-debug")
}

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}

	_, err := ParseLevel("trace")
	require.Error(t, err)
}
