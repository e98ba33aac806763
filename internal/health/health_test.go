package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/rbright/vice/internal/fsm"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "vh")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, "h.sock")

	listener, err := Listen(path)
	require.NoError(t, err)

	srv := NewServer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return srv, path
}

func TestCheckFollowsEngineState(t *testing.T) {
	srv, path := startServer(t)

	status, err := Check(context.Background(), path, time.Second)
	require.NoError(t, err)
	require.Equal(t, "NOT_SERVING", status)

	srv.Observe(fsm.StateRunning)
	status, err = Check(context.Background(), path, time.Second)
	require.NoError(t, err)
	require.Equal(t, "SERVING", status)

	srv.Observe(fsm.StateFailed)
	status, err = Check(context.Background(), path, time.Second)
	require.NoError(t, err)
	require.Equal(t, "NOT_SERVING", status)
}

func TestCheckWithoutServerTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sock")

	started := time.Now()
	_, err := Check(context.Background(), path, 100*time.Millisecond)
	require.Error(t, err)
	require.Less(t, time.Since(started), time.Second)
}

func TestListenReplacesStaleSocketFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "vh")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "h.sock")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	listener, err := Listen(path)
	require.NoError(t, err)
	require.NoError(t, listener.Close())
}

func TestSocketPath(t *testing.T) {
	t.Cleanup(xdg.Reload)
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	xdg.Reload()

	path, err := SocketPath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "vice-health.sock"), path)

	path, err = SocketPath("/tmp/override.sock")
	require.NoError(t, err)
	require.Equal(t, "/tmp/override.sock", path)
}
