package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

var ErrAlreadyRunning = errors.New("vice daemon already running")

// SocketName is the control socket file name inside the runtime dir.
const SocketName = "vice.sock"

// RuntimeSocketPath resolves the control socket path. An override wins over
// the XDG runtime directory.
func RuntimeSocketPath(override string) (string, error) {
	if path := strings.TrimSpace(override); path != "" {
		return path, nil
	}
	runtimeDir := strings.TrimSpace(xdg.RuntimeDir)
	if runtimeDir == "" {
		return "", errors.New("no runtime directory: set XDG_RUNTIME_DIR")
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// Acquire listens on path. A stale socket nobody answers on is removed and
// rescue runs before the next attempt; a live owner yields ErrAlreadyRunning.
func Acquire(
	ctx context.Context,
	path string,
	ownerTimeout time.Duration,
	retries int,
	rescue func(context.Context) error,
) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; attempt <= retries; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return listener, nil
		}

		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, ownerErr := Responsive(ctx, path, ownerTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if ownerErr != nil {
			return nil, fmt.Errorf("existing socket %s: %w", path, ownerErr)
		}

		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, removeErr)
		}

		if rescue != nil {
			_ = rescue(ctx)
		}

		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, retries)
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use")
}
