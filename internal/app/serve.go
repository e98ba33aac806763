package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rbright/vice/internal/config"
	"github.com/rbright/vice/internal/control"
	"github.com/rbright/vice/internal/engine"
	"github.com/rbright/vice/internal/fsm"
	"github.com/rbright/vice/internal/health"
	"github.com/rbright/vice/internal/ipc"
	"github.com/rbright/vice/internal/notify"
	"github.com/rbright/vice/internal/soundboard"
	"github.com/rbright/vice/internal/store"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// commandServe owns the control socket and runs the daemon until ctx ends.
func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath(cfg.Control.Socket)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	registry, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	eng := engine.New(r.backend(), registry, engineOptions(cfg), logger)
	player := soundboard.New(runCtx, eng.Mixer(), soundboardOptions(cfg), logger)
	service := control.NewService(eng, player, registry, logger)

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return ipc.Serve(groupCtx, listener, service)
	})

	var observers []func(fsm.State)
	if cfg.Control.Health {
		observe, err := startHealth(groupCtx, group, cfg, logger)
		if err != nil {
			cancel()
			_ = group.Wait()
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		observers = append(observers, observe)
	}
	if cfg.Control.Notify {
		desktop := notify.NewDesktop("vice", logger)
		defer desktop.Wait()
		observers = append(observers, func(state fsm.State) {
			desktop.Observe(state, eng.LastError())
		})
	}
	eng.OnStateChange(func(state fsm.State) {
		for _, observe := range observers {
			observe(state)
		}
	})
	for _, observe := range observers {
		observe(eng.State())
	}

	logger.Info("daemon ready", "socket", socketPath, "store", registry.Path())

	if cfg.Routing.Autostart {
		if err := eng.Start(groupCtx); err != nil {
			// The daemon stays up so the user can fix the output and restart.
			logger.Warn("autostart failed", "error", err.Error())
			fmt.Fprintf(r.Stderr, "warning: routing not started: %v\n", err)
		}
	}

	serveErr := group.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := eng.Close(closeCtx); err != nil {
		logger.Warn("engine close", "error", err.Error())
	}
	cancel()
	player.Wait()

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		fmt.Fprintf(r.Stderr, "error: %v\n", serveErr)
		logger.Error("daemon failed", "error", serveErr.Error())
		return 1
	}
	logger.Info("daemon stopped")
	return 0
}

// startHealth serves the health endpoint under group and returns the engine
// state observer that feeds it.
func startHealth(ctx context.Context, group *errgroup.Group, cfg config.Config, logger *slog.Logger) (func(fsm.State), error) {
	path, err := health.SocketPath(cfg.Control.HealthSocket)
	if err != nil {
		return nil, err
	}
	listener, err := health.Listen(path)
	if err != nil {
		return nil, err
	}

	server := health.NewServer(logger)
	group.Go(func() error {
		defer func() { _ = os.Remove(path) }()
		return server.Serve(ctx, listener)
	})
	return server.Observe, nil
}
