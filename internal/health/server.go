// Package health exposes routing engine state over the gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/rbright/vice/internal/fsm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the health service name reporting routing state.
const Service = "vice.routing"

const socketName = "vice-health.sock"

// SocketPath resolves the health socket path. An override wins over the XDG
// runtime directory.
func SocketPath(override string) (string, error) {
	if path := strings.TrimSpace(override); path != "" {
		return path, nil
	}
	if strings.TrimSpace(xdg.RuntimeDir) == "" {
		return "", errors.New("no runtime directory: set XDG_RUNTIME_DIR")
	}
	return filepath.Join(xdg.RuntimeDir, socketName), nil
}

// Server serves grpc.health.v1 on a unix socket.
type Server struct {
	logger *slog.Logger
	grpc   *grpc.Server
	health *health.Server
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hs := health.NewServer()
	hs.SetServingStatus(Service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)
	return &Server{logger: logger, grpc: gs, health: hs}
}

// Observe maps an engine state onto the routing service status.
func (s *Server) Observe(state fsm.State) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if state == fsm.StateRunning {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, status)
	s.logger.Debug("health status updated", "state", state, "status", status.String())
}

// Listen binds the unix socket at path, replacing a stale socket file.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure health socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale health socket %s: %w", path, err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	_ = os.Chmod(path, 0o600)
	return listener, nil
}

// Serve blocks until ctx ends, then drains in-flight checks.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	if err := s.grpc.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}
	return nil
}
