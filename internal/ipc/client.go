package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// statusCommand is the daemon's status command. Every daemon answers it,
// so it doubles as a liveness check.
const statusCommand = "status"

// maxResponseBytes bounds one response line. Status with many workers is
// the largest reply and stays far below this.
const maxResponseBytes = 1 << 20

// RemoteError is a failure reported by the daemon itself, as opposed to a
// transport failure.
type RemoteError struct {
	Command string
	State   string
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Send performs one request/response exchange over the unix socket at path.
// The whole exchange, dial included, shares one deadline.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	line, err := bufio.NewReader(io.LimitReader(conn, maxResponseBytes)).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read %s response: %w", req.Command, err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode %s response: %w", req.Command, err)
	}
	return resp, nil
}

// Call sends command with args and turns a failed response into a
// *RemoteError.
func Call(ctx context.Context, path, command string, args any, timeout time.Duration) (Response, error) {
	req, err := NewRequest(command, args)
	if err != nil {
		return Response{}, err
	}
	resp, err := Send(ctx, path, req, timeout)
	if err != nil {
		return Response{}, err
	}
	if !resp.OK {
		return resp, &RemoteError{Command: command, State: resp.State, Message: resp.Error}
	}
	return resp, nil
}

// Responsive reports whether a daemon answers on path. Any decoded reply
// counts, even a failure. A missing socket or a refused dial means nobody
// owns it.
func Responsive(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Send(ctx, path, Request{Command: statusCommand}, timeout)
	if err == nil {
		return true, nil
	}
	if NoListener(err) {
		return false, nil
	}
	return false, fmt.Errorf("check socket owner: %w", err)
}

// NoListener reports dial failures meaning no daemon listens on the socket.
func NoListener(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED)
}
