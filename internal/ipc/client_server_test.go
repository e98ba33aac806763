package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendRoundTrip(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vice.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			require.Equal(t, "status", req.Command)
			return Response{OK: true, State: "running", Message: "ok"}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, "running", resp.State)
	require.Equal(t, "ok", resp.Message)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestSendCarriesArgsAndData(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "vice.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type volumeArgs struct {
		Name string  `json:"name"`
		Gain float64 `json:"gain"`
	}
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			var args volumeArgs
			if err := req.DecodeArgs(&args); err != nil {
				return Failure(err)
			}
			return Success("running", map[string]float64{args.Name: args.Gain})
		}))
	}()

	req, err := NewRequest("channel.volume", volumeArgs{Name: "mic", Gain: 0.5})
	require.NoError(t, err)
	resp, err := Send(context.Background(), socketPath, req, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)

	var data map[string]float64
	require.NoError(t, resp.DecodeData(&data))
	require.Equal(t, map[string]float64{"mic": 0.5}, data)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestServeRejectsMissingCommand(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "vice.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, _ Request) Response {
			return Response{OK: true}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{}, 200*time.Millisecond)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "missing command")

	cancel()
	require.NoError(t, <-serveDone)
}

func TestDecodeHelpers(t *testing.T) {
	var target struct{ Name string }
	require.NoError(t, Request{Command: "status"}.DecodeArgs(&target))
	require.Error(t, Request{Command: "x", Args: json.RawMessage(`[`)}.DecodeArgs(&target))
	require.Error(t, Response{OK: true}.DecodeData(&target))

	resp := Success("running", nil)
	require.True(t, resp.OK)
	require.Empty(t, resp.Data)

	resp = Success("running", func() {})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "encode response data")
}

func TestSendDecodeResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vice.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		_, _ = reader.ReadBytes('\n')
		_, _ = conn.Write([]byte("not-json\n"))
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode status response")
}

func TestSendReadResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vice.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		_ = conn.Close()
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read status response")
}

func TestServeDecodeRequestErrorResponse(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vice.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, _ Request) Response {
			return Response{OK: true}
		}))
	}()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")

	cancel()
	require.NoError(t, <-serveDone)
}

func TestResponsiveCountsAnyReply(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vice.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	commands := make(chan string, 1)
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			commands <- req.Command
			return Response{OK: false, State: "failed", Error: "bind output device: gone"}
		}))
	}()

	alive, err := Responsive(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, alive)
	require.Equal(t, "status", <-commands)

	cancel()
	require.NoError(t, <-serveDone)

	alive, err = Responsive(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestCallReturnsRemoteError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "vice.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			var args struct {
				Name string `json:"name"`
			}
			if err := req.DecodeArgs(&args); err != nil {
				return Failure(err)
			}
			if args.Name == "ghost" {
				return Response{OK: false, State: "running", Error: `unknown channel: "ghost"`}
			}
			return Success("running", args)
		}))
	}()

	resp, err := Call(context.Background(), socketPath, "channel.peak", map[string]string{"name": "mic"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"mic"}`, string(resp.Data))

	_, err = Call(context.Background(), socketPath, "channel.peak", map[string]string{"name": "ghost"}, 200*time.Millisecond)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "channel.peak", remote.Command)
	require.Equal(t, "running", remote.State)
	require.Contains(t, remote.Error(), "unknown channel")

	cancel()
	require.NoError(t, <-serveDone)
}

func TestNoListener(t *testing.T) {
	require.False(t, NoListener(nil))
	require.True(t, NoListener(os.ErrNotExist))
	require.True(t, NoListener(syscall.ECONNREFUSED))
	require.False(t, NoListener(errors.New("read status response: i/o timeout")))

	_, err := Send(context.Background(), filepath.Join(t.TempDir(), "missing.sock"), Request{Command: "status"}, 50*time.Millisecond)
	require.True(t, NoListener(err))
}
