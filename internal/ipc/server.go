package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// requestReadTimeout bounds how long a client may take to send its request line.
const requestReadTimeout = 2 * time.Second

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve accepts unix-socket clients until context cancellation or listener close.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()

			_ = json.NewEncoder(c).Encode(serveConn(ctx, c, handler))
		}(conn)
	}
}

func serveConn(ctx context.Context, c net.Conn, handler Handler) Response {
	_ = c.SetReadDeadline(time.Now().Add(requestReadTimeout))

	line, err := bufio.NewReader(c).ReadBytes('\n')
	if err != nil {
		return Failure(fmt.Errorf("read request: %w", err))
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Failure(fmt.Errorf("decode request: %w", err))
	}
	if req.Command == "" {
		return Failure(errors.New("decode request: missing command"))
	}

	_ = c.SetReadDeadline(time.Time{})
	return handler.Handle(ctx, req)
}
