// Command vice runs the audio routing daemon and its control CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/vice/internal/app"
)

// shutdownSignals end a running daemon cleanly: routing drains and the
// control socket is released. SIGHUP covers a closed controlling terminal.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	return app.Execute(ctx, args, os.Stdout, os.Stderr)
}
