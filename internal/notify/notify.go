// Package notify raises a desktop notification while routing is failed.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/vice/internal/fsm"
)

const dispatchTimeout = 400 * time.Millisecond

// Desktop tracks the single routing-failure notification.
type Desktop struct {
	appName string
	logger  *slog.Logger

	mu   sync.Mutex
	tail chan struct{}
	wg   sync.WaitGroup

	// id is only touched by dispatched calls, which run one at a time in
	// submission order.
	id uint32
}

func NewDesktop(appName string, logger *slog.Logger) *Desktop {
	if strings.TrimSpace(appName) == "" {
		appName = "vice"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Desktop{appName: appName, logger: logger}
}

// Observe shows a notification on failure and clears it once routing runs
// again. It never blocks the caller.
func (d *Desktop) Observe(state fsm.State, cause error) {
	switch state {
	case fsm.StateFailed:
		body := "Routing stopped."
		if cause != nil {
			body = cause.Error()
		}
		d.dispatch(func(ctx context.Context) error {
			id, err := show(ctx, d.appName, d.id, "Routing failed", body, 0)
			if err != nil {
				return err
			}
			d.id = id
			return nil
		})
	case fsm.StateRunning, fsm.StateStopped:
		d.dispatch(func(ctx context.Context) error {
			if d.id == 0 {
				return nil
			}
			id := d.id
			d.id = 0
			return closeNotification(ctx, id)
		})
	}
}

// Wait blocks until queued notifications are delivered.
func (d *Desktop) Wait() {
	d.wg.Wait()
}

func (d *Desktop) dispatch(fn func(context.Context) error) {
	d.mu.Lock()
	prev := d.tail
	done := make(chan struct{})
	d.tail = done
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Debug("desktop notification failed", "error", err.Error())
		}
	}()
}
