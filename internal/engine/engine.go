// Package engine runs the channel routing generations: one capture worker per
// channel feeding the shared mixer, and one output pump rendering the mix.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/vice/internal/audio"
	"github.com/rbright/vice/internal/fsm"
	"github.com/rbright/vice/internal/mixer"
	"github.com/rbright/vice/internal/store"
	"github.com/rbright/vice/internal/volume"
)

var (
	ErrAlreadyRunning  = errors.New("routing already running; use restart")
	ErrDestinationBind = errors.New("bind output device")
	ErrBindTimeout     = errors.New("bind timed out")
	ErrClosed          = errors.New("engine closed")
)

// Registry is the read side of the channel registry.
type Registry interface {
	Channels() []store.Channel
	Settings() store.Settings
}

// Options tunes stream sizes and lifecycle timing.
type Options struct {
	Format                audio.Format
	BlockFrames           int
	LowLatencyBlockFrames int
	InputBufferFrames     int
	MaxInputs             int
	DrainGrace            time.Duration
	DrainTimeout          time.Duration
	BindTimeout           time.Duration
	AppPollInterval       time.Duration
}

// DefaultOptions returns 48kHz stereo with 20ms blocks (5ms under low latency).
func DefaultOptions() Options {
	return Options{
		Format:                audio.Format{SampleRate: 48000, Channels: 2},
		BlockFrames:           960,
		LowLatencyBlockFrames: 240,
		InputBufferFrames:     9600,
		MaxInputs:             64,
		DrainGrace:            500 * time.Millisecond,
		DrainTimeout:          2 * time.Second,
		BindTimeout:           3 * time.Second,
		AppPollInterval:       2 * time.Second,
	}
}

// StateObserver is notified after every state change.
type StateObserver func(fsm.State)

// Engine owns the volume table, the mixer, and the live generation. All
// routing state hangs off one Engine value; independent engines share nothing.
type Engine struct {
	logger   *slog.Logger
	backend  audio.Backend
	registry Registry
	volumes  *volume.Table
	mixer    *mixer.Mixer
	opts     Options

	root     context.Context
	shutdown context.CancelFunc

	// generation is the live generation id. Workers compare their captured id
	// against it every cycle; any bump invalidates every older worker.
	generation atomic.Uint64
	peaksOn    atomic.Bool

	// lifecycle serializes start, restart, and close sequences.
	lifecycle sync.Mutex
	// drainMu is held exclusively while a generation tears down so device
	// enumeration never overlaps teardown.
	drainMu sync.RWMutex

	mu       sync.Mutex
	state    fsm.State
	current  *generation
	lastErr  error
	closed   bool
	observer StateObserver
}

type generation struct {
	id        uint64
	ctx       context.Context
	cancel    context.CancelFunc
	output    audio.RenderStream
	device    string
	startedAt time.Time
	workers   []*worker
	// peak is the last rendered block's peak, as float32 bits.
	peak      atomic.Uint32
	wg        sync.WaitGroup
}

// New builds an engine routing from registry through backend.
func New(backend audio.Backend, registry Registry, opts Options, logger *slog.Logger) *Engine {
	defaults := DefaultOptions()
	if !opts.Format.Valid() {
		opts.Format = defaults.Format
	}
	if opts.BlockFrames <= 0 {
		opts.BlockFrames = defaults.BlockFrames
	}
	if opts.LowLatencyBlockFrames <= 0 {
		opts.LowLatencyBlockFrames = opts.BlockFrames
	}
	if opts.InputBufferFrames <= 0 {
		opts.InputBufferFrames = opts.BlockFrames * 10
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	root, shutdown := context.WithCancel(context.Background())
	return &Engine{
		logger:   logger,
		backend:  backend,
		registry: registry,
		volumes:  volume.New(),
		mixer:    mixer.New(opts.Format, opts.MaxInputs),
		opts:     opts,
		root:     root,
		shutdown: shutdown,
		state:    fsm.StateStopped,
	}
}

// Volumes returns the live gain table.
func (e *Engine) Volumes() *volume.Table {
	return e.volumes
}

// Mixer returns the shared output mixer.
func (e *Engine) Mixer() *mixer.Mixer {
	return e.mixer
}

func (e *Engine) Options() Options {
	return e.opts
}

// OnStateChange registers the state observer.
func (e *Engine) OnStateChange(observer StateObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = observer
}

func (e *Engine) State() fsm.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the error that last moved the engine to failed.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Generation returns the live generation id.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

func (e *Engine) live(id uint64) bool {
	return e.generation.Load() == id
}

// Start binds the output and spawns one worker per channel. It refuses while
// a generation is running.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	return e.startLocked(ctx)
}

// Restart tears down the live generation and starts a fresh one on its own
// goroutine. The returned channel yields the start result and may be ignored.
func (e *Engine) Restart() <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- e.restart()
	}()
	return done
}

func (e *Engine) restart() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.isClosed() {
		return ErrClosed
	}

	e.logger.Info("routing restart requested", "generation", e.generation.Load())
	e.volumes.ResetAll()
	e.teardown(fsm.EventRestart, e.opts.DrainGrace, e.opts.DrainTimeout)
	e.transition(fsm.EventDrained, nil)

	err := e.startLocked(e.root)
	if err != nil {
		e.logger.Error("routing restart failed", "error", err.Error())
	}
	return err
}

// Close invalidates the live generation and waits for its goroutines until
// ctx ends. The engine cannot be started again.
func (e *Engine) Close(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	timeout := e.opts.DrainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	e.teardown(fsm.EventClose, 0, timeout)
	e.shutdown()
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) startLocked(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state == fsm.StateRunning {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	stale := e.current
	e.current = nil
	e.mu.Unlock()

	// A failed generation may still be unwinding.
	if stale != nil {
		stale.cancel()
		waitTimeout(&stale.wg, e.opts.DrainTimeout)
	}

	channels := e.registry.Channels()
	settings := e.registry.Settings()
	e.peaksOn.Store(settings.Peaks)

	cfg := audio.StreamConfig{
		Format:      e.opts.Format,
		BlockFrames: e.opts.BlockFrames,
		MediaName:   "vice output",
	}
	output, err := bind(ctx, e.opts.BindTimeout, func(ctx context.Context) (audio.RenderStream, error) {
		return e.backend.OpenRender(ctx, settings.Output, cfg)
	})
	if err != nil {
		err = fmt.Errorf("%w %q: %w", ErrDestinationBind, settings.Output, err)
		e.logger.Error("output bind failed", "output", settings.Output, "error", err.Error())
		e.transition(fsm.EventFail, err)
		return err
	}

	genCtx, cancel := context.WithCancel(e.root)
	g := &generation{
		id:        e.generation.Add(1),
		ctx:       genCtx,
		cancel:    cancel,
		output:    output,
		device:    settings.Output,
		startedAt: time.Now(),
	}

	g.wg.Add(1)
	go e.pump(g)

	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if _, dup := seen[ch.Name]; dup {
			e.logger.Warn("duplicate channel name skipped", "channel", ch.Name)
			continue
		}
		seen[ch.Name] = struct{}{}

		e.volumes.Set(ch.Name, ch.Gain)
		w := newWorker(e, g, ch)
		g.workers = append(g.workers, w)

		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			pprof.Do(genCtx, pprof.Labels("channel", ch.Name), w.run)
		}()
	}

	e.mu.Lock()
	e.current = g
	e.mu.Unlock()
	e.transition(fsm.EventStart, nil)

	e.logger.Info("routing started",
		"generation", g.id,
		"output", settings.Output,
		"channels", len(g.workers),
	)
	return nil
}

// teardown invalidates the live generation, waits the grace period, then
// waits up to timeout for its goroutines.
func (e *Engine) teardown(event fsm.Event, grace, timeout time.Duration) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	e.mu.Lock()
	g := e.current
	e.current = nil
	e.mu.Unlock()

	e.generation.Add(1)
	if g != nil {
		g.cancel()
	}
	e.transition(event, nil)

	if grace > 0 {
		time.Sleep(grace)
	}
	if g == nil {
		return
	}
	if !waitTimeout(&g.wg, timeout) {
		e.logger.Warn("generation still draining after timeout",
			"generation", g.id,
			"timeout_ms", timeout.Milliseconds(),
		)
		return
	}
	e.logger.Info("generation drained", "generation", g.id)
}

// pump renders the mix until the generation ends.
func (e *Engine) pump(g *generation) {
	defer g.wg.Done()
	defer func() { _ = g.output.Close() }()

	from, to := e.opts.Format, g.output.Format()
	convert := to.Valid() && to != from
	if convert {
		e.logger.Info("converting mix for output", "mix", from, "output", to)
	}

	block := make([]float32, from.Samples(e.opts.BlockFrames))
	var converted []float32
	for e.live(g.id) {
		e.mixer.Mix(block)
		out := block
		if convert {
			converted = audio.Convert(converted, block, from, to)
			out = converted
		}
		if e.peaksOn.Load() {
			g.peak.Store(math.Float32bits(audio.Peak(out)))
		}
		if err := g.output.WriteFrames(g.ctx, out); err != nil {
			if g.ctx.Err() != nil || !e.live(g.id) {
				return
			}
			e.fail(g, fmt.Errorf("%w %q: %w", ErrDestinationBind, g.device, err))
			return
		}
	}
}

// fail ends generation g after its output broke.
func (e *Engine) fail(g *generation, err error) {
	if !e.generation.CompareAndSwap(g.id, g.id+1) {
		return
	}
	g.cancel()
	e.logger.Error("output failed; routing stopped", "generation", g.id, "error", err.Error())
	e.transition(fsm.EventFail, err)
}

func (e *Engine) transition(event fsm.Event, cause error) {
	e.mu.Lock()
	next, err := fsm.Transition(e.state, event)
	if err != nil {
		e.mu.Unlock()
		e.logger.Warn("engine state transition rejected", "error", err.Error())
		return
	}
	changed := next != e.state
	e.state = next
	if event == fsm.EventFail {
		e.lastErr = cause
	} else if next == fsm.StateRunning {
		e.lastErr = nil
	}
	observer := e.observer
	e.mu.Unlock()

	if changed && observer != nil {
		observer(next)
	}
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
