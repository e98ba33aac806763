package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/vice/internal/audio"
	"github.com/rbright/vice/internal/mixer"
	"github.com/rbright/vice/internal/store"
)

// Worker status values reported through Status.
const (
	WorkerBinding     = "binding"
	WorkerRouting     = "routing"
	WorkerIdle        = "idle"
	WorkerUnavailable = "unavailable"
	WorkerFailed      = "failed"
	WorkerStopped     = "stopped"
)

// worker routes one channel for one generation.
type worker struct {
	engine  *Engine
	gen     *generation
	channel store.Channel
	block   int
	logger  *slog.Logger

	mu     sync.Mutex
	source audio.Source
	status string

	peak  atomic.Uint32
	input atomic.Pointer[mixer.Input]
}

func newWorker(e *Engine, g *generation, ch store.Channel) *worker {
	block := e.opts.BlockFrames
	if ch.LowLatency {
		block = e.opts.LowLatencyBlockFrames
	}
	return &worker{
		engine:  e,
		gen:     g,
		channel: ch,
		block:   block,
		source:  ch.AudioSource(),
		status:  WorkerBinding,
		logger: e.logger.With(
			"channel", ch.Name,
			"generation", g.id,
		),
	}
}

func (w *worker) setStatus(status string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
}

func (w *worker) snapshot() (audio.Source, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.source, w.status
}

func (w *worker) live(ctx context.Context) bool {
	return ctx.Err() == nil && w.engine.live(w.gen.id)
}

func (w *worker) run(ctx context.Context) {
	e := w.engine

	in, err := e.mixer.NewInput(w.channel.Name, e.opts.InputBufferFrames)
	if err != nil {
		w.logger.Error("worker spawn failed; channel has no route", "error", err.Error())
		w.setStatus(WorkerFailed)
		return
	}
	w.input.Store(in)
	defer in.Close()

	capture, err := w.open(ctx)
	if err != nil {
		if w.live(ctx) {
			w.logger.Warn("source unavailable; channel not routed",
				"source", w.channel.AudioSource().String(),
				"error", err.Error(),
			)
			w.setStatus(WorkerUnavailable)
		} else {
			w.setStatus(WorkerStopped)
		}
		return
	}

	for {
		gone := w.route(ctx, capture, in)
		_ = capture.Close()
		if !gone || !w.live(ctx) {
			w.setStatus(WorkerStopped)
			return
		}

		capture = w.await(ctx)
		if capture == nil {
			w.setStatus(WorkerStopped)
			return
		}
	}
}

// open binds the channel's source. A missing device falls back to the default
// input; a missing application is reported to the caller.
func (w *worker) open(ctx context.Context) (audio.CaptureStream, error) {
	source := w.channel.AudioSource()
	capture, err := w.bindSource(ctx, source)
	if err == nil {
		return capture, nil
	}
	if source.Kind != audio.SourceDevice || source.Name == "" || !errors.Is(err, audio.ErrSourceUnavailable) {
		return nil, err
	}

	fallback := audio.Source{Kind: audio.SourceDevice}
	w.logger.Warn("input unavailable; falling back to default input",
		"source", source.String(),
		"error", err.Error(),
	)
	capture, err = w.bindSource(ctx, fallback)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.source = fallback
	w.mu.Unlock()
	return capture, nil
}

func (w *worker) bindSource(ctx context.Context, source audio.Source) (audio.CaptureStream, error) {
	e := w.engine
	cfg := audio.StreamConfig{
		Format:      e.opts.Format,
		BlockFrames: w.block,
		LowLatency:  w.channel.LowLatency,
		MediaName:   "vice: " + w.channel.Name,
	}
	w.setStatus(WorkerBinding)
	return bind(ctx, e.opts.BindTimeout, func(ctx context.Context) (audio.CaptureStream, error) {
		return e.backend.OpenCapture(ctx, source, cfg)
	})
}

// route pumps blocks until the generation ends or the source goes away. It
// reports whether the source went away while the generation was still live.
func (w *worker) route(ctx context.Context, capture audio.CaptureStream, in *mixer.Input) bool {
	e := w.engine
	from := capture.Format()
	to := e.mixer.Format()
	buf := make([]float32, from.Samples(w.block))
	var converted []float32

	w.setStatus(WorkerRouting)
	w.logger.Info("channel routing", "source", w.currentSource().String(), "format", from.String())

	lastPoll := time.Now()
	for {
		if !w.live(ctx) {
			return false
		}

		frames, err := capture.ReadFrames(ctx, buf)
		if err != nil {
			if !w.live(ctx) {
				return false
			}
			w.logger.Warn("capture failed", "error", err.Error())
			return true
		}
		// The table may have been reset for the next generation.
		if !w.live(ctx) {
			return false
		}

		samples := buf[:from.Samples(frames)]
		audio.ApplyGain(samples, e.volumes.Get(w.channel.Name))
		if e.peaksOn.Load() {
			w.peak.Store(math.Float32bits(audio.Peak(samples)))
		}
		if from != to {
			converted = audio.Convert(converted, samples, from, to)
			samples = converted
		}
		in.Submit(samples)

		if w.channel.SourceKind == audio.SourceApplication && time.Since(lastPoll) >= e.opts.AppPollInterval {
			lastPoll = time.Now()
			if !w.applicationPresent(ctx) {
				w.logger.Info("application stopped playing; idling", "application", w.channel.Source)
				return true
			}
		}
	}
}

// await idles until the source can be bound again or the generation ends.
func (w *worker) await(ctx context.Context) audio.CaptureStream {
	w.setStatus(WorkerIdle)
	w.peak.Store(0)

	interval := w.engine.opts.AppPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !w.live(ctx) {
			return nil
		}
		if w.channel.SourceKind == audio.SourceApplication && !w.applicationPresent(ctx) {
			continue
		}

		capture, err := w.open(ctx)
		if err == nil {
			w.logger.Info("source back; resuming")
			return capture
		}
		w.setStatus(WorkerIdle)
		w.logger.Debug("rebind failed", "error", err.Error())
	}
}

func (w *worker) applicationPresent(ctx context.Context) bool {
	present, err := w.engine.backend.ApplicationPresent(ctx, w.channel.Source)
	if err != nil {
		// An unreadable catalog is not evidence the application left.
		return true
	}
	return present
}

func (w *worker) currentSource() audio.Source {
	source, _ := w.snapshot()
	return source
}
