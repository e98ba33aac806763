package engine

import (
	"context"
	"math"
	"time"

	"github.com/rbright/vice/internal/fsm"
)

// Status is a point-in-time view of the engine.
type Status struct {
	State      fsm.State      `json:"state"`
	Generation uint64         `json:"generation"`
	Output     string         `json:"output,omitempty"`
	Since      time.Time      `json:"since,omitzero"`
	Error      string         `json:"error,omitempty"`
	OutputPeak float32        `json:"output_peak"`
	Workers    []WorkerStatus `json:"workers"`
}

// WorkerStatus describes one channel route in the live generation.
type WorkerStatus struct {
	Channel    string  `json:"channel"`
	Source     string  `json:"source"`
	Status     string  `json:"status"`
	LowLatency bool    `json:"low_latency"`
	Gain       float64 `json:"gain"`
	Peak       float32 `json:"peak"`
	Dropped    int64   `json:"dropped"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	g := e.current
	status := Status{
		State:      e.state,
		Generation: e.generation.Load(),
		Workers:    []WorkerStatus{},
	}
	if e.lastErr != nil {
		status.Error = e.lastErr.Error()
	}
	e.mu.Unlock()

	if g == nil {
		return status
	}
	status.Output = g.device
	status.Since = g.startedAt
	if e.peaksOn.Load() {
		status.OutputPeak = math.Float32frombits(g.peak.Load())
	}
	for _, w := range g.workers {
		source, state := w.snapshot()
		ws := WorkerStatus{
			Channel:    w.channel.Name,
			Source:     source.String(),
			Status:     state,
			LowLatency: w.channel.LowLatency,
			Gain:       e.volumes.Get(w.channel.Name),
			Peak:       math.Float32frombits(w.peak.Load()),
		}
		if in := w.input.Load(); in != nil {
			ws.Dropped = in.Dropped()
		}
		status.Workers = append(status.Workers, ws)
	}
	return status
}

// Peak returns the last block peak for a routed channel. It reports false when
// level metering is disabled or the channel has no live worker.
func (e *Engine) Peak(name string) (float32, bool) {
	if !e.peaksOn.Load() {
		return 0, false
	}
	e.mu.Lock()
	g := e.current
	e.mu.Unlock()
	if g == nil {
		return 0, false
	}
	for _, w := range g.workers {
		if w.channel.Name != name {
			continue
		}
		_, state := w.snapshot()
		if state != WorkerRouting {
			return 0, true
		}
		return math.Float32frombits(w.peak.Load()), true
	}
	return 0, false
}

// OutputPeak returns the last rendered block's peak on the bound output. It
// reports false when metering is off or nothing is routed.
func (e *Engine) OutputPeak() (float32, bool) {
	if !e.peaksOn.Load() {
		return 0, false
	}
	e.mu.Lock()
	g := e.current
	e.mu.Unlock()
	if g == nil {
		return 0, false
	}
	return math.Float32frombits(g.peak.Load()), true
}

// Outputs lists output devices, or an empty list if enumeration fails.
func (e *Engine) Outputs(ctx context.Context) []string {
	return e.enumerate(ctx, "outputs", e.backend.Outputs)
}

// Inputs lists input devices, or an empty list if enumeration fails.
func (e *Engine) Inputs(ctx context.Context) []string {
	return e.enumerate(ctx, "inputs", e.backend.Inputs)
}

// Applications lists capturable applications, or an empty list if
// enumeration fails.
func (e *Engine) Applications(ctx context.Context) []string {
	return e.enumerate(ctx, "applications", e.backend.Applications)
}

func (e *Engine) enumerate(ctx context.Context, kind string, list func(context.Context) ([]string, error)) []string {
	e.drainMu.RLock()
	defer e.drainMu.RUnlock()

	names, err := list(ctx)
	if err != nil {
		e.logger.Warn("device enumeration failed", "kind", kind, "error", err.Error())
		return []string{}
	}
	if names == nil {
		return []string{}
	}
	return names
}
