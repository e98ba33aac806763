// Package audiotest provides an in-memory audio backend for router tests.
package audiotest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/vice/internal/audio"
)

// Event is one recorded backend interaction.
type Event struct {
	Op   string // open-capture, close-capture, open-render, close-render
	Name string
	At   time.Time
}

// Backend is a scriptable audio.Backend. Captures emit constant-level blocks
// paced by Tick; renders record what they receive.
type Backend struct {
	Tick  time.Duration
	Level float32

	mu           sync.Mutex
	outputs      []string
	inputs       []string
	apps         []string
	aliases      map[string]string
	catalogErr   error
	captureErrs  map[string]error
	renderErr    error
	renderFormat audio.Format
	renderDelay  time.Duration
	captureDelay time.Duration
	captures     []*Capture
	renders      []*Render
	events       []Event

	catalogCalls atomic.Int64
}

// New returns a backend with the given endpoints.
func New(outputs, inputs, apps []string) *Backend {
	return &Backend{
		Tick:        time.Millisecond,
		Level:       0.5,
		outputs:     outputs,
		inputs:      inputs,
		apps:        apps,
		captureErrs: map[string]error{},
		aliases:     map[string]string{},
	}
}

func (b *Backend) SetApplications(apps []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.apps = append([]string(nil), apps...)
}

// AliasApplication lets binds and presence checks name a listed application
// by another name, the way a process binary stands in for a display name.
func (b *Backend) AliasApplication(alias, listed string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aliases[alias] = listed
}

func (b *Backend) SetCatalogError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalogErr = err
}

// FailCapture makes OpenCapture for a source name return err.
func (b *Backend) FailCapture(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captureErrs[name] = err
}

func (b *Backend) FailRender(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renderErr = err
}

// SetRenderFormat makes renders report f instead of the requested format,
// the way a device narrows channel counts.
func (b *Backend) SetRenderFormat(f audio.Format) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renderFormat = f
}

// DelayOpen stalls capture and render opens, for bind timeout tests.
func (b *Backend) DelayOpen(capture, render time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captureDelay = capture
	b.renderDelay = render
}

func (b *Backend) CatalogCalls() int64 {
	return b.catalogCalls.Load()
}

func (b *Backend) Outputs(context.Context) ([]string, error) {
	return b.list(func() []string { return b.outputs })
}

func (b *Backend) Inputs(context.Context) ([]string, error) {
	return b.list(func() []string { return b.inputs })
}

func (b *Backend) Applications(context.Context) ([]string, error) {
	return b.list(func() []string { return b.apps })
}

func (b *Backend) ApplicationPresent(_ context.Context, app string) (bool, error) {
	b.catalogCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.catalogErr != nil {
		return false, b.catalogErr
	}
	return b.appKnown(app), nil
}

// appKnown reports whether app, or the application it aliases, is listed.
// Callers hold b.mu.
func (b *Backend) appKnown(app string) bool {
	if listed, ok := b.aliases[app]; ok {
		app = listed
	}
	return contains(b.apps, app)
}

func (b *Backend) list(pick func() []string) ([]string, error) {
	b.catalogCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.catalogErr != nil {
		return nil, b.catalogErr
	}
	return append([]string(nil), pick()...), nil
}

func (b *Backend) OpenCapture(ctx context.Context, source audio.Source, cfg audio.StreamConfig) (audio.CaptureStream, error) {
	b.mu.Lock()
	delay := b.captureDelay
	failure := b.captureErrs[source.Name]
	known := source.Name == "" || contains(b.inputs, source.Name)
	if source.Kind == audio.SourceApplication {
		known = b.appKnown(source.Name)
	}
	b.mu.Unlock()

	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", audio.ErrSourceUnavailable, source)
	}

	c := &Capture{
		backend: b,
		source:  source,
		format:  cfg.Format,
		tick:    b.Tick,
		level:   b.Level,
		closed:  make(chan struct{}),
	}
	b.mu.Lock()
	b.captures = append(b.captures, c)
	b.events = append(b.events, Event{Op: "open-capture", Name: source.Name, At: time.Now()})
	b.mu.Unlock()
	return c, nil
}

func (b *Backend) OpenRender(ctx context.Context, device string, cfg audio.StreamConfig) (audio.RenderStream, error) {
	b.mu.Lock()
	delay := b.renderDelay
	failure := b.renderErr
	format := cfg.Format
	if b.renderFormat.Valid() {
		format = b.renderFormat
	}
	known := device == "" || contains(b.outputs, device)
	b.mu.Unlock()

	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", audio.ErrDeviceUnavailable, device)
	}

	r := &Render{backend: b, device: device, format: format, tick: b.Tick, closed: make(chan struct{})}
	b.mu.Lock()
	b.renders = append(b.renders, r)
	b.events = append(b.events, Event{Op: "open-render", Name: device, At: time.Now()})
	b.mu.Unlock()
	return r, nil
}

// Captures returns every capture opened so far.
func (b *Backend) Captures() []*Capture {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Capture(nil), b.captures...)
}

// Renders returns every render opened so far.
func (b *Backend) Renders() []*Render {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Render(nil), b.renders...)
}

// OpenCaptures returns captures that have not been closed.
func (b *Backend) OpenCaptures() []*Capture {
	out := make([]*Capture, 0)
	for _, c := range b.Captures() {
		if !c.Closed() {
			out = append(out, c)
		}
	}
	return out
}

func (b *Backend) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

func (b *Backend) record(op, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Event{Op: op, Name: name, At: time.Now()})
}

// Capture is a fake capture stream.
type Capture struct {
	backend *Backend
	source  audio.Source
	format  audio.Format
	tick    time.Duration
	level   float32

	closed chan struct{}
	once   sync.Once
	reads  atomic.Int64
}

func (c *Capture) Source() audio.Source { return c.source }

func (c *Capture) Format() audio.Format { return c.format }

func (c *Capture) Reads() int64 { return c.reads.Load() }

func (c *Capture) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Capture) ReadFrames(ctx context.Context, dst []float32) (int, error) {
	select {
	case <-c.closed:
		return 0, audio.ErrStreamClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(c.tick):
	}
	for i := range dst {
		dst[i] = c.level
	}
	c.reads.Add(1)
	return len(dst) / c.format.Channels, nil
}

func (c *Capture) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.backend.record("close-capture", c.source.Name)
	})
	return nil
}

// Render is a fake render stream.
type Render struct {
	backend *Backend
	device  string
	format  audio.Format
	tick    time.Duration

	mu     sync.Mutex
	frames int
	peak   float32
	last   []float32

	closed chan struct{}
	once   sync.Once
}

func (r *Render) Device() string { return r.device }

func (r *Render) Format() audio.Format { return r.format }

func (r *Render) WriteFrames(ctx context.Context, src []float32) error {
	select {
	case <-r.closed:
		return audio.ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.tick):
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames += len(src) / r.format.Channels
	if p := audio.Peak(src); p > r.peak {
		r.peak = p
	}
	r.last = append(r.last[:0], src...)
	return nil
}

// Frames returns the number of frames written.
func (r *Render) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Peak returns the largest sample written so far.
func (r *Render) Peak() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

// Last returns a copy of the most recent block.
func (r *Render) Last() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float32(nil), r.last...)
}

func (r *Render) Closed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *Render) Close() error {
	r.once.Do(func() {
		close(r.closed)
		r.backend.record("close-render", r.device)
	})
	return nil
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
