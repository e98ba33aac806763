// Package mixer sums any number of producer inputs into one output block.
package mixer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rbright/vice/internal/audio"
	"github.com/smallnest/ringbuffer"
)

var (
	// ErrTooManyInputs is returned when the configured input limit is reached.
	ErrTooManyInputs = errors.New("mixer input limit reached")
	// ErrInputClosed is returned by writes to a retired input.
	ErrInputClosed = errors.New("mixer input closed")
)

const bytesPerSample = 4

// Mixer owns every live input. Producers write into their own ring buffer;
// the single consumer calling Mix reads each buffer once per block.
type Mixer struct {
	format    audio.Format
	maxInputs int

	mu     sync.Mutex
	inputs []*Input

	mixMu sync.Mutex
	raw   []byte
	tmp   []float32
}

// New returns a mixer producing blocks in format. maxInputs <= 0 means no limit.
func New(format audio.Format, maxInputs int) *Mixer {
	return &Mixer{format: format, maxInputs: maxInputs}
}

func (m *Mixer) Format() audio.Format {
	return m.format
}

// Len returns the number of live inputs.
func (m *Mixer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// NewInput registers a producer with room for capacityFrames buffered frames.
func (m *Mixer) NewInput(name string, capacityFrames int) (*Input, error) {
	if capacityFrames <= 0 {
		capacityFrames = m.format.SampleRate / 5
	}
	frameBytes := m.format.Channels * bytesPerSample

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxInputs > 0 && len(m.inputs) >= m.maxInputs {
		return nil, ErrTooManyInputs
	}

	in := &Input{
		mixer:      m,
		name:       name,
		frameBytes: frameBytes,
		ring:       ringbuffer.New(capacityFrames * frameBytes),
		space:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	m.inputs = append(m.inputs, in)
	return in, nil
}

// Mix sums every input's buffered frames into out, clamps, and pads silence
// where inputs run short. It returns the number of inputs that contributed.
func (m *Mixer) Mix(out []float32) int {
	m.mixMu.Lock()
	defer m.mixMu.Unlock()

	clear(out)
	channels := m.format.Channels
	want := (len(out) / channels) * channels * bytesPerSample
	if cap(m.raw) < want {
		m.raw = make([]byte, want)
		m.tmp = make([]float32, want/bytesPerSample)
	}

	m.mu.Lock()
	inputs := append([]*Input(nil), m.inputs...)
	m.mu.Unlock()

	contributed := 0
	for _, in := range inputs {
		if in.retired.Load() {
			continue
		}
		n := in.readInto(m.raw[:want], m.tmp)
		if n > 0 {
			contributed++
			for i := 0; i < n; i++ {
				out[i] += m.tmp[i]
			}
		}
		if in.draining.Load() && in.ring.IsEmpty() {
			in.Close()
		}
	}

	for i, v := range out {
		out[i] = audio.Clamp(v)
	}
	return contributed
}

func (m *Mixer) remove(target *Input) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, in := range m.inputs {
		if in == target {
			m.inputs = append(m.inputs[:i], m.inputs[i+1:]...)
			return
		}
	}
}

// Input is one producer's queue into the mixer.
type Input struct {
	mixer      *Mixer
	name       string
	frameBytes int
	ring       *ringbuffer.RingBuffer

	space    chan struct{}
	done     chan struct{}
	once     sync.Once
	retired  atomic.Bool
	draining atomic.Bool

	wmu     sync.Mutex
	scratch []byte

	dropped atomic.Int64
}

func (in *Input) Name() string {
	return in.name
}

// Dropped returns the number of samples discarded by Submit on overflow.
func (in *Input) Dropped() int64 {
	return in.dropped.Load()
}

// Buffered returns the number of queued frames.
func (in *Input) Buffered() int {
	return in.ring.Length() / in.frameBytes
}

// Done is closed once the input has been retired.
func (in *Input) Done() <-chan struct{} {
	return in.done
}

// Submit queues as many whole frames as fit without blocking and returns the
// number of samples accepted. Overflow is counted as dropped.
func (in *Input) Submit(samples []float32) int {
	if in.retired.Load() {
		return 0
	}
	in.wmu.Lock()
	defer in.wmu.Unlock()

	in.scratch = audio.EncodeFloat32LE(in.scratch, samples)
	free := in.ring.Free()
	fit := min(free-free%in.frameBytes, len(in.scratch))
	written := 0
	if fit > 0 {
		written, _ = in.ring.Write(in.scratch[:fit])
	}
	accepted := written / bytesPerSample
	if dropped := len(samples) - accepted; dropped > 0 {
		in.dropped.Add(int64(dropped))
	}
	return accepted
}

// Write queues every sample, waiting for the consumer to make room.
func (in *Input) Write(ctx context.Context, samples []float32) error {
	in.wmu.Lock()
	defer in.wmu.Unlock()

	in.scratch = audio.EncodeFloat32LE(in.scratch, samples)
	raw := in.scratch
	for len(raw) > 0 {
		if in.retired.Load() {
			return ErrInputClosed
		}
		free := in.ring.Free()
		free -= free % in.frameBytes
		if free > 0 {
			n, _ := in.ring.Write(raw[:min(free, len(raw))])
			raw = raw[n:]
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-in.done:
			return ErrInputClosed
		case <-in.space:
		}
	}
	return nil
}

// CloseWhenDrained retires the input once the mixer has consumed everything
// already queued.
func (in *Input) CloseWhenDrained() {
	in.draining.Store(true)
	if in.ring.IsEmpty() {
		in.Close()
	}
}

// Close retires the input immediately, discarding queued frames.
func (in *Input) Close() {
	in.once.Do(func() {
		in.retired.Store(true)
		in.mixer.remove(in)
		close(in.done)
	})
}

// readInto decodes up to len(raw) bytes of whole frames into tmp and returns
// the sample count.
func (in *Input) readInto(raw []byte, tmp []float32) int {
	avail := in.ring.Length()
	avail -= avail % in.frameBytes
	if avail <= 0 {
		return 0
	}
	n, _ := in.ring.Read(raw[:min(avail, len(raw))])
	select {
	case in.space <- struct{}{}:
	default:
	}
	return audio.DecodeFloat32LE(tmp, raw[:n])
}
