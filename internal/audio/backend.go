// Package audio abstracts the platform audio server behind enumerate, open,
// capture, render, and close operations, and carries the sample conversions
// the router applies between them.
package audio

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable reports a capture source that cannot be resolved.
	ErrSourceUnavailable = errors.New("audio source unavailable")
	// ErrDeviceUnavailable reports an output device that cannot be resolved.
	ErrDeviceUnavailable = errors.New("audio output device unavailable")
	// ErrStreamClosed is returned by reads and writes after Close.
	ErrStreamClosed = errors.New("audio stream closed")
)

// SourceKind selects how a capture source name is interpreted.
type SourceKind string

const (
	SourceDevice      SourceKind = "device"
	SourceApplication SourceKind = "application"
)

// Source names one capture source. An empty Name with SourceDevice selects
// the system default input.
type Source struct {
	Kind SourceKind
	Name string
}

func (s Source) String() string {
	name := s.Name
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("%s:%s", s.Kind, name)
}

// Format describes interleaved float32 PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Samples returns the interleaved sample count for frames.
func (f Format) Samples(frames int) int {
	return frames * f.Channels
}

// Valid reports whether the format can carry audio.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// StreamConfig parameterizes one capture or render stream.
type StreamConfig struct {
	Format      Format
	BlockFrames int
	LowLatency  bool
	MediaName   string
}

// CaptureStream yields interleaved frames from one source.
type CaptureStream interface {
	Format() Format
	// ReadFrames fills dst with whole frames and returns the frame count. It
	// blocks until at least one frame is available, ctx ends, or the stream
	// closes.
	ReadFrames(ctx context.Context, dst []float32) (int, error)
	Close() error
}

// RenderStream accepts interleaved frames for one output device.
type RenderStream interface {
	Format() Format
	// WriteFrames queues src, blocking while the device buffer is full.
	WriteFrames(ctx context.Context, src []float32) error
	Close() error
}

// Catalog enumerates endpoints by display name.
type Catalog interface {
	Outputs(ctx context.Context) ([]string, error)
	Inputs(ctx context.Context) ([]string, error)
	Applications(ctx context.Context) ([]string, error)
}

// Backend is the full audio server surface used by the router.
type Backend interface {
	Catalog
	// ApplicationPresent reports whether app is playing audio, matching it
	// by the same names OpenCapture accepts.
	ApplicationPresent(ctx context.Context, app string) (bool, error)
	OpenCapture(ctx context.Context, source Source, cfg StreamConfig) (CaptureStream, error)
	// OpenRender binds an output device; an empty device selects the default.
	OpenRender(ctx context.Context, device string, cfg StreamConfig) (RenderStream, error)
}
