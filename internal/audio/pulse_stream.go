package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/smallnest/ringbuffer"
)

const (
	bytesPerSample = 4

	captureBufferBlocks = 8
	renderBufferBlocks  = 3

	playbackLatency           = 0.06
	playbackLatencyLowLatency = 0.02
)

// pulseCapture queues record callbacks in a ring buffer until ReadFrames
// drains them.
type pulseCapture struct {
	client *pulse.Client
	stream *pulse.RecordStream
	format Format

	ring    *ringbuffer.RingBuffer
	ready   chan struct{}
	closed  chan struct{}
	once    sync.Once
	scratch []byte

	dropped atomic.Int64
}

func startPulseCapture(client *pulse.Client, target pulse.RecordOption, cfg StreamConfig) (*pulseCapture, error) {
	format := streamFormat(cfg.Format)
	block := blockFrames(cfg)
	frameBytes := format.Channels * bytesPerSample

	c := &pulseCapture{
		client: client,
		format: format,
		ring:   ringbuffer.New(block * frameBytes * captureBufferBlocks),
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	opts := []pulse.RecordOption{
		target,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(block * frameBytes)),
		pulse.RecordMediaName(mediaName(cfg, "vice capture")),
	}
	if format.Channels == 1 {
		opts = append(opts, pulse.RecordMono)
	} else {
		opts = append(opts, pulse.RecordStereo)
	}

	writer := pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatFloat32LE)
	stream, err := client.NewRecord(writer, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	c.stream = stream
	stream.Start()
	return c, nil
}

func (c *pulseCapture) Format() Format {
	return c.format
}

// onPCM receives raw float32 frames from Pulse. Whole frames that do not fit
// are dropped rather than blocking the client loop.
func (c *pulseCapture) onPCM(buffer []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.EOF
	default:
	}

	frameBytes := c.format.Channels * bytesPerSample
	free := c.ring.Free()
	fit := free - free%frameBytes
	data := buffer
	if len(data) > fit {
		c.dropped.Add(int64(len(data) - fit))
		data = data[:fit]
	}
	if len(data) > 0 {
		_, _ = c.ring.Write(data)
	}

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return len(buffer), nil
}

func (c *pulseCapture) ReadFrames(ctx context.Context, dst []float32) (int, error) {
	channels := c.format.Channels
	frameBytes := channels * bytesPerSample
	want := (len(dst) / channels) * frameBytes
	if want == 0 {
		return 0, nil
	}

	for {
		select {
		case <-c.closed:
			return 0, ErrStreamClosed
		default:
		}

		avail := c.ring.Length()
		if avail >= frameBytes {
			n := min(avail, want)
			n -= n % frameBytes
			if cap(c.scratch) < n {
				c.scratch = make([]byte, n)
			}
			raw := c.scratch[:n]
			read, _ := c.ring.Read(raw)
			read -= read % frameBytes
			DecodeFloat32LE(dst, raw[:read])
			return read / frameBytes, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-c.closed:
			return 0, ErrStreamClosed
		case <-c.ready:
		}
	}
}

func (c *pulseCapture) Close() error {
	c.once.Do(func() {
		close(c.closed)
		if c.stream != nil {
			c.stream.Stop()
			c.stream.Close()
		}
		c.client.Close()
	})
	return nil
}

// pulseRender buffers written frames for the playback callback, padding with
// silence on underrun.
type pulseRender struct {
	client *pulse.Client
	stream *pulse.PlaybackStream
	format Format
	block  int

	ring    *ringbuffer.RingBuffer
	space   chan struct{}
	closed  chan struct{}
	once    sync.Once
	scratch []byte

	underruns atomic.Int64
}

func startPulseRender(client *pulse.Client, sink *pulse.Sink, cfg StreamConfig) (*pulseRender, error) {
	format := streamFormat(cfg.Format)
	block := blockFrames(cfg)
	frameBytes := format.Channels * bytesPerSample

	r := &pulseRender{
		client: client,
		format: format,
		block:  block,
		ring:   ringbuffer.New(block * frameBytes * renderBufferBlocks),
		space:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	latency := playbackLatency
	if cfg.LowLatency {
		latency = playbackLatencyLowLatency
	}
	opts := []pulse.PlaybackOption{
		pulse.PlaybackSink(sink),
		pulse.PlaybackSampleRate(format.SampleRate),
		pulse.PlaybackLatency(latency),
		pulse.PlaybackMediaName(mediaName(cfg, "vice output")),
	}
	if format.Channels == 1 {
		opts = append(opts, pulse.PlaybackMono)
	} else {
		opts = append(opts, pulse.PlaybackStereo)
	}

	reader := pulse.NewReader(readerFunc(r.onRequest), pulseproto.FormatFloat32LE)
	stream, err := client.NewPlayback(reader, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}
	r.stream = stream
	stream.Start()
	return r, nil
}

func (r *pulseRender) Format() Format {
	return r.format
}

func (r *pulseRender) onRequest(p []byte) (int, error) {
	select {
	case <-r.closed:
		return 0, pulse.EndOfData
	default:
	}

	n := 0
	if r.ring.Length() > 0 {
		n, _ = r.ring.Read(p)
	}
	if n < len(p) {
		clear(p[n:])
		r.underruns.Add(1)
	}

	select {
	case r.space <- struct{}{}:
	default:
	}
	return len(p), nil
}

func (r *pulseRender) WriteFrames(ctx context.Context, src []float32) error {
	r.scratch = EncodeFloat32LE(r.scratch, src)
	raw := r.scratch
	frameBytes := r.format.Channels * bytesPerSample
	wait := time.Duration(r.block*renderBufferBlocks) * time.Second / time.Duration(r.format.SampleRate)

	for len(raw) > 0 {
		select {
		case <-r.closed:
			return ErrStreamClosed
		default:
		}

		free := r.ring.Free()
		free -= free % frameBytes
		if free > 0 {
			n, _ := r.ring.Write(raw[:min(free, len(raw))])
			raw = raw[n:]
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.closed:
			return ErrStreamClosed
		case <-r.space:
		case <-time.After(wait):
			if err := r.stream.Error(); err != nil {
				return fmt.Errorf("pulse playback stream: %w", err)
			}
		}
	}
	return nil
}

func (r *pulseRender) Close() error {
	r.once.Do(func() {
		close(r.closed)
		if r.stream != nil {
			r.stream.Stop()
			r.stream.Close()
		}
		r.client.Close()
	})
	return nil
}

// streamFormat narrows a requested format to what Pulse streams here carry.
func streamFormat(f Format) Format {
	if f.SampleRate <= 0 {
		f.SampleRate = 48000
	}
	if f.Channels != 1 {
		f.Channels = 2
	}
	return f
}

func blockFrames(cfg StreamConfig) int {
	if cfg.BlockFrames > 0 {
		return cfg.BlockFrames
	}
	return 960
}

func mediaName(cfg StreamConfig, fallback string) string {
	if cfg.MediaName != "" {
		return cfg.MediaName
	}
	return fallback
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// readerFunc adapts a function to io.Reader for pulse.NewReader.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(b []byte) (int, error) {
	return f(b)
}
