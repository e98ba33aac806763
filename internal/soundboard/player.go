// Package soundboard plays one-shot clips into the output mixer.
package soundboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rbright/vice/internal/mixer"
)

// ErrDecode is returned when a clip cannot be read or decoded.
var ErrDecode = errors.New("decode sound")

const (
	defaultBlockFrames = 960
	defaultSlack       = 2 * time.Second
	bufferBlocks       = 8
)

// Options configures a Player.
type Options struct {
	// SoundDir resolves relative file references.
	SoundDir              string
	BlockFrames           int
	LowLatencyBlockFrames int
	// Slack is added to the clip length to bound how long a voice may wait
	// for the mixer to drain it.
	Slack time.Duration
}

// Voice describes one accepted play request.
type Voice struct {
	ID         string        `json:"id"`
	File       string        `json:"file"`
	Duration   time.Duration `json:"duration"`
	LowLatency bool          `json:"low_latency"`
}

// Player decodes clips and streams each into its own mixer input. Voices are
// not tied to routing generations.
type Player struct {
	logger *slog.Logger
	mixer  *mixer.Mixer
	opts   Options

	ctx    context.Context
	wg     sync.WaitGroup
	active atomic.Int64
}

// New returns a player whose voices live no longer than ctx.
func New(ctx context.Context, m *mixer.Mixer, opts Options, logger *slog.Logger) *Player {
	if opts.BlockFrames <= 0 {
		opts.BlockFrames = defaultBlockFrames
	}
	if opts.LowLatencyBlockFrames <= 0 {
		opts.LowLatencyBlockFrames = opts.BlockFrames
	}
	if opts.Slack <= 0 {
		opts.Slack = defaultSlack
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Player{logger: logger, mixer: m, opts: opts, ctx: ctx}
}

// Active returns the number of voices still playing.
func (p *Player) Active() int {
	return int(p.active.Load())
}

// Wait blocks until every voice has finished.
func (p *Player) Wait() {
	p.wg.Wait()
}

// Resolve maps a file reference to a path. Relative references are looked up
// in the sound directory.
func (p *Player) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) || p.opts.SoundDir == "" {
		return ref
	}
	return filepath.Join(p.opts.SoundDir, ref)
}

// Play decodes ref and starts a voice for it. Decode failures are returned;
// playback itself runs detached.
func (p *Player) Play(ctx context.Context, ref string, lowLatency bool) (Voice, error) {
	if err := ctx.Err(); err != nil {
		return Voice{}, err
	}
	path := p.Resolve(ref)
	if path == "" {
		return Voice{}, fmt.Errorf("%w: empty file reference", ErrDecode)
	}

	clip, err := decodeFile(path)
	if err != nil {
		return Voice{}, err
	}

	quality := 4
	block := p.opts.BlockFrames
	if lowLatency {
		quality = 1
		block = p.opts.LowLatencyBlockFrames
	}

	target := beep.SampleRate(p.mixer.Format().SampleRate)
	var stream beep.Streamer = clip.Streamer(0, clip.Len())
	if clip.Format().SampleRate != target {
		stream = beep.Resample(quality, clip.Format().SampleRate, target, stream)
	}

	voice := Voice{
		ID:         uuid.NewString(),
		File:       path,
		Duration:   clip.Format().SampleRate.D(clip.Len()),
		LowLatency: lowLatency,
	}
	in, err := p.mixer.NewInput("sfx:"+voice.ID, block*bufferBlocks)
	if err != nil {
		return Voice{}, err
	}

	p.wg.Add(1)
	p.active.Add(1)
	go p.run(voice, stream, in, block)

	p.logger.Info("soundboard voice started",
		"voice", voice.ID,
		"file", path,
		"duration_ms", voice.Duration.Milliseconds(),
		"low_latency", lowLatency,
	)
	return voice, nil
}

func (p *Player) run(voice Voice, stream beep.Streamer, in *mixer.Input, block int) {
	defer p.wg.Done()
	defer p.active.Add(-1)

	ctx, cancel := context.WithTimeout(p.ctx, voice.Duration+p.opts.Slack)
	defer cancel()

	channels := p.mixer.Format().Channels
	frames := make([][2]float64, block)
	samples := make([]float32, block*channels)

	for {
		n, ok := stream.Stream(frames)
		if n > 0 {
			interleave(samples, frames[:n], channels)
			if err := in.Write(ctx, samples[:n*channels]); err != nil {
				in.Close()
				p.logger.Warn("soundboard voice cut short", "voice", voice.ID, "error", err.Error())
				return
			}
		}
		if !ok || n < len(frames) {
			break
		}
	}

	in.CloseWhenDrained()
	select {
	case <-in.Done():
		p.logger.Debug("soundboard voice finished", "voice", voice.ID)
	case <-ctx.Done():
		in.Close()
		p.logger.Warn("soundboard voice not drained before deadline", "voice", voice.ID)
	}
}

func interleave(dst []float32, frames [][2]float64, channels int) {
	for i, f := range frames {
		switch channels {
		case 1:
			dst[i] = float32((f[0] + f[1]) / 2)
		default:
			for c := 0; c < channels; c++ {
				dst[i*channels+c] = float32(f[c%2])
			}
		}
	}
}

// decodeFile reads the whole clip into memory so corrupt data is reported
// before a voice starts.
func decodeFile(path string) (*beep.Buffer, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	defer func() { _ = f.Close() }()

	stream, format, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, filepath.Base(path), err)
	}
	defer func() { _ = stream.Close() }()

	clip := beep.NewBuffer(format)
	clip.Append(stream)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, filepath.Base(path), err)
	}
	if clip.Len() == 0 {
		return nil, fmt.Errorf("%w: %s: no audio frames", ErrDecode, filepath.Base(path))
	}
	return clip, nil
}

type decoder func(io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

func decoderFor(path string) (decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(rc) }, nil
	case ".mp3":
		return mp3.Decode, nil
	case ".flac":
		return func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(rc) }, nil
	case ".ogg", ".oga":
		return vorbis.Decode, nil
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrDecode, filepath.Ext(path))
	}
}
