// Package control is the daemon's command surface: device listing, routing
// lifecycle, live volume, soundboard playback, and registry edits.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbright/vice/internal/engine"
	"github.com/rbright/vice/internal/fsm"
	"github.com/rbright/vice/internal/soundboard"
	"github.com/rbright/vice/internal/store"
	"github.com/rbright/vice/internal/volume"
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrNoLevel means peaks are off or nothing is routing.
	ErrNoLevel = errors.New("no output level")
)

// Router is the routing engine surface the service drives.
type Router interface {
	Start(context.Context) error
	Restart() <-chan error
	State() fsm.State
	Status() engine.Status
	Volumes() *volume.Table
	Peak(name string) (float32, bool)
	OutputPeak() (float32, bool)
	Outputs(context.Context) []string
	Inputs(context.Context) []string
	Applications(context.Context) []string
}

// Player plays soundboard clips.
type Player interface {
	Play(ctx context.Context, ref string, lowLatency bool) (soundboard.Voice, error)
}

// Registry is the persisted channel, soundboard, and settings store.
type Registry interface {
	Channels() []store.Channel
	Channel(name string) (store.Channel, bool)
	CreateChannel(store.Channel) error
	EditChannel(name string, ch store.Channel) error
	DeleteChannel(name string) error
	SetChannelGain(name string, gain float64) error

	Soundboard() []store.SoundboardEntry
	SoundboardEntry(name string) (store.SoundboardEntry, bool)
	CreateSoundboardEntry(store.SoundboardEntry) error
	EditSoundboardEntry(name string, entry store.SoundboardEntry) error
	DeleteSoundboardEntry(name string) error

	Settings() store.Settings
	SaveSettings(store.Settings) (store.Settings, error)
}

// Service implements every control operation on top of a router, player,
// and registry.
type Service struct {
	logger   *slog.Logger
	router   Router
	player   Player
	registry Registry
}

func NewService(router Router, player Player, registry Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{logger: logger, router: router, player: player, registry: registry}
}

func (s *Service) Outputs(ctx context.Context) []string {
	return s.router.Outputs(ctx)
}

func (s *Service) Inputs(ctx context.Context) []string {
	return s.router.Inputs(ctx)
}

func (s *Service) Applications(ctx context.Context) []string {
	return s.router.Applications(ctx)
}

func (s *Service) StartRouting(ctx context.Context) error {
	return s.router.Start(ctx)
}

// RestartRouting schedules a restart and returns its result channel.
func (s *Service) RestartRouting() <-chan error {
	return s.router.Restart()
}

func (s *Service) State() fsm.State {
	return s.router.State()
}

func (s *Service) Status() engine.Status {
	return s.router.Status()
}

// Peak returns the live level of a channel.
func (s *Service) Peak(name string) (float32, error) {
	peak, ok := s.router.Peak(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q has no level", ErrUnknownChannel, name)
	}
	return peak, nil
}

// OutputPeak returns the level of the last block written to the output
// device.
func (s *Service) OutputPeak() (float32, error) {
	peak, ok := s.router.OutputPeak()
	if !ok {
		return 0, ErrNoLevel
	}
	return peak, nil
}

// SetChannelVolume applies gain to the running route immediately and
// persists it. Unknown channels are rejected.
func (s *Service) SetChannelVolume(name string, gain float64) error {
	if _, ok := s.registry.Channel(name); !ok {
		s.logger.Warn("volume change for unknown channel", "channel", name, "gain", gain)
		return fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	if !store.ValidGain(gain) {
		return fmt.Errorf("channel %q gain %v: %w", name, gain, store.ErrInvalidGain)
	}

	s.router.Volumes().Set(name, gain)
	if err := s.registry.SetChannelGain(name, gain); err != nil {
		s.logger.Error("persist channel gain failed", "channel", name, "error", err.Error())
		return fmt.Errorf("persist gain: %w", err)
	}
	s.logger.Debug("channel volume set", "channel", name, "gain", gain)
	return nil
}

// PlaySoundboard plays a file reference or the sound of a soundboard entry
// with that name.
func (s *Service) PlaySoundboard(ctx context.Context, ref string, lowLatency bool) (soundboard.Voice, error) {
	ref = strings.TrimSpace(ref)
	if entry, ok := s.registry.SoundboardEntry(ref); ok {
		ref = entry.Sound
		lowLatency = lowLatency || entry.LowLatency
	}
	voice, err := s.player.Play(ctx, ref, lowLatency)
	if err != nil {
		s.logger.Warn("soundboard play failed", "ref", ref, "error", err.Error())
		return soundboard.Voice{}, err
	}
	return voice, nil
}

func (s *Service) Channels() []store.Channel {
	return s.registry.Channels()
}

func (s *Service) CreateChannel(ch store.Channel) error {
	if err := s.registry.CreateChannel(ch); err != nil {
		return err
	}
	s.restartAfter("channel created", ch.Name)
	return nil
}

func (s *Service) EditChannel(name string, ch store.Channel) error {
	if err := s.registry.EditChannel(name, ch); err != nil {
		return err
	}
	s.restartAfter("channel edited", name)
	return nil
}

func (s *Service) DeleteChannel(name string) error {
	if err := s.registry.DeleteChannel(name); err != nil {
		return err
	}
	s.restartAfter("channel deleted", name)
	return nil
}

func (s *Service) Soundboard() []store.SoundboardEntry {
	return s.registry.Soundboard()
}

func (s *Service) CreateSoundboardEntry(entry store.SoundboardEntry) error {
	return s.registry.CreateSoundboardEntry(entry)
}

func (s *Service) EditSoundboardEntry(name string, entry store.SoundboardEntry) error {
	return s.registry.EditSoundboardEntry(name, entry)
}

func (s *Service) DeleteSoundboardEntry(name string) error {
	return s.registry.DeleteSoundboardEntry(name)
}

func (s *Service) Settings() store.Settings {
	return s.registry.Settings()
}

// SaveSettings persists settings and restarts routing when the output device
// changed.
func (s *Service) SaveSettings(settings store.Settings) error {
	previous, err := s.registry.SaveSettings(settings)
	if err != nil {
		return err
	}
	if current := s.registry.Settings(); current.Output != previous.Output {
		s.restartAfter("output changed", current.Output)
	}
	return nil
}

func (s *Service) restartAfter(reason, subject string) {
	s.logger.Info("registry changed; restarting routing", "reason", reason, "subject", subject)
	done := s.router.Restart()
	go func() {
		if err := <-done; err != nil {
			s.logger.Error("routing restart failed", "reason", reason, "error", err.Error())
		}
	}()
}
