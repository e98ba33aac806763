// Package store persists the user's channels, soundboard, and settings.
package store

import (
	"errors"
	"math"
	"strings"

	"github.com/rbright/vice/internal/audio"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("name already exists")
	ErrInvalidName   = errors.New("name must not be empty")
	ErrInvalidGain   = errors.New("gain out of range")
	ErrInvalidSource = errors.New("invalid source kind")
)

const (
	DefaultGain = 1.0
	MaxGain     = 4.0

	DefaultScale = 1.0
	MinScale     = 0.1
	MaxScale     = 2.0
)

// Color is an RGB triple.
type Color [3]uint8

// Channel is one persisted capture route.
type Channel struct {
	Name       string           `json:"name"`
	Icon       string           `json:"icon"`
	Color      Color            `json:"color"`
	SourceKind audio.SourceKind `json:"source_kind"`
	Source     string           `json:"source"`
	LowLatency bool             `json:"low_latency"`
	Gain       float64          `json:"gain"`
}

// AudioSource returns the capture source this channel binds.
func (c Channel) AudioSource() audio.Source {
	return audio.Source{Kind: c.SourceKind, Name: c.Source}
}

// SoundboardEntry is one persisted one-shot sound.
type SoundboardEntry struct {
	Name       string `json:"name"`
	Icon       string `json:"icon"`
	Color      Color  `json:"color"`
	LowLatency bool   `json:"low_latency"`
	Sound      string `json:"sound"`
}

// Settings are the global routing and presentation preferences.
type Settings struct {
	Output  string  `json:"output"`
	Scale   float64 `json:"scale"`
	Light   bool    `json:"light"`
	Monitor bool    `json:"monitor"`
	Peaks   bool    `json:"peaks"`
}

// Document is the whole persisted file.
type Document struct {
	Soundboard []SoundboardEntry `json:"soundboard"`
	Channels   []Channel         `json:"channels"`
	Settings   Settings          `json:"settings"`
}

// DefaultSettings returns settings for a fresh install.
func DefaultSettings() Settings {
	return Settings{Scale: DefaultScale, Monitor: true, Peaks: true}
}

// DefaultDocument returns an empty document with default settings.
func DefaultDocument() Document {
	return Document{
		Soundboard: []SoundboardEntry{},
		Channels:   []Channel{},
		Settings:   DefaultSettings(),
	}
}

func (d Document) clone() Document {
	return Document{
		Soundboard: append([]SoundboardEntry{}, d.Soundboard...),
		Channels:   append([]Channel{}, d.Channels...),
		Settings:   d.Settings,
	}
}

// ValidGain reports whether gain may be stored for a channel.
func ValidGain(gain float64) bool {
	return !math.IsNaN(gain) && !math.IsInf(gain, 0) && gain >= 0 && gain <= MaxGain
}

func validScale(scale float64) bool {
	return !math.IsNaN(scale) && !math.IsInf(scale, 0) && scale >= MinScale && scale <= MaxScale
}

func normalizeChannel(ch Channel) (Channel, error) {
	ch.Name = strings.TrimSpace(ch.Name)
	if ch.Name == "" {
		return Channel{}, ErrInvalidName
	}
	switch ch.SourceKind {
	case "":
		ch.SourceKind = audio.SourceDevice
	case audio.SourceDevice, audio.SourceApplication:
	default:
		return Channel{}, ErrInvalidSource
	}
	if ch.SourceKind == audio.SourceApplication && strings.TrimSpace(ch.Source) == "" {
		return Channel{}, ErrInvalidSource
	}
	if !ValidGain(ch.Gain) {
		return Channel{}, ErrInvalidGain
	}
	return ch, nil
}

func normalizeEntry(entry SoundboardEntry) (SoundboardEntry, error) {
	entry.Name = strings.TrimSpace(entry.Name)
	if entry.Name == "" {
		return SoundboardEntry{}, ErrInvalidName
	}
	return entry, nil
}

func normalizeSettings(s Settings) Settings {
	if !validScale(s.Scale) {
		s.Scale = DefaultScale
	}
	s.Output = strings.TrimSpace(s.Output)
	return s
}
