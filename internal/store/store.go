package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
)

const appDir = "vice"

// DefaultPath returns the per-user document location.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, appDir, "settings.json")
}

// SoundDir is where relative soundboard references resolve.
func SoundDir() string {
	return filepath.Join(xdg.DataHome, appDir, "sfx")
}

// Store is the Channel Registry: an in-memory copy of the document that is
// written through to disk on every mutation.
type Store struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	doc Document
}

// Open loads path, creating or repairing the document as needed. A document
// that cannot be read as JSON is set aside and replaced with defaults; the
// caller never sees a load failure for content problems.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the document from disk.
func (s *Store) Reload() error {
	doc, dirty, err := s.read()
	if err != nil {
		return err
	}
	if dirty {
		if err := writeDocument(s.path, doc); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

func (s *Store) read() (Document, bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("settings document not found; creating defaults", "path", s.path)
			return DefaultDocument(), true, nil
		}
		return Document{}, false, fmt.Errorf("read settings %q: %w", s.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		s.logger.Warn("settings document empty; using defaults", "path", s.path)
		return DefaultDocument(), true, nil
	}

	doc, notes, err := repair(raw)
	if err != nil {
		backup := s.path + ".bad"
		if writeErr := os.WriteFile(backup, raw, 0o600); writeErr != nil {
			s.logger.Error("back up unreadable settings failed", "path", backup, "error", writeErr.Error())
		}
		s.logger.Warn("settings document unreadable; using defaults",
			"path", s.path,
			"backup", backup,
			"error", err.Error(),
		)
		return DefaultDocument(), true, nil
	}
	for _, note := range notes {
		s.logger.Warn("settings repaired", "path", s.path, "detail", note)
	}
	return doc, len(notes) > 0, nil
}

// Document returns a copy of the whole document.
func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone()
}

func (s *Store) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Channel{}, s.doc.Channels...)
}

func (s *Store) Channel(name string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := channelIndex(s.doc.Channels, name)
	if i < 0 {
		return Channel{}, false
	}
	return s.doc.Channels[i], true
}

func (s *Store) Soundboard() []SoundboardEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SoundboardEntry{}, s.doc.Soundboard...)
}

func (s *Store) SoundboardEntry(name string) (SoundboardEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := entryIndex(s.doc.Soundboard, name)
	if i < 0 {
		return SoundboardEntry{}, false
	}
	return s.doc.Soundboard[i], true
}

func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Settings
}

func (s *Store) CreateChannel(ch Channel) error {
	ch, err := normalizeChannel(ch)
	if err != nil {
		return err
	}
	return s.mutate(func(doc *Document) error {
		if channelIndex(doc.Channels, ch.Name) >= 0 {
			return fmt.Errorf("channel %q: %w", ch.Name, ErrDuplicateName)
		}
		doc.Channels = append(doc.Channels, ch)
		return nil
	})
}

// EditChannel replaces the channel called name; ch may carry a new name.
func (s *Store) EditChannel(name string, ch Channel) error {
	ch, err := normalizeChannel(ch)
	if err != nil {
		return err
	}
	return s.mutate(func(doc *Document) error {
		i := channelIndex(doc.Channels, name)
		if i < 0 {
			return fmt.Errorf("channel %q: %w", name, ErrNotFound)
		}
		if j := channelIndex(doc.Channels, ch.Name); j >= 0 && j != i {
			return fmt.Errorf("channel %q: %w", ch.Name, ErrDuplicateName)
		}
		doc.Channels[i] = ch
		return nil
	})
}

func (s *Store) DeleteChannel(name string) error {
	return s.mutate(func(doc *Document) error {
		i := channelIndex(doc.Channels, name)
		if i < 0 {
			return fmt.Errorf("channel %q: %w", name, ErrNotFound)
		}
		doc.Channels = append(doc.Channels[:i], doc.Channels[i+1:]...)
		return nil
	})
}

// SetChannelGain persists a live volume change.
func (s *Store) SetChannelGain(name string, gain float64) error {
	if !ValidGain(gain) {
		return fmt.Errorf("channel %q gain %v: %w", name, gain, ErrInvalidGain)
	}
	return s.mutate(func(doc *Document) error {
		i := channelIndex(doc.Channels, name)
		if i < 0 {
			return fmt.Errorf("channel %q: %w", name, ErrNotFound)
		}
		doc.Channels[i].Gain = gain
		return nil
	})
}

func (s *Store) CreateSoundboardEntry(entry SoundboardEntry) error {
	entry, err := normalizeEntry(entry)
	if err != nil {
		return err
	}
	return s.mutate(func(doc *Document) error {
		if entryIndex(doc.Soundboard, entry.Name) >= 0 {
			return fmt.Errorf("sound %q: %w", entry.Name, ErrDuplicateName)
		}
		doc.Soundboard = append(doc.Soundboard, entry)
		return nil
	})
}

func (s *Store) EditSoundboardEntry(name string, entry SoundboardEntry) error {
	entry, err := normalizeEntry(entry)
	if err != nil {
		return err
	}
	return s.mutate(func(doc *Document) error {
		i := entryIndex(doc.Soundboard, name)
		if i < 0 {
			return fmt.Errorf("sound %q: %w", name, ErrNotFound)
		}
		if j := entryIndex(doc.Soundboard, entry.Name); j >= 0 && j != i {
			return fmt.Errorf("sound %q: %w", entry.Name, ErrDuplicateName)
		}
		doc.Soundboard[i] = entry
		return nil
	})
}

func (s *Store) DeleteSoundboardEntry(name string) error {
	return s.mutate(func(doc *Document) error {
		i := entryIndex(doc.Soundboard, name)
		if i < 0 {
			return fmt.Errorf("sound %q: %w", name, ErrNotFound)
		}
		doc.Soundboard = append(doc.Soundboard[:i], doc.Soundboard[i+1:]...)
		return nil
	})
}

// SaveSettings stores settings and returns the values they replaced.
func (s *Store) SaveSettings(settings Settings) (Settings, error) {
	settings = normalizeSettings(settings)
	var previous Settings
	err := s.mutate(func(doc *Document) error {
		previous = doc.Settings
		doc.Settings = settings
		return nil
	})
	return previous, err
}

// mutate applies fn to a copy, persists it, and only then publishes it.
func (s *Store) mutate(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := writeDocument(s.path, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func writeDocument(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("ensure settings dir: %w", err)
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	encoded = append(encoded, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace settings %q: %w", path, err)
	}
	return nil
}

func channelIndex(channels []Channel, name string) int {
	for i, ch := range channels {
		if ch.Name == name {
			return i
		}
	}
	return -1
}

func entryIndex(entries []SoundboardEntry, name string) int {
	for i, e := range entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}
