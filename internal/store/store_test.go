package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
	"github.com/rbright/vice/internal/audio"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vice", "settings.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	return s, path
}

func TestOpenCreatesDefaultDocument(t *testing.T) {
	s, path := openTemp(t)

	require.Equal(t, DefaultDocument(), s.Document())
	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestOpenRepairsAndRewritesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"channels": [], "settings": {"scale": 5.0}}`), 0o600))

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.Equal(t, 1.0, s.Settings().Scale)
	require.True(t, s.Settings().Monitor)

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	require.Equal(t, s.Document(), reopened.Document())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"soundboard": []`)
}

func TestOpenSetsAsideUnreadableDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{{{`), 0o600))

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultDocument(), s.Document())

	backup, err := os.ReadFile(path + ".bad")
	require.NoError(t, err)
	require.Equal(t, `{{{`, string(backup))
}

func TestChannelCRUD(t *testing.T) {
	s, path := openTemp(t)

	require.NoError(t, s.CreateChannel(Channel{Name: " mic ", Source: "usb", Gain: 1}))
	ch, ok := s.Channel("mic")
	require.True(t, ok)
	require.Equal(t, audio.SourceDevice, ch.SourceKind)

	err := s.CreateChannel(Channel{Name: "mic", Gain: 1})
	require.ErrorIs(t, err, ErrDuplicateName)

	require.ErrorIs(t, s.CreateChannel(Channel{Name: "", Gain: 1}), ErrInvalidName)
	require.ErrorIs(t, s.CreateChannel(Channel{Name: "x", Gain: 9}), ErrInvalidGain)
	require.ErrorIs(t, s.CreateChannel(Channel{Name: "x", SourceKind: "bogus", Gain: 1}), ErrInvalidSource)
	require.ErrorIs(t, s.CreateChannel(Channel{Name: "x", SourceKind: audio.SourceApplication, Gain: 1}), ErrInvalidSource)

	require.NoError(t, s.CreateChannel(Channel{Name: "music", SourceKind: audio.SourceApplication, Source: "spotify", Gain: 0.5}))
	require.ErrorIs(t, s.EditChannel("music", Channel{Name: "mic", Gain: 1}), ErrDuplicateName)
	require.ErrorIs(t, s.EditChannel("missing", Channel{Name: "z", Gain: 1}), ErrNotFound)

	require.NoError(t, s.EditChannel("music", Channel{Name: "tunes", SourceKind: audio.SourceApplication, Source: "spotify", Gain: 0.7}))
	_, ok = s.Channel("music")
	require.False(t, ok)

	require.NoError(t, s.DeleteChannel("mic"))
	require.ErrorIs(t, s.DeleteChannel("mic"), ErrNotFound)

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	require.Equal(t, []Channel{{Name: "tunes", SourceKind: audio.SourceApplication, Source: "spotify", Gain: 0.7}}, reopened.Channels())
}

func TestSetChannelGainPersists(t *testing.T) {
	s, path := openTemp(t)
	require.NoError(t, s.CreateChannel(Channel{Name: "mic", Gain: 1}))

	require.NoError(t, s.SetChannelGain("mic", 0.25))
	require.ErrorIs(t, s.SetChannelGain("nope", 0.25), ErrNotFound)
	require.ErrorIs(t, s.SetChannelGain("mic", -1), ErrInvalidGain)

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	ch, ok := reopened.Channel("mic")
	require.True(t, ok)
	require.Equal(t, 0.25, ch.Gain)
}

func TestSoundboardCRUD(t *testing.T) {
	s, _ := openTemp(t)

	require.NoError(t, s.CreateSoundboardEntry(SoundboardEntry{Name: "airhorn", Sound: "airhorn.wav"}))
	require.ErrorIs(t, s.CreateSoundboardEntry(SoundboardEntry{Name: "airhorn"}), ErrDuplicateName)
	require.ErrorIs(t, s.CreateSoundboardEntry(SoundboardEntry{Name: " "}), ErrInvalidName)

	require.NoError(t, s.EditSoundboardEntry("airhorn", SoundboardEntry{Name: "horn", Sound: "horn.mp3", LowLatency: true}))
	entry, ok := s.SoundboardEntry("horn")
	require.True(t, ok)
	require.True(t, entry.LowLatency)
	require.ErrorIs(t, s.EditSoundboardEntry("airhorn", SoundboardEntry{Name: "x"}), ErrNotFound)

	require.NoError(t, s.DeleteSoundboardEntry("horn"))
	require.Empty(t, s.Soundboard())
	require.ErrorIs(t, s.DeleteSoundboardEntry("horn"), ErrNotFound)
}

func TestSaveSettingsReturnsPreviousAndNormalizes(t *testing.T) {
	s, _ := openTemp(t)

	previous, err := s.SaveSettings(Settings{Output: " hdmi ", Scale: 0.01, Monitor: true})
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), previous)
	require.Equal(t, Settings{Output: "hdmi", Scale: DefaultScale, Monitor: true}, s.Settings())
}

func TestMutationsDoNotLeakThroughCopies(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.CreateChannel(Channel{Name: "mic", Gain: 1}))

	channels := s.Channels()
	channels[0].Name = "changed"
	_, ok := s.Channel("mic")
	require.True(t, ok)
}

func TestDefaultPathsFollowXDGDataHome(t *testing.T) {
	t.Cleanup(xdg.Reload)
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)
	xdg.Reload()

	require.Equal(t, filepath.Join(dataHome, "vice", "settings.json"), DefaultPath())
	require.Equal(t, filepath.Join(dataHome, "vice", "sfx"), SoundDir())
}
