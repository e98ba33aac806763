package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/vimeo/dials"
	"github.com/vimeo/dials/sources/env"
)

// envOverlay lists the settings the environment may override. Unset
// variables leave the field nil.
type envOverlay struct {
	SampleRate   *int    `dialsenv:"VICE_SAMPLE_RATE" dialsdesc:"Mix sample rate in Hz"`
	BlockFrames  *int    `dialsenv:"VICE_BLOCK_FRAMES" dialsdesc:"Frames per routing block"`
	Autostart    *bool   `dialsenv:"VICE_AUTOSTART" dialsdesc:"Start routing when the daemon starts"`
	StorePath    *string `dialsenv:"VICE_STORE_PATH" dialsdesc:"Settings document path"`
	SoundDir     *string `dialsenv:"VICE_SOUND_DIR" dialsdesc:"Directory for relative soundboard files"`
	LogLevel     *string `dialsenv:"VICE_LOG_LEVEL" dialsdesc:"Log level"`
	Socket       *string `dialsenv:"VICE_SOCKET" dialsdesc:"Control socket path"`
	Health       *bool   `dialsenv:"VICE_HEALTH" dialsdesc:"Serve the gRPC health endpoint"`
	HealthSocket *string `dialsenv:"VICE_HEALTH_SOCKET" dialsdesc:"Health socket path"`
	Notify       *bool   `dialsenv:"VICE_NOTIFY" dialsdesc:"Raise desktop notifications on routing failure"`
}

// applyEnv overlays VICE_* environment variables onto cfg.
func applyEnv(ctx context.Context, cfg *Config) error {
	d, err := dials.Config(ctx, &envOverlay{}, &env.Source{})
	if err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}
	o := d.View()

	setInt(&cfg.Audio.SampleRate, o.SampleRate)
	setInt(&cfg.Audio.BlockFrames, o.BlockFrames)
	if o.Autostart != nil {
		cfg.Routing.Autostart = *o.Autostart
	}
	setString(&cfg.Store.Path, o.StorePath)
	setString(&cfg.Soundboard.Dir, o.SoundDir)
	if o.LogLevel != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*o.LogLevel))
	}
	setString(&cfg.Control.Socket, o.Socket)
	if o.Health != nil {
		cfg.Control.Health = *o.Health
	}
	setString(&cfg.Control.HealthSocket, o.HealthSocket)
	if o.Notify != nil {
		cfg.Control.Notify = *o.Notify
	}
	return nil
}
