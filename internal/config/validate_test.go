package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestValidateRejectsInvalidCoreFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "sample rate too low", mutate: func(c *Config) { c.Audio.SampleRate = 4000 }, wantErr: "audio.sample_rate"},
		{name: "no channels", mutate: func(c *Config) { c.Audio.Channels = 0 }, wantErr: "audio.channels"},
		{name: "zero block", mutate: func(c *Config) { c.Audio.BlockFrames = 0 }, wantErr: "audio.block_frames"},
		{name: "zero low latency block", mutate: func(c *Config) { c.Audio.LowLatencyBlockFrames = 0 }, wantErr: "low_latency_block_frames"},
		{name: "zero input buffer", mutate: func(c *Config) { c.Audio.InputBufferMS = 0 }, wantErr: "input_buffer_ms"},
		{name: "negative max inputs", mutate: func(c *Config) { c.Audio.MaxInputs = -1 }, wantErr: "max_inputs"},
		{name: "negative drain grace", mutate: func(c *Config) { c.Routing.DrainGraceMS = -1 }, wantErr: "drain_grace_ms"},
		{name: "zero drain timeout", mutate: func(c *Config) { c.Routing.DrainTimeoutMS = 0 }, wantErr: "drain_timeout_ms"},
		{name: "zero bind timeout", mutate: func(c *Config) { c.Routing.BindTimeoutMS = 0 }, wantErr: "bind_timeout_ms"},
		{name: "zero app poll", mutate: func(c *Config) { c.Routing.AppPollMS = 0 }, wantErr: "app_poll_ms"},
		{name: "negative slack", mutate: func(c *Config) { c.Soundboard.SlackMS = -5 }, wantErr: "slack_ms"},
		{name: "unknown log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "log.level"},
		{name: "zero control timeout", mutate: func(c *Config) { c.Control.TimeoutMS = 0 }, wantErr: "control.timeout_ms"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateWarnsOnOversizedLowLatencyBlock(t *testing.T) {
	cfg := Default()
	cfg.Audio.LowLatencyBlockFrames = 2048

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "low latency")
}
