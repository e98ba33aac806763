package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate:            48000,
			Channels:              2,
			BlockFrames:           960,
			LowLatencyBlockFrames: 240,
			InputBufferMS:         200,
			MaxInputs:             64,
		},
		Routing: RoutingConfig{
			Autostart:      true,
			DrainGraceMS:   500,
			DrainTimeoutMS: 2000,
			BindTimeoutMS:  3000,
			AppPollMS:      2000,
		},
		Soundboard: SoundboardConfig{SlackMS: 2000},
		Log:        LogConfig{Level: "info"},
		Control: ControlConfig{
			Health:    true,
			TimeoutMS: 500,
			Notify:    true,
		},
	}
}
