// Package config resolves, parses, validates, and defaults vice runtime
// configuration.
package config

// Config is the fully materialized runtime configuration used by vice.
type Config struct {
	Audio      AudioConfig
	Routing    RoutingConfig
	Store      StoreConfig
	Soundboard SoundboardConfig
	Log        LogConfig
	Control    ControlConfig
}

// AudioConfig sets the mix format and stream sizing.
type AudioConfig struct {
	SampleRate            int
	Channels              int
	BlockFrames           int
	LowLatencyBlockFrames int
	InputBufferMS         int
	MaxInputs             int
}

// RoutingConfig controls engine lifecycle timing.
type RoutingConfig struct {
	Autostart      bool
	DrainGraceMS   int
	DrainTimeoutMS int
	BindTimeoutMS  int
	AppPollMS      int
}

// StoreConfig locates the settings document. Empty means the XDG data dir.
type StoreConfig struct {
	Path string
}

// SoundboardConfig locates clips and bounds voice lifetime.
type SoundboardConfig struct {
	Dir     string
	SlackMS int
}

type LogConfig struct {
	Level string
}

// ControlConfig controls the IPC socket and the health endpoint.
type ControlConfig struct {
	Socket       string
	Health       bool
	HealthSocket string
	TimeoutMS    int
	// Notify raises a desktop notification when routing fails.
	Notify bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
