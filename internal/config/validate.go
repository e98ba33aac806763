package config

import (
	"fmt"
	"strings"
)

var logLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	a := cfg.Audio
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 192000")
	}
	if a.Channels < 1 || a.Channels > 8 {
		return nil, fmt.Errorf("audio.channels must be between 1 and 8")
	}
	if a.BlockFrames <= 0 {
		return nil, fmt.Errorf("audio.block_frames must be > 0")
	}
	if a.LowLatencyBlockFrames <= 0 {
		return nil, fmt.Errorf("audio.low_latency_block_frames must be > 0")
	}
	if a.LowLatencyBlockFrames > a.BlockFrames {
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"audio.low_latency_block_frames (%d) exceeds audio.block_frames (%d); low latency channels gain nothing",
			a.LowLatencyBlockFrames, a.BlockFrames,
		)})
	}
	if a.InputBufferMS <= 0 {
		return nil, fmt.Errorf("audio.input_buffer_ms must be > 0")
	}
	if a.MaxInputs < 0 {
		return nil, fmt.Errorf("audio.max_inputs must be >= 0")
	}

	r := cfg.Routing
	if r.DrainGraceMS < 0 {
		return nil, fmt.Errorf("routing.drain_grace_ms must be >= 0")
	}
	if r.DrainTimeoutMS <= 0 {
		return nil, fmt.Errorf("routing.drain_timeout_ms must be > 0")
	}
	if r.BindTimeoutMS <= 0 {
		return nil, fmt.Errorf("routing.bind_timeout_ms must be > 0")
	}
	if r.AppPollMS <= 0 {
		return nil, fmt.Errorf("routing.app_poll_ms must be > 0")
	}

	if cfg.Soundboard.SlackMS < 0 {
		return nil, fmt.Errorf("soundboard.slack_ms must be >= 0")
	}

	level := strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if _, ok := logLevels[level]; !ok {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if cfg.Control.TimeoutMS <= 0 {
		return nil, fmt.Errorf("control.timeout_ms must be > 0")
	}

	return warnings, nil
}
