package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Audio      *jsoncAudio      `json:"audio"`
	Routing    *jsoncRouting    `json:"routing"`
	Store      *jsoncStore      `json:"store"`
	Soundboard *jsoncSoundboard `json:"soundboard"`
	Log        *jsoncLog        `json:"log"`
	Control    *jsoncControl    `json:"control"`
}

type jsoncAudio struct {
	SampleRate            *int `json:"sample_rate"`
	Channels              *int `json:"channels"`
	BlockFrames           *int `json:"block_frames"`
	LowLatencyBlockFrames *int `json:"low_latency_block_frames"`
	InputBufferMS         *int `json:"input_buffer_ms"`
	MaxInputs             *int `json:"max_inputs"`
}

type jsoncRouting struct {
	Autostart      *bool `json:"autostart"`
	DrainGraceMS   *int  `json:"drain_grace_ms"`
	DrainTimeoutMS *int  `json:"drain_timeout_ms"`
	BindTimeoutMS  *int  `json:"bind_timeout_ms"`
	AppPollMS      *int  `json:"app_poll_ms"`
}

type jsoncStore struct {
	Path *string `json:"path"`
}

type jsoncSoundboard struct {
	Dir     *string `json:"dir"`
	SlackMS *int    `json:"slack_ms"`
}

type jsoncLog struct {
	Level *string `json:"level"`
}

type jsoncControl struct {
	Socket       *string `json:"socket"`
	Health       *bool   `json:"health"`
	HealthSocket *string `json:"health_socket"`
	TimeoutMS    *int    `json:"timeout_ms"`
	Notify       *bool   `json:"notify"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	payload.applyTo(&cfg)

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) {
	if a := payload.Audio; a != nil {
		setInt(&cfg.Audio.SampleRate, a.SampleRate)
		setInt(&cfg.Audio.Channels, a.Channels)
		setInt(&cfg.Audio.BlockFrames, a.BlockFrames)
		setInt(&cfg.Audio.LowLatencyBlockFrames, a.LowLatencyBlockFrames)
		setInt(&cfg.Audio.InputBufferMS, a.InputBufferMS)
		setInt(&cfg.Audio.MaxInputs, a.MaxInputs)
	}

	if r := payload.Routing; r != nil {
		if r.Autostart != nil {
			cfg.Routing.Autostart = *r.Autostart
		}
		setInt(&cfg.Routing.DrainGraceMS, r.DrainGraceMS)
		setInt(&cfg.Routing.DrainTimeoutMS, r.DrainTimeoutMS)
		setInt(&cfg.Routing.BindTimeoutMS, r.BindTimeoutMS)
		setInt(&cfg.Routing.AppPollMS, r.AppPollMS)
	}

	if payload.Store != nil {
		setString(&cfg.Store.Path, payload.Store.Path)
	}

	if sb := payload.Soundboard; sb != nil {
		setString(&cfg.Soundboard.Dir, sb.Dir)
		setInt(&cfg.Soundboard.SlackMS, sb.SlackMS)
	}

	if payload.Log != nil && payload.Log.Level != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*payload.Log.Level))
	}

	if c := payload.Control; c != nil {
		setString(&cfg.Control.Socket, c.Socket)
		if c.Health != nil {
			cfg.Control.Health = *c.Health
		}
		setString(&cfg.Control.HealthSocket, c.HealthSocket)
		setInt(&cfg.Control.TimeoutMS, c.TimeoutMS)
		if c.Notify != nil {
			cfg.Control.Notify = *c.Notify
		}
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
