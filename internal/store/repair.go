package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rbright/vice/internal/audio"
)

// repair rebuilds a document from loosely-typed JSON, replacing each wrong or
// out-of-range field with its default. The returned notes describe every
// replacement; an empty list means the input was already well formed.
func repair(raw []byte) (Document, []string, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return DefaultDocument(), nil, err
	}

	r := repairer{}
	doc := Document{
		Soundboard: r.soundboard(root["soundboard"]),
		Channels:   r.channels(root["channels"]),
		Settings:   r.settings(root["settings"]),
	}
	return doc, r.notes, nil
}

type repairer struct {
	notes []string
}

func (r *repairer) note(format string, args ...any) {
	r.notes = append(r.notes, fmt.Sprintf(format, args...))
}

func (r *repairer) list(v any, field string) []any {
	if v == nil {
		r.note("%s missing; using empty list", field)
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		r.note("%s is not a list; using empty list", field)
		return nil
	}
	return items
}

func (r *repairer) channels(v any) []Channel {
	out := []Channel{}
	seen := map[string]struct{}{}
	for i, item := range r.list(v, "channels") {
		obj, ok := item.(map[string]any)
		if !ok {
			r.note("channels[%d] is not an object; dropped", i)
			continue
		}
		field := fmt.Sprintf("channels[%d]", i)

		name := r.str(obj, field+".name", "")
		name = strings.TrimSpace(name)
		if name == "" {
			r.note("%s has no name; dropped", field)
			continue
		}
		if _, dup := seen[name]; dup {
			r.note("%s duplicates channel %q; dropped", field, name)
			continue
		}
		seen[name] = struct{}{}

		ch := Channel{
			Name:       name,
			Icon:       r.str(obj, field+".icon", ""),
			Color:      r.color(obj, field+".color"),
			SourceKind: r.sourceKind(obj, field),
			Source:     r.str(obj, field+".source", ""),
			LowLatency: r.boolean(obj, field+".low_latency", false),
			Gain:       r.gain(obj, field+".gain"),
		}
		out = append(out, ch)
	}
	return out
}

func (r *repairer) soundboard(v any) []SoundboardEntry {
	out := []SoundboardEntry{}
	for i, item := range r.list(v, "soundboard") {
		obj, ok := item.(map[string]any)
		if !ok {
			r.note("soundboard[%d] is not an object; dropped", i)
			continue
		}
		field := fmt.Sprintf("soundboard[%d]", i)
		out = append(out, SoundboardEntry{
			Name:       r.str(obj, field+".name", ""),
			Icon:       r.str(obj, field+".icon", ""),
			Color:      r.color(obj, field+".color"),
			LowLatency: r.boolean(obj, field+".low_latency", false),
			Sound:      r.str(obj, field+".sound", ""),
		})
	}
	return out
}

func (r *repairer) settings(v any) Settings {
	defaults := DefaultSettings()
	obj, ok := v.(map[string]any)
	if !ok {
		r.note("settings missing or not an object; using defaults")
		return defaults
	}

	s := Settings{
		Output:  r.str(obj, "settings.output", defaults.Output),
		Scale:   r.number(obj, "settings.scale", defaults.Scale),
		Light:   r.boolean(obj, "settings.light", defaults.Light),
		Monitor: r.boolean(obj, "settings.monitor", defaults.Monitor),
		Peaks:   r.boolean(obj, "settings.peaks", defaults.Peaks),
	}
	if !validScale(s.Scale) {
		r.note("settings.scale %v outside [%.1f, %.1f]; using %.1f", s.Scale, MinScale, MaxScale, DefaultScale)
		s.Scale = DefaultScale
	}
	return s
}

func (r *repairer) sourceKind(obj map[string]any, field string) audio.SourceKind {
	if v, ok := obj["source_kind"]; ok {
		if s, ok := v.(string); ok {
			switch kind := audio.SourceKind(strings.ToLower(strings.TrimSpace(s))); kind {
			case audio.SourceDevice, audio.SourceApplication:
				return kind
			}
		}
		r.note("%s.source_kind invalid; using %s", field, audio.SourceDevice)
		return audio.SourceDevice
	}
	// Older files stored the kind as a device-or-application flag.
	if v, ok := obj["deviceorapp"].(bool); ok {
		if v {
			return audio.SourceDevice
		}
		return audio.SourceApplication
	}
	r.note("%s.source_kind missing; using %s", field, audio.SourceDevice)
	return audio.SourceDevice
}

func (r *repairer) gain(obj map[string]any, field string) float64 {
	gain := r.number(obj, field, DefaultGain)
	if !ValidGain(gain) {
		r.note("%s %v outside [0, %.0f]; using %.1f", field, gain, MaxGain, DefaultGain)
		return DefaultGain
	}
	return gain
}

func (r *repairer) str(obj map[string]any, field, fallback string) string {
	v, ok := obj[lastKey(field)]
	if !ok {
		r.note("%s missing; using %q", field, fallback)
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		r.note("%s is not a string; using %q", field, fallback)
		return fallback
	}
	return s
}

func (r *repairer) boolean(obj map[string]any, field string, fallback bool) bool {
	v, ok := obj[lastKey(field)]
	if !ok {
		r.note("%s missing; using %t", field, fallback)
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		r.note("%s is not a boolean; using %t", field, fallback)
		return fallback
	}
	return b
}

func (r *repairer) number(obj map[string]any, field string, fallback float64) float64 {
	v, ok := obj[lastKey(field)]
	if !ok {
		r.note("%s missing; using %v", field, fallback)
		return fallback
	}
	n, ok := v.(float64)
	if !ok {
		r.note("%s is not a number; using %v", field, fallback)
		return fallback
	}
	return n
}

// color clamps each component to [0, 255], zeroes non-numeric components, and
// pads or truncates to three.
func (r *repairer) color(obj map[string]any, field string) Color {
	var c Color
	v, ok := obj[lastKey(field)]
	if !ok {
		r.note("%s missing; using black", field)
		return c
	}
	items, ok := v.([]any)
	if !ok {
		r.note("%s is not a list; using black", field)
		return c
	}
	if len(items) != len(c) {
		r.note("%s has %d components; expected %d", field, len(items), len(c))
	}
	for i := 0; i < len(c) && i < len(items); i++ {
		n, ok := items[i].(float64)
		switch {
		case !ok || math.IsNaN(n):
			r.note("%s[%d] is not a number; using 0", field, i)
		case n < 0:
			r.note("%s[%d] %v below 0; clamped", field, i, n)
		case n > 255:
			r.note("%s[%d] %v above 255; clamped", field, i, n)
			c[i] = 255
		case n != math.Trunc(n):
			r.note("%s[%d] %v is not an integer; using 0", field, i, n)
		default:
			c[i] = uint8(n)
		}
	}
	return c
}

func lastKey(field string) string {
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		return field[i+1:]
	}
	return field
}
