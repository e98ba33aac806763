// Package doctor runs runtime readiness diagnostics for config, settings,
// the sound server, and the daemon.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rbright/vice/internal/audio"
	"github.com/rbright/vice/internal/config"
	"github.com/rbright/vice/internal/health"
	"github.com/rbright/vice/internal/store"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Deps are the environment checks a doctor run uses.
type Deps struct {
	Catalog      audio.Catalog
	SettingsPath string
	SoundDir     string
	// HealthSocket is skipped when empty.
	HealthSocket string
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded, deps Deps) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir set", "XDG_RUNTIME_DIR is empty; control socket needs a runtime dir"))

	settingsCheck, settings := checkSettings(deps.SettingsPath)
	checks = append(checks, settingsCheck)

	if deps.Catalog != nil {
		outputsCheck, outputs := checkCatalog(ctx, "audio.outputs", deps.Catalog.Outputs)
		checks = append(checks, outputsCheck)
		inputsCheck, _ := checkCatalog(ctx, "audio.inputs", deps.Catalog.Inputs)
		checks = append(checks, inputsCheck)
		if outputsCheck.Pass {
			checks = append(checks, checkSelectedOutput(settings.Output, outputs))
		}
	}

	checks = append(checks, checkSoundDir(deps.SoundDir))

	if deps.HealthSocket != "" {
		checks = append(checks, checkDaemon(ctx, deps.HealthSocket))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkSettings reads the settings document without creating or repairing it.
func checkSettings(path string) (Check, store.Settings) {
	defaults := store.DefaultSettings()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Check{Name: "settings", Pass: true, Message: fmt.Sprintf("%q not created yet; defaults apply", path)}, defaults
	}
	if err != nil {
		return Check{Name: "settings", Pass: false, Message: err.Error()}, defaults
	}
	if !json.Valid(raw) {
		return Check{Name: "settings", Pass: false, Message: fmt.Sprintf("%q is not valid JSON; it will be backed up and reset", path)}, defaults
	}

	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Check{Name: "settings", Pass: true, Message: fmt.Sprintf("%q will be repaired on load: %v", path, err)}, defaults
	}
	return Check{
		Name:    "settings",
		Pass:    true,
		Message: fmt.Sprintf("%d channel(s), %d sound(s) in %q", len(doc.Channels), len(doc.Soundboard), path),
	}, doc.Settings
}

func checkCatalog(ctx context.Context, name string, list func(context.Context) ([]string, error)) (Check, []string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	names, err := list(ctx)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}, nil
	}
	if len(names) == 0 {
		return Check{Name: name, Pass: false, Message: "none found"}, nil
	}
	return Check{Name: name, Pass: true, Message: strings.Join(names, ", ")}, names
}

func checkSelectedOutput(selected string, outputs []string) Check {
	if strings.TrimSpace(selected) == "" {
		return Check{Name: "audio.selected_output", Pass: true, Message: "system default"}
	}
	if slices.ContainsFunc(outputs, func(o string) bool { return strings.EqualFold(o, selected) }) {
		return Check{Name: "audio.selected_output", Pass: true, Message: fmt.Sprintf("%q present", selected)}
	}
	return Check{Name: "audio.selected_output", Pass: false, Message: fmt.Sprintf("%q not found; routing will fail to start", selected)}
}

func checkSoundDir(dir string) Check {
	if strings.TrimSpace(dir) == "" {
		return Check{Name: "soundboard.dir", Pass: true, Message: "relative sounds disabled"}
	}
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return Check{Name: "soundboard.dir", Pass: true, Message: fmt.Sprintf("%q missing; only absolute sound paths will play", dir)}
	}
	if err != nil {
		return Check{Name: "soundboard.dir", Pass: false, Message: err.Error()}
	}
	if !info.IsDir() {
		return Check{Name: "soundboard.dir", Pass: false, Message: fmt.Sprintf("%q is not a directory", dir)}
	}
	return Check{Name: "soundboard.dir", Pass: true, Message: dir}
}

// checkDaemon asks a running daemon for routing health. An absent daemon is
// not a failure.
func checkDaemon(ctx context.Context, socket string) Check {
	if _, err := os.Stat(socket); errors.Is(err, os.ErrNotExist) {
		return Check{Name: "daemon", Pass: true, Message: "not running"}
	}
	status, err := health.Check(ctx, socket, 750*time.Millisecond)
	if err != nil {
		return Check{Name: "daemon", Pass: false, Message: fmt.Sprintf("health check failed: %v", err)}
	}
	if status != "SERVING" {
		return Check{Name: "daemon", Pass: false, Message: fmt.Sprintf("routing not running (%s)", status)}
	}
	return Check{Name: "daemon", Pass: true, Message: "routing"}
}
