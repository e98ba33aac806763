// Package app wires CLI commands to the daemon and its control socket.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/vice/internal/audio"
	"github.com/rbright/vice/internal/cli"
	"github.com/rbright/vice/internal/config"
	"github.com/rbright/vice/internal/control"
	"github.com/rbright/vice/internal/doctor"
	"github.com/rbright/vice/internal/engine"
	"github.com/rbright/vice/internal/health"
	"github.com/rbright/vice/internal/ipc"
	"github.com/rbright/vice/internal/logging"
	"github.com/rbright/vice/internal/soundboard"
	"github.com/rbright/vice/internal/store"
	"github.com/rbright/vice/internal/version"
)

var errNotRunning = errors.New("vice daemon not running")

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Backend replaces the PulseAudio backend when set.
	Backend audio.Backend
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("vice"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("vice"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(cfgLoaded.Config.Log.Level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		if cfgLoaded.Exists {
			fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		}
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
		"version", version.Short(),
	)

	cfg := cfgLoaded.Config
	switch parsed.Command {
	case cli.CommandServe:
		return r.commandServe(ctx, cfg, logger)
	case cli.CommandDoctor:
		return r.commandDoctor(ctx, cfgLoaded)
	case cli.CommandDevices:
		return r.commandDevices(ctx, cfg, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx, cfg)
	case cli.CommandStart:
		return r.forwardOrFail(ctx, cfg, control.CommandStart, nil, restartTimeout(cfg))
	case cli.CommandRestart:
		return r.forwardOrFail(ctx, cfg, control.CommandRestart, nil, restartTimeout(cfg))
	case cli.CommandVolume:
		return r.forwardOrFail(ctx, cfg, control.CommandChannelVolume,
			control.VolumeArgs{Name: parsed.Name, Gain: parsed.Gain}, controlTimeout(cfg))
	case cli.CommandPlay:
		return r.forwardOrFail(ctx, cfg, control.CommandSoundPlay,
			control.PlayArgs{Ref: parsed.Ref, LowLatency: parsed.LowLatency}, controlTimeout(cfg))
	case cli.CommandDeleteChannel:
		return r.forwardOrFail(ctx, cfg, control.CommandChannelDelete,
			control.NameArgs{Name: parsed.Name}, controlTimeout(cfg))
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) backend() audio.Backend {
	if r.Backend != nil {
		return r.Backend
	}
	return audio.NewPulse("vice")
}

func (r Runner) commandDoctor(ctx context.Context, loaded config.Loaded) int {
	cfg := loaded.Config
	deps := doctor.Deps{
		Catalog:      r.backend(),
		SettingsPath: cfg.Store.Path,
		SoundDir:     cfg.Soundboard.Dir,
	}
	if deps.SettingsPath == "" {
		deps.SettingsPath = store.DefaultPath()
	}
	if deps.SoundDir == "" {
		deps.SoundDir = store.SoundDir()
	}
	if cfg.Control.Health {
		if path, err := health.SocketPath(cfg.Control.HealthSocket); err == nil {
			deps.HealthSocket = path
		}
	}

	report := doctor.Run(ctx, loaded, deps)
	fmt.Fprintln(r.Stdout, report.String())
	if report.OK() {
		return 0
	}
	return 1
}

// commandDevices lists through the daemon when it is up, so the listing
// matches what routing sees. A catalog failure lists as empty.
func (r Runner) commandDevices(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	backend := r.backend()
	sections := []struct {
		title   string
		command string
		list    func(context.Context) ([]string, error)
	}{
		{"outputs", control.CommandOutputs, backend.Outputs},
		{"inputs", control.CommandInputs, backend.Inputs},
		{"applications", control.CommandApplications, backend.Applications},
	}

	socketPath, socketErr := ipc.RuntimeSocketPath(cfg.Control.Socket)
	for _, section := range sections {
		var names []string
		forwarded := false
		if socketErr == nil {
			resp, handled, err := tryForward(ctx, socketPath, section.command, nil, controlTimeout(cfg))
			if handled {
				forwarded = true
				if err == nil {
					err = resp.DecodeData(&names)
				}
				if err != nil {
					logger.Warn("daemon listing failed", "section", section.title, "error", err.Error())
					names = nil
				}
			}
		}
		if !forwarded {
			listed, err := section.list(ctx)
			if err != nil {
				logger.Warn("device listing failed", "section", section.title, "error", err.Error())
			} else {
				names = listed
			}
		}

		fmt.Fprintf(r.Stdout, "%s:\n", section.title)
		if len(names) == 0 {
			fmt.Fprintln(r.Stdout, "  (none)")
		}
		for _, name := range names {
			fmt.Fprintf(r.Stdout, "  %s\n", name)
		}
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context, cfg config.Config) int {
	socketPath, err := ipc.RuntimeSocketPath(cfg.Control.Socket)
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, control.CommandStatus, nil, controlTimeout(cfg))
	if !handled {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	var status engine.Status
	if err := resp.DecodeData(&status); err != nil {
		if resp.State == "" {
			resp.State = "stopped"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}
	printStatus(r.Stdout, status)
	return 0
}

func printStatus(w io.Writer, status engine.Status) {
	line := string(status.State)
	if status.Output != "" {
		line += fmt.Sprintf(" -> %s", status.Output)
	}
	if status.Generation > 0 {
		line += fmt.Sprintf(" (generation %d)", status.Generation)
	}
	if status.OutputPeak > 0 {
		line += fmt.Sprintf(" peak=%.2f", status.OutputPeak)
	}
	fmt.Fprintln(w, line)
	if status.Error != "" {
		fmt.Fprintf(w, "error: %s\n", status.Error)
	}
	for _, worker := range status.Workers {
		fmt.Fprintf(w, "  %-16s %-24s %-12s gain=%.2f peak=%.2f dropped=%d\n",
			worker.Channel,
			worker.Source,
			worker.Status,
			worker.Gain,
			worker.Peak,
			worker.Dropped,
		)
	}
}

func (r Runner) forwardOrFail(ctx context.Context, cfg config.Config, command string, args any, timeout time.Duration) int {
	socketPath, err := ipc.RuntimeSocketPath(cfg.Control.Socket)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command, args, timeout)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: %v\n", errNotRunning)
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func controlTimeout(cfg config.Config) time.Duration {
	return time.Duration(cfg.Control.TimeoutMS) * time.Millisecond
}

// restartTimeout covers the drain grace, one full drain, and a fresh
// output bind.
func restartTimeout(cfg config.Config) time.Duration {
	rt := cfg.Routing
	ms := cfg.Control.TimeoutMS + rt.DrainGraceMS + rt.DrainTimeoutMS + rt.BindTimeoutMS
	return time.Duration(ms) * time.Millisecond
}

// tryForward sends command to the daemon. handled is false when no daemon
// owns the socket.
func tryForward(ctx context.Context, socketPath, command string, args any, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Call(ctx, socketPath, command, args, timeout)
	var remote *ipc.RemoteError
	switch {
	case err == nil:
		return resp, true, nil
	case errors.As(err, &remote):
		return resp, true, remote
	case daemonAbsent(err):
		return ipc.Response{}, false, nil
	default:
		return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
	}
}

func daemonAbsent(err error) bool {
	if err == nil {
		return false
	}
	return ipc.NoListener(err) || strings.Contains(err.Error(), "no such file or directory")
}

// engineOptions converts config sizing into engine options.
func engineOptions(cfg config.Config) engine.Options {
	a, rt := cfg.Audio, cfg.Routing
	return engine.Options{
		Format:                audio.Format{SampleRate: a.SampleRate, Channels: a.Channels},
		BlockFrames:           a.BlockFrames,
		LowLatencyBlockFrames: a.LowLatencyBlockFrames,
		InputBufferFrames:     a.SampleRate * a.InputBufferMS / 1000,
		MaxInputs:             a.MaxInputs,
		DrainGrace:            time.Duration(rt.DrainGraceMS) * time.Millisecond,
		DrainTimeout:          time.Duration(rt.DrainTimeoutMS) * time.Millisecond,
		BindTimeout:           time.Duration(rt.BindTimeoutMS) * time.Millisecond,
		AppPollInterval:       time.Duration(rt.AppPollMS) * time.Millisecond,
	}
}

func soundboardOptions(cfg config.Config) soundboard.Options {
	dir := cfg.Soundboard.Dir
	if strings.TrimSpace(dir) == "" {
		dir = store.SoundDir()
	}
	return soundboard.Options{
		SoundDir:              dir,
		BlockFrames:           cfg.Audio.BlockFrames,
		LowLatencyBlockFrames: cfg.Audio.LowLatencyBlockFrames,
		Slack:                 time.Duration(cfg.Soundboard.SlackMS) * time.Millisecond,
	}
}
