package control

import (
	"context"
	"fmt"

	"github.com/rbright/vice/internal/ipc"
	"github.com/rbright/vice/internal/store"
)

// IPC command names.
const (
	CommandStatus        = "status"
	CommandOutputs       = "devices.outputs"
	CommandInputs        = "devices.inputs"
	CommandApplications  = "devices.apps"
	CommandStart         = "routing.start"
	CommandRestart       = "routing.restart"
	CommandChannelList   = "channel.list"
	CommandChannelVolume = "channel.volume"
	CommandChannelPeak   = "channel.peak"
	CommandOutputPeak    = "output.peak"
	CommandChannelCreate = "channel.create"
	CommandChannelEdit   = "channel.edit"
	CommandChannelDelete = "channel.delete"
	CommandSoundList     = "soundboard.list"
	CommandSoundPlay     = "soundboard.play"
	CommandSoundCreate   = "soundboard.create"
	CommandSoundEdit     = "soundboard.edit"
	CommandSoundDelete   = "soundboard.delete"
	CommandSettingsGet   = "settings.get"
	CommandSettingsSave  = "settings.save"
)

// NameArgs addresses a channel or soundboard entry.
type NameArgs struct {
	Name string `json:"name"`
}

type VolumeArgs struct {
	Name string  `json:"name"`
	Gain float64 `json:"gain"`
}

type PlayArgs struct {
	Ref        string `json:"ref"`
	LowLatency bool   `json:"low_latency"`
}

// ChannelEditArgs replaces the channel called Name.
type ChannelEditArgs struct {
	Name    string        `json:"name"`
	Channel store.Channel `json:"channel"`
}

// SoundEditArgs replaces the soundboard entry called Name.
type SoundEditArgs struct {
	Name  string                `json:"name"`
	Entry store.SoundboardEntry `json:"entry"`
}

// PeakData answers channel.peak and output.peak.
type PeakData struct {
	Name string  `json:"name"`
	Peak float32 `json:"peak"`
}

// Handle serves one IPC request.
func (s *Service) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	data, message, err := s.dispatch(ctx, req)
	state := string(s.router.State())
	if err != nil {
		s.logger.Debug("ipc command failed", "command", req.Command, "error", err.Error())
		resp := ipc.Failure(err)
		resp.State = state
		return resp
	}
	resp := ipc.Success(state, data)
	resp.Message = message
	return resp
}

func (s *Service) dispatch(ctx context.Context, req ipc.Request) (any, string, error) {
	switch req.Command {
	case CommandStatus:
		return s.Status(), "", nil
	case CommandOutputs:
		return s.Outputs(ctx), "", nil
	case CommandInputs:
		return s.Inputs(ctx), "", nil
	case CommandApplications:
		return s.Applications(ctx), "", nil

	case CommandStart:
		if err := s.StartRouting(ctx); err != nil {
			return nil, "", err
		}
		return nil, "routing started", nil
	case CommandRestart:
		select {
		case err := <-s.RestartRouting():
			if err != nil {
				return nil, "", err
			}
			return nil, "routing restarted", nil
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}

	case CommandChannelList:
		return s.Channels(), "", nil
	case CommandChannelVolume:
		var args VolumeArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, "", err
		}
		if err := s.SetChannelVolume(args.Name, args.Gain); err != nil {
			return nil, "", err
		}
		return nil, fmt.Sprintf("%s volume %.2f", args.Name, args.Gain), nil
	case CommandChannelPeak:
		var args NameArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, "", err
		}
		peak, err := s.Peak(args.Name)
		if err != nil {
			return nil, "", err
		}
		return PeakData{Name: args.Name, Peak: peak}, "", nil
	case CommandOutputPeak:
		peak, err := s.OutputPeak()
		if err != nil {
			return nil, "", err
		}
		return PeakData{Name: s.registry.Settings().Output, Peak: peak}, "", nil
	case CommandChannelCreate:
		ch := store.Channel{Gain: store.DefaultGain}
		if err := req.DecodeArgs(&ch); err != nil {
			return nil, "", err
		}
		if err := s.CreateChannel(ch); err != nil {
			return nil, "", err
		}
		return nil, fmt.Sprintf("channel %s created", ch.Name), nil
	case CommandChannelEdit:
		var args ChannelEditArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, "", err
		}
		// Fields absent from the request keep their stored values.
		if existing, ok := s.registry.Channel(args.Name); ok {
			args.Channel = existing
			if err := req.DecodeArgs(&args); err != nil {
				return nil, "", err
			}
		}
		if err := s.EditChannel(args.Name, args.Channel); err != nil {
			return nil, "", err
		}
		return nil, fmt.Sprintf("channel %s updated", args.Name), nil
	case CommandChannelDelete:
		var args NameArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, "", err
		}
		if err := s.DeleteChannel(args.Name); err != nil {
			return nil, "", err
		}
		return nil, fmt.Sprintf("channel %s deleted", args.Name), nil

	case CommandSoundList:
		return s.Soundboard(), "", nil
	case CommandSoundPlay:
		var args PlayArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, "", err
		}
		voice, err := s.PlaySoundboard(ctx, args.Ref, args.LowLatency)
		if err != nil {
			return nil, "", err
		}
		return voice, "playing " + voice.File, nil
	case CommandSoundCreate:
		var entry store.SoundboardEntry
		if err := req.DecodeArgs(&entry); err != nil {
			return nil, "", err
		}
		if err := s.CreateSoundboardEntry(entry); err != nil {
			return nil, "", err
		}
		return nil, fmt.Sprintf("sound %s created", entry.Name), nil
	case CommandSoundEdit:
		var args SoundEditArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, "", err
		}
		if err := s.EditSoundboardEntry(args.Name, args.Entry); err != nil {
			return nil, "", err
		}
		return nil, fmt.Sprintf("sound %s updated", args.Name), nil
	case CommandSoundDelete:
		var args NameArgs
		if err := req.DecodeArgs(&args); err != nil {
			return nil, "", err
		}
		if err := s.DeleteSoundboardEntry(args.Name); err != nil {
			return nil, "", err
		}
		return nil, fmt.Sprintf("sound %s deleted", args.Name), nil

	case CommandSettingsGet:
		return s.Settings(), "", nil
	case CommandSettingsSave:
		// Absent fields keep their current values.
		settings := s.Settings()
		if err := req.DecodeArgs(&settings); err != nil {
			return nil, "", err
		}
		if err := s.SaveSettings(settings); err != nil {
			return nil, "", err
		}
		return s.Settings(), "settings saved", nil

	default:
		return nil, "", fmt.Errorf("unknown command %q", req.Command)
	}
}
