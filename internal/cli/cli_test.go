package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/vice.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/vice.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
}

func TestParseCommandArguments(t *testing.T) {
	parsed, err := Parse([]string{"volume", "mic", "0.75"})
	require.NoError(t, err)
	require.Equal(t, CommandVolume, parsed.Command)
	require.Equal(t, "mic", parsed.Name)
	require.Equal(t, 0.75, parsed.Gain)

	parsed, err = Parse([]string{"play", "--low-latency", "airhorn"})
	require.NoError(t, err)
	require.Equal(t, CommandPlay, parsed.Command)
	require.Equal(t, "airhorn", parsed.Ref)
	require.True(t, parsed.LowLatency)

	parsed, err = Parse([]string{"play", "/tmp/ding.wav"})
	require.NoError(t, err)
	require.False(t, parsed.LowLatency)

	parsed, err = Parse([]string{"delete-channel", "music"})
	require.NoError(t, err)
	require.Equal(t, "music", parsed.Name)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantHelp bool
	}{
		{name: "help short flag", args: []string{"-h"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "help long flag", args: []string{"--help"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "version flag", args: []string{"--version"}, wantCmd: CommandVersion},
		{name: "serve", args: []string{"serve"}, wantCmd: CommandServe},
		{name: "restart", args: []string{"restart"}, wantCmd: CommandRestart},
		{name: "config after command", args: []string{"status", "--config", "/tmp/cfg"}, wantErr: "unexpected arguments after command"},
		{name: "missing config path", args: []string{"--config"}, wantErr: "requires a path"},
		{name: "unknown flag", args: []string{"--bogus"}, wantErr: "unknown flag"},
		{name: "unknown command", args: []string{"bogus"}, wantErr: "unknown command"},
		{name: "extra args after command", args: []string{"doctor", "extra"}, wantErr: "unexpected arguments"},
		{name: "volume missing gain", args: []string{"volume", "mic"}, wantErr: "requires 2 argument"},
		{name: "volume bad gain", args: []string{"volume", "mic", "loud"}, wantErr: "not a number"},
		{name: "low latency only for play", args: []string{"start", "--low-latency"}, wantErr: "unexpected arguments"},
		{name: "play without ref", args: []string{"play"}, wantErr: "requires 1 argument"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
		})
	}
}

func TestParseNegativeGainIsPositional(t *testing.T) {
	parsed, err := Parse([]string{"volume", "mic", "-1"})
	require.NoError(t, err)
	require.Equal(t, -1.0, parsed.Gain)
}

func TestHelpTextListsCommands(t *testing.T) {
	help := HelpText("vice")
	for _, cmd := range []string{"serve", "status", "devices", "start", "restart", "volume", "play", "delete-channel", "doctor"} {
		require.Contains(t, help, cmd)
	}
	require.Contains(t, help, "vice/config.jsonc")
}
