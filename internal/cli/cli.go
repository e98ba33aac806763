package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Command string

const (
	CommandServe         Command = "serve"
	CommandStatus        Command = "status"
	CommandDevices       Command = "devices"
	CommandStart         Command = "start"
	CommandRestart       Command = "restart"
	CommandVolume        Command = "volume"
	CommandPlay          Command = "play"
	CommandDeleteChannel Command = "delete-channel"
	CommandDoctor        Command = "doctor"
	CommandVersion       Command = "version"
	CommandHelp          Command = "help"
)

// commandArity is the number of positional arguments each command takes.
var commandArity = map[Command]int{
	CommandServe:         0,
	CommandStatus:        0,
	CommandDevices:       0,
	CommandStart:         0,
	CommandRestart:       0,
	CommandVolume:        2,
	CommandPlay:          1,
	CommandDeleteChannel: 1,
	CommandDoctor:        0,
	CommandVersion:       0,
	CommandHelp:          0,
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool

	// Command arguments.
	Name       string
	Gain       float64
	Ref        string
	LowLatency bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := commandArity[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if err := parseCommandArgs(&parsed, args[i+1:]); err != nil {
				return Parsed{}, err
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func parseCommandArgs(parsed *Parsed, rest []string) error {
	positional := make([]string, 0, len(rest))
	for _, arg := range rest {
		switch {
		case arg == "--low-latency" && parsed.Command == CommandPlay:
			parsed.LowLatency = true
		case strings.HasPrefix(arg, "-") && !isNumber(arg):
			return fmt.Errorf("unexpected arguments after command %q: %s", parsed.Command, arg)
		default:
			positional = append(positional, arg)
		}
	}

	want := commandArity[parsed.Command]
	if len(positional) > want {
		return fmt.Errorf("unexpected arguments after command %q", parsed.Command)
	}
	if len(positional) < want {
		return fmt.Errorf("%s requires %d argument(s)", parsed.Command, want)
	}

	switch parsed.Command {
	case CommandVolume:
		parsed.Name = positional[0]
		gain, err := strconv.ParseFloat(positional[1], 64)
		if err != nil {
			return fmt.Errorf("volume gain %q is not a number", positional[1])
		}
		parsed.Gain = gain
	case CommandPlay:
		parsed.Ref = positional[0]
	case CommandDeleteChannel:
		parsed.Name = positional[0]
	}
	return nil
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  serve                   Run the routing daemon
  status                  Print routing state and channel routes
  devices                 List outputs, inputs, and capturable applications
  start                   Start routing
  restart                 Rebuild every channel route
  volume NAME GAIN        Set a channel's gain (0 to 4)
  play REF [--low-latency]
                          Play a sound file or soundboard entry
  delete-channel NAME     Remove a channel and restart routing
  doctor                  Run configuration and environment checks
  version                 Print version information
  help                    Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/vice/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
