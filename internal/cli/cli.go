// Package cli parses rebuttal's command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandDebate  Command = "debate"
	CommandToggle  Command = "toggle"
	CommandPause   Command = "pause"
	CommandResume  Command = "resume"
	CommandTurn    Command = "turn"
	CommandSend    Command = "send"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandDebate:  {},
	CommandToggle:  {},
	CommandPause:   {},
	CommandResume:  {},
	CommandTurn:    {},
	CommandSend:    {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// DebateFlags carries the setup overrides given to the debate command. Empty
// values leave the configured defaults in place.
type DebateFlags struct {
	Topic      string
	Position   string
	Difficulty string
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	Debate     DebateFlags
	Text       string
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
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp

			rest := args[i+1:]
			switch cmd {
			case CommandDebate:
				flags, err := parseDebateFlags(rest)
				if err != nil {
					return Parsed{}, err
				}
				parsed.Debate = flags
			case CommandSend:
				parsed.Text = strings.TrimSpace(strings.Join(rest, " "))
				if parsed.Text == "" {
					return Parsed{}, errors.New("send requires text")
				}
			default:
				if len(rest) > 0 {
					return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
				}
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func parseDebateFlags(args []string) (DebateFlags, error) {
	var flags DebateFlags
	for i := 0; i < len(args); i++ {
		name := args[i]
		var target *string
		switch name {
		case "--topic":
			target = &flags.Topic
		case "--position":
			target = &flags.Position
		case "--difficulty":
			target = &flags.Difficulty
		default:
			if strings.HasPrefix(name, "-") {
				return DebateFlags{}, fmt.Errorf("unknown debate flag: %s", name)
			}
			return DebateFlags{}, fmt.Errorf("unexpected arguments after command %q", string(CommandDebate))
		}
		i++
		if i >= len(args) {
			return DebateFlags{}, fmt.Errorf("%s requires a value", name)
		}
		*target = args[i]
	}
	return flags, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  debate    Connect to the debate server and run an interactive session
            --topic TEXT  --position pro|con  --difficulty 1-5
  toggle    Start recording or stop and send the transcript
  pause     Stop the AI opponent and any recording
  resume    Resume and ask the AI opponent to speak
  turn      Ask the AI opponent to respond now
  send      Send typed text as your argument: %[1]s send TEXT...
  status    Print current session state
  devices   List available input devices
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/rebuttal/config.jsonc)
  -h, --help      Show help
  --version       Show version

Session keys (debate):
  r record  p pause  c resume  t turn  s TEXT send  q quit
`, binaryName)
}
