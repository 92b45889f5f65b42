// Package cli parses argus command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandAnalyze Command = "analyze"
	CommandServe   Command = "serve"
	CommandStatus  Command = "status"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandAnalyze: {},
	CommandServe:   {},
	CommandStatus:  {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// ErrUsage marks argument errors. Callers exit 2 on it.
var ErrUsage = errors.New("usage error")

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	Debug      bool
	Input      string
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
				return Parsed{}, usageErrorf("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, usageErrorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, usageErrorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			rest := args[i+1:]
			if cmd == CommandAnalyze {
				return parseAnalyze(parsed, rest)
			}
			if len(rest) != 0 {
				return Parsed{}, usageErrorf("unexpected arguments after command %q", arg)
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func parseAnalyze(parsed Parsed, args []string) (Parsed, error) {
	for _, arg := range args {
		switch {
		case arg == "--debug":
			parsed.Debug = true
		case strings.HasPrefix(arg, "-") && arg != "-":
			return Parsed{}, usageErrorf("unknown analyze flag: %s", arg)
		case parsed.Input != "":
			return Parsed{}, usageErrorf("analyze takes exactly one input, got %q and %q", parsed.Input, arg)
		default:
			parsed.Input = arg
		}
	}
	if parsed.Input == "" {
		return Parsed{}, usageErrorf("analyze requires an input path")
	}
	return parsed, nil
}

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  analyze [--debug] INPUT   Submit one video to the analysis service
  serve                     Run the analysis service in the foreground
  status                    Print service state (running, starting, stopped, stale)
  doctor                    Run configuration, environment, and backend checks
  version                   Print version information
  help                      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/argus/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
