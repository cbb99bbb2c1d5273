// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - command-line parsing and the version/help commands.
package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (overridden from main at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the CLI command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdModels
	CmdConfig
	CmdDoctor
	CmdVersion
	CmdHelp
	CmdUnknown
)

// String returns the command name used in JSON output.
func (c Command) String() string {
	switch c {
	case CmdServe:
		return "serve"
	case CmdModels:
		return "models"
	case CmdConfig:
		return "config"
	case CmdDoctor:
		return "doctor"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	JSON       bool
	Verbose    bool
	NoColor    bool

	// Subcommand is the first argument after the command, if any.
	Subcommand string

	// Raw holds everything after the command, for ArgParser.
	Raw []string

	// Name is the unrecognized command for CmdUnknown.
	Name string
}

const usageText = `modelgate - multimodal chat gateway

Routes chat turns (text, images, audio, video) to the first configured model
able to handle them, with optional web search grounding, retries with
failover, and persistent conversations.

Usage:
  modelgate [global flags] <command> [args]

Commands:
  serve                       Start the HTTP API (default)
  models [--probe]            List the model catalog
    --modality image          Only models accepting this modality
    --probe                   Ask each provider which models it serves
  config [show]               Print the effective configuration (secrets masked)
  config init [--path P]      Write a starter config file
    --force                   Overwrite an existing file
  config path                 Print the default config file location
  config validate             Validate the configuration
  doctor                      Check store, providers, search and ffmpeg
  version                     Print version information
  help                        Show this help

Global flags:
  -c, --config PATH           Config file (default: $MODELGATE_CONFIG,
                              ./modelgate.toml, ~/.modelgate/config.toml)
  --json                      Machine-readable output
  -v, --verbose               Debug logging
  --no-color                  Disable colored output

Environment:
  MODELGATE_ADDR, MODELGATE_STORAGE, MODELGATE_DB_PATH, MODELGATE_LOG_LEVEL,
  MODELGATE_LOG_FORMAT, MODELGATE_SEARCH_ENDPOINT, MODELGATE_SEARCH_DISABLED,
  MODELGATE_BEARER_TOKEN, plus each provider's api_key_env.
  A .env file in the working directory is loaded first.

Examples:
  modelgate config init
  SILICONFLOW_API_KEY=sk-... modelgate serve
  modelgate models --modality video
  modelgate --json doctor
`

// Parse parses command-line arguments (without the program name).
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdServe, args
	}

	name := strings.ToLower(remaining[0])
	args.Raw = remaining[1:]
	if len(args.Raw) > 0 && !strings.HasPrefix(args.Raw[0], "-") {
		args.Subcommand = strings.ToLower(args.Raw[0])
	}

	switch name {
	case "serve", "server", "start":
		return CmdServe, args
	case "models", "ls":
		return CmdModels, args
	case "config", "cfg":
		return CmdConfig, args
	case "doctor", "diag":
		return CmdDoctor, args
	case "version", "--version":
		return CmdVersion, args
	case "help", "-h", "--help":
		return CmdHelp, args
	default:
		args.Name = remaining[0]
		return CmdUnknown, args
	}
}

// parseGlobalFlags extracts global flags that appear before the command.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var args Args

	i := 0
	for ; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--json":
			args.JSON = true
		case arg == "-v" || arg == "--verbose":
			args.Verbose = true
		case arg == "--no-color":
			args.NoColor = true
		case arg == "-c" || arg == "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			// first non-global argument ends the global section, so
			// "--json" after the command is left for the command itself
			rest := argv[i:]
			return pickLateGlobals(rest, &args), args
		}
	}
	return nil, args
}

// pickLateGlobals honors --json, --verbose and --no-color after the command
// too, leaving everything else in place.
func pickLateGlobals(rest []string, args *Args) []string {
	out := make([]string, 0, len(rest))
	for _, arg := range rest {
		switch arg {
		case "--json":
			args.JSON = true
		case "--verbose":
			args.Verbose = true
		case "--no-color":
			args.NoColor = true
		default:
			out = append(out, arg)
		}
	}
	return out
}

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// VersionData is the JSON form of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args, w io.Writer) error {
	data := VersionData{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if args.JSON {
		return NewJSONResponse(CmdVersion.String(), data).Print(w)
	}
	fmt.Fprintf(w, "modelgate version %s\n", data.Version)
	fmt.Fprintf(w, "  Git commit: %s\n", data.GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", data.BuildDate)
	fmt.Fprintf(w, "  Go:         %s (%s)\n", data.GoVersion, data.Platform)
	return nil
}
