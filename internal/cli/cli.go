// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information, overridden at build time with -ldflags.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdServe
	CmdChat
	CmdAsk
	CmdModels
	CmdStatus
	CmdHistory
	CmdConfig
	CmdVersion
	CmdHelp
)

var commandNames = map[Command]string{
	CmdTUI:     "tui",
	CmdServe:   "serve",
	CmdChat:    "chat",
	CmdAsk:     "ask",
	CmdModels:  "models",
	CmdStatus:  "status",
	CmdHistory: "history",
	CmdConfig:  "config",
	CmdVersion: "version",
	CmdHelp:    "help",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath   string
	Model        string
	Theme        string
	JSON         bool
	Quiet        bool
	Verbose      bool
	HideThinking bool

	// serve
	Addr string

	// ask
	Query    string
	Markdown bool

	// config
	Subcommand string
	ConfigKey  string

	// history
	ConversationID string
	Offset         int
	Count          int

	// Raw holds the arguments after the command name.
	Raw []string
}

// boolFlags never take a value.
var boolFlags = []string{
	"json", "quiet", "q", "verbose", "hide-thinking", "markdown", "md",
	"help", "h", "version",
}

const usageText = `neochat - streaming chat client for a local Ollama server

Usage:
  neochat [flags]                  Start the terminal UI (default)
  neochat tui                      Start the terminal UI
  neochat serve [--addr ADDR]      Serve the HTTP and websocket API
  neochat chat                     Interactive line-mode chat
  neochat ask "question"           Ask one question and print the reply
  neochat models                   List installed models
  neochat status                   Show backend and configuration status
  neochat history ID               Print archived messages of a conversation
  neochat config [show|get|path|init]
                                   Inspect or create the configuration
  neochat version                  Print version information
  neochat help                     Show this help

Global flags:
  --config PATH        Config file (default ~/.neochat/config.toml)
  --model NAME         Model to use (overrides config)
  --theme NAME         auto, dark, light or notty
  --hide-thinking      Collapse <think> reasoning in replies
  --json               JSON output (models, status, history, config, version)
  -q, --quiet          Minimal output
  --verbose            Log to stderr

Ask flags:
  --markdown           Render the final reply as markdown instead of streaming

History flags:
  --offset N           Skip the N oldest archived messages
  --count N            Print at most N messages (default all)

Config commands:
  neochat config show          Print the effective configuration (secrets redacted)
  neochat config get KEY       Print one value, e.g. ollama.url or chat.max_conversations
  neochat config path          Print the config file path
  neochat config init          Write a default config file if none exists

Environment:
  OLLAMA_HOST          Ollama address (host, host:port or URL)
  NEOCHAT_MODEL        Model override
  NEOCHAT_JWT_SECRET   Session signing secret for serve
  AUTH_USERS           Logins for serve, "user:pass,user:pass"
  NO_COLOR             Disable colored output

Examples:
  neochat ask "explain goroutines in two sentences"
  neochat --model qwen2.5:14b chat
  OLLAMA_HOST=gpu-box neochat serve --addr :8787
`

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "neochat %s (commit %s, built %s, %s)\n", Version, GitCommit, BuildDate, runtime.Version())
}

// Parse parses argv (without the program name).
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv, boolFlags...)

	args := Args{
		ConfigPath:   p.Flag("config"),
		Model:        p.Flag("model", "m"),
		Theme:        p.Flag("theme"),
		JSON:         p.BoolFlag("json"),
		Quiet:        p.BoolFlag("quiet", "q"),
		Verbose:      p.BoolFlag("verbose"),
		HideThinking: p.BoolFlag("hide-thinking"),
	}
	if args.Theme != "" {
		switch args.Theme {
		case "auto", "dark", "light", "notty":
		default:
			return CmdHelp, args, &UsageError{Message: fmt.Sprintf("unknown theme %q", args.Theme)}
		}
	}

	if p.BoolFlag("help", "h") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") {
		return CmdVersion, args, nil
	}

	name := strings.ToLower(p.Positional(0))
	rest := p.PositionalFrom(1)
	args.Raw = rest

	switch name {
	case "", "tui":
		return CmdTUI, args, nil

	case "serve", "server":
		args.Addr = p.Flag("addr")
		return CmdServe, args, nil

	case "chat":
		return CmdChat, args, nil

	case "ask":
		args.Query = strings.TrimSpace(strings.Join(rest, " "))
		args.Markdown = p.BoolFlag("markdown", "md")
		if args.Query == "" {
			return CmdAsk, args, &UsageError{Message: "ask needs a question", Usage: `neochat ask "question"`}
		}
		return CmdAsk, args, nil

	case "models", "model", "ls":
		return CmdModels, args, nil

	case "status", "s":
		return CmdStatus, args, nil

	case "history":
		args.ConversationID = p.Positional(1)
		if args.ConversationID == "" {
			return CmdHistory, args, &UsageError{Message: "history needs a conversation ID", Usage: "neochat history ID [--offset N] [--count N]"}
		}
		var err error
		if args.Offset, err = p.FlagInt("offset", 0); err != nil {
			return CmdHistory, args, err
		}
		if args.Count, err = p.FlagInt("count", 0); err != nil {
			return CmdHistory, args, err
		}
		return CmdHistory, args, nil

	case "config":
		args.Subcommand = strings.ToLower(p.Positional(1))
		if args.Subcommand == "" {
			args.Subcommand = "show"
		}
		args.ConfigKey = p.Positional(2)
		return CmdConfig, args, nil

	case "version":
		return CmdVersion, args, nil

	case "help":
		return CmdHelp, args, nil

	default:
		return CmdHelp, args, &UsageError{Message: fmt.Sprintf("unknown command %q", name), Usage: "neochat help"}
	}
}
