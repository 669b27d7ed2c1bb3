// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"runtime"

	"github.com/jeranaias/neochat/internal/archive"
	"github.com/jeranaias/neochat/internal/chat"
	"github.com/jeranaias/neochat/internal/config"
	"github.com/jeranaias/neochat/internal/ollama"
	"github.com/jeranaias/neochat/internal/store"
)

// Backend is the part of the Ollama client the commands query directly.
// *ollama.Client implements it.
type Backend interface {
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// App carries the components a command runs against. main builds it once.
type App struct {
	Config     *config.Config
	ConfigPath string

	Backend Backend
	Archive *archive.Archive
	Store   *store.Store
	Manager *chat.Manager

	Out io.Writer
	Err io.Writer
}

// Run dispatches the commands that do not own the screen or a listener.
// CmdTUI and CmdServe are started by main.
func (a *App) Run(ctx context.Context, cmd Command, args Args) error {
	switch cmd {
	case CmdAsk:
		return HandleAsk(ctx, a, args)
	case CmdChat:
		return HandleChat(ctx, a, args)
	case CmdModels:
		return HandleModels(ctx, a, args)
	case CmdStatus:
		return HandleStatus(ctx, a, args)
	case CmdHistory:
		return HandleHistory(ctx, a, args)
	case CmdConfig:
		return HandleConfig(a, args)
	case CmdVersion:
		return HandleVersion(a.Out, args)
	default:
		PrintUsage(a.Out)
		return nil
	}
}

// HandleVersion prints version information.
func HandleVersion(w io.Writer, args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Write(w)
	}
	PrintVersion(w)
	return nil
}
