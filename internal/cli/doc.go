// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the non-screen commands of
// neochat.
//
// # Key Types
//
//   - Command: the command to run (tui, serve, chat, ask, models, ...)
//   - Args: parsed global and command flags
//   - ArgParser: flag and positional splitting shared by all commands
//   - App: the configured components a command runs against
//
// # Usage
//
//	cmd, args, err := cli.Parse(os.Args[1:])
//	if err != nil {
//	    cli.DisplayError(os.Stderr, cmd.String(), err, args.JSON)
//	    os.Exit(cli.GetExitCode(err))
//	}
//	app := &cli.App{Config: cfg, Backend: client, Store: st, Manager: mgr, Out: os.Stdout, Err: os.Stderr}
//	err = app.Run(ctx, cmd, args)
//
// # Output
//
// Human output is styled with lipgloss and falls back to plain text when
// stdout is not a terminal or NO_COLOR is set. Every listing command takes
// --json and then writes a JSONResponse envelope instead.
//
// Streaming replies are printed as the update scheduler commits them: the
// printer subscribes to store events and writes only the unseen suffix of
// each commit.
package cli
