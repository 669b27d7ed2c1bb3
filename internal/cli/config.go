// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/neochat/internal/config"
)

// HandleConfig implements "config show|get|path|init".
func HandleConfig(app *App, args Args) error {
	switch args.Subcommand {
	case "show":
		if args.JSON {
			return NewJSONResponse("config", app.Config.Redacted()).Write(app.Out)
		}
		fmt.Fprint(app.Out, app.Config.String())
		return nil

	case "get":
		if args.ConfigKey == "" {
			return &UsageError{Message: "config get needs a key", Usage: "neochat config get ollama.url"}
		}
		v, err := app.Config.Redacted().Get(args.ConfigKey)
		if err != nil {
			return &UsageError{Message: err.Error()}
		}
		if args.JSON {
			return NewJSONResponse("config", map[string]interface{}{args.ConfigKey: v}).Write(app.Out)
		}
		fmt.Fprintln(app.Out, v)
		return nil

	case "path":
		fmt.Fprintln(app.Out, app.ConfigPath)
		return nil

	case "init":
		return initConfig(app)

	default:
		return &UsageError{Message: fmt.Sprintf("unknown config command %q", args.Subcommand), Usage: "neochat config [show|get|path|init]"}
	}
}

// initConfig writes the defaults to the config path unless a file exists.
func initConfig(app *App) error {
	_, err := os.Stat(app.ConfigPath)
	switch {
	case err == nil:
		fmt.Fprintf(app.Out, "Config already exists at %s\n", app.ConfigPath)
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return wrap("config", "init", err)
	}

	if err := config.SaveTOML(config.Default(), app.ConfigPath); err != nil {
		return wrap("config", "init", err)
	}
	fmt.Fprintln(app.Out, SuccessStyle.Render("Wrote "+app.ConfigPath))
	return nil
}
