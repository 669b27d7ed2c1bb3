// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/neochat/internal/ollama"
	"github.com/jeranaias/neochat/internal/util"
)

// HandleModels lists the installed models, marking the one chat would use.
func HandleModels(ctx context.Context, app *App, args Args) error {
	models, err := app.Backend.ListModels(ctx)
	if err != nil {
		if args.JSON {
			NewJSONErrorResponse("models", err).Write(app.Out)
		}
		return wrap("models", "list", err)
	}
	selected := ollama.SelectModel(models, app.Config.Ollama.Model)

	if args.JSON {
		return NewJSONResponse("models", ModelsData{Models: models, Selected: selected}).Write(app.Out)
	}

	if len(models) == 0 {
		fmt.Fprintln(app.Out, WarningStyle.Render("No models installed."))
		fmt.Fprintln(app.Out, DimStyle.Render("Pull one with: ollama pull "+ollama.DefaultModel))
		return nil
	}

	now := time.Now()
	fmt.Fprintf(app.Out, "  %-36s %-10s %-10s %s\n", "NAME", "SIZE", "PARAMS", "MODIFIED")
	for i := range models {
		m := &models[i]
		marker := "  "
		name := util.TruncateRunes(m.Name, 36)
		if m.Name == selected {
			marker = "* "
		}
		line := fmt.Sprintf("%s%-36s %-10s %-10s %s", marker, name, m.FormatSize(), orDash(m.Details.ParameterSize), formatAge(m.ModifiedAt, now))
		if m.Name == selected {
			line = SuccessStyle.Render(line)
		}
		fmt.Fprintln(app.Out, line)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
