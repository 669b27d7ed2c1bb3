// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/neochat/internal/ollama"
)

// statusTimeout bounds the backend probes.
const statusTimeout = 5 * time.Second

// HandleStatus reports whether Ollama is reachable, whether the configured
// model is installed, and the effective limits.
func HandleStatus(ctx context.Context, app *App, args Args) error {
	data := collectStatus(ctx, app)

	if args.JSON {
		return NewJSONResponse("status", data).Write(app.Out)
	}

	w := app.Out
	fmt.Fprintln(w, TitleStyle.Render("neochat status"))
	fmt.Fprintln(w, RenderSeparator(41))

	fmt.Fprintln(w, SectionStyle.Render("Backend"))
	ollamaValue := SuccessStyle.Render(data.Ollama)
	if data.Ollama != "running" {
		ollamaValue = ErrorStyle.Render(data.Ollama)
	}
	fmt.Fprintln(w, RenderField("Ollama", ollamaValue+" "+DimStyle.Render(data.OllamaURL)))
	if data.OllamaError != "" {
		fmt.Fprintln(w, RenderField("", DimStyle.Render(data.OllamaError)))
	}

	modelValue := ValueStyle.Render(data.Model)
	switch data.ModelStatus {
	case "installed":
		modelValue += " " + SuccessStyle.Render("installed")
	case "missing":
		modelValue += " " + WarningStyle.Render("not installed")
	}
	fmt.Fprintln(w, RenderField("Model", modelValue))

	fmt.Fprintln(w, SectionStyle.Render("Chat"))
	fmt.Fprintln(w, RenderField("Conversations", fmt.Sprintf("%d max", data.Limits.MaxConversations)))
	fmt.Fprintln(w, RenderField("Messages", fmt.Sprintf("%d visible, trim above %d", data.Limits.MaxVisibleMessages, data.Limits.CleanupThreshold)))
	fmt.Fprintln(w, RenderField("Timeout", formatDurationShort(time.Duration(data.Limits.RequestTimeoutMs)*time.Millisecond)))
	fmt.Fprintln(w, RenderField("Archive", data.Archive))
	fmt.Fprintln(w, RenderField("Config", data.ConfigPath))
	return nil
}

func collectStatus(ctx context.Context, app *App) StatusData {
	cfg := app.Config
	limits := cfg.Limits()
	data := StatusData{
		Ollama:      "not running",
		OllamaURL:   cfg.Ollama.URL,
		Model:       cfg.Ollama.Model,
		ModelStatus: "unknown",
		Archive:     cfg.Archive.Backend,
		ConfigPath:  app.ConfigPath,
		Limits: StatusLimits{
			MaxConversations:   limits.MaxConversations,
			MaxVisibleMessages: limits.MaxVisibleMessages,
			CleanupThreshold:   limits.CleanupThreshold,
			RequestTimeoutMs:   limits.RequestTimeout.Milliseconds(),
			UpdateThresholdMs:  limits.UpdateThreshold.Milliseconds(),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	if err := app.Backend.CheckRunning(ctx); err != nil {
		data.OllamaError = err.Error()
		return data
	}
	data.Ollama = "running"

	models, err := app.Backend.ListModels(ctx)
	if err != nil {
		data.OllamaError = err.Error()
		return data
	}
	data.ModelStatus = "missing"
	if ollama.SelectModel(models, cfg.Ollama.Model) == cfg.Ollama.Model && len(models) > 0 {
		data.ModelStatus = "installed"
	}
	return data
}
