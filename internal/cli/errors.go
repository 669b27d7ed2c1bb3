// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/neochat/internal/auth"
	"github.com/jeranaias/neochat/internal/chat"
	"github.com/jeranaias/neochat/internal/config"
	"github.com/jeranaias/neochat/internal/ollama"
	"github.com/jeranaias/neochat/internal/store"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports invalid arguments.
type UsageError struct {
	Message string
	Usage   string
}

func (e *UsageError) Error() string {
	if e.Usage != "" {
		return fmt.Sprintf("%s (usage: %s)", e.Message, e.Usage)
	}
	return e.Message
}

// CommandError adds the failing command to an error.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s: %s: %v", e.Command, e.Action, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func wrap(command, action string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Action: action, Err: err}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var invalid config.ValidateErrors
	switch {
	case errors.As(err, &usage), errors.Is(err, chat.ErrEmptyMessage):
		return ExitUsageError
	case errors.As(err, &invalid):
		return ExitConfigError
	case errors.Is(err, auth.ErrNoSecret):
		return ExitAuthError
	case ollama.IsTimeout(err):
		return ExitTimeoutError
	case ollama.IsNotRunning(err):
		return ExitNetworkError
	case ollama.IsModelNotFound(err), errors.Is(err, store.ErrConversationNotFound):
		return ExitNotFoundError
	default:
		return ExitGeneralError
	}
}

// DisplayError writes err to w, as a JSON envelope in JSON mode.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if jsonMode {
		NewJSONErrorResponse(command, err).Write(w)
		return
	}
	fmt.Fprintln(w, ErrorStyle.Render("Error:")+" "+err.Error())

	switch {
	case ollama.IsNotRunning(err):
		fmt.Fprintln(w, DimStyle.Render("Is Ollama running? Start it with: ollama serve"))
	case ollama.IsModelNotFound(err):
		fmt.Fprintln(w, DimStyle.Render("Pull the model first: ollama pull <model>"))
	}
}
