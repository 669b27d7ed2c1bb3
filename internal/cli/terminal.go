// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RequiresTTY fails when stdin cannot be prompted.
func RequiresTTY(operation string) error {
	if !IsTTY() {
		return &UsageError{Message: "stdin is not a terminal; cannot " + operation + " interactively"}
	}
	return nil
}

// =============================================================================
// TERMINAL WIDTH
// =============================================================================

const (
	DefaultTerminalWidth = 80
	MinTerminalWidth     = 40
	MaxRenderWidth       = 120
)

// TerminalWidth returns the stdout width, clamped to a readable range.
func TerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxRenderWidth {
		return MaxRenderWidth
	}
	return width
}

// =============================================================================
// COLOR OUTPUT
// =============================================================================

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled honours NO_COLOR and FORCE_COLOR, then falls back to TTY
// detection on stdout.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		switch {
		case os.Getenv("NO_COLOR") != "":
			colorsEnabled = false
		case os.Getenv("FORCE_COLOR") != "":
			colorsEnabled = true
		default:
			colorsEnabled = IsStdoutTTY()
		}
	})
	return colorsEnabled
}

// ColorProfile returns the termenv profile for CLI output.
func ColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// markdownStyle picks the glamour style for the CLI: the configured theme
// when it names one, "notty" when colors are off, otherwise auto.
func markdownStyle(theme string) string {
	if !ColorsEnabled() {
		return "notty"
	}
	switch theme {
	case "dark", "light", "notty":
		return theme
	}
	if termenv.HasDarkBackground() {
		return "dark"
	}
	return "light"
}
