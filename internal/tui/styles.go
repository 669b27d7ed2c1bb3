// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// COLORS
// =============================================================================

// Colors adapt to the terminal background.
var (
	colorAccent    = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
	colorUser      = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}
	colorAssistant = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}
	colorError     = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}
	colorText      = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}
	colorMuted     = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
	colorBorder    = lipgloss.AdaptiveColor{Light: "#D4D4D4", Dark: "#45475A"}
	colorSelection = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}
)

// =============================================================================
// STYLES
// =============================================================================

// Styles holds the rendered styles of the chat screen.
type Styles struct {
	Sidebar       lipgloss.Style
	SidebarHeader lipgloss.Style
	SidebarItem   lipgloss.Style
	SidebarActive lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Timestamp      lipgloss.Style
	Think          lipgloss.Style
	ThinkLabel     lipgloss.Style

	Input  lipgloss.Style
	Status lipgloss.Style
	Error  lipgloss.Style
	Muted  lipgloss.Style
}

// DefaultStyles returns the standard palette.
func DefaultStyles() Styles {
	return Styles{
		Sidebar: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(colorBorder).
			PaddingRight(1),
		SidebarHeader: lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			MarginBottom(1),
		SidebarItem: lipgloss.NewStyle().
			Foreground(colorText).
			PaddingLeft(1),
		SidebarActive: lipgloss.NewStyle().
			Foreground(colorAccent).
			Background(colorSelection).
			Bold(true).
			PaddingLeft(1),

		UserLabel:      lipgloss.NewStyle().Foreground(colorUser).Bold(true),
		AssistantLabel: lipgloss.NewStyle().Foreground(colorAssistant).Bold(true),
		Timestamp:      lipgloss.NewStyle().Foreground(colorMuted),
		Think: lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderLeft(true).
			BorderForeground(colorBorder).
			PaddingLeft(1),
		ThinkLabel: lipgloss.NewStyle().Foreground(colorMuted).Bold(true),

		Input: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		Status: lipgloss.NewStyle().Foreground(colorAccent),
		Error:  lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Muted:  lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// applyTheme pins the background detection for "dark" and "light".
// "auto" leaves lipgloss to query the terminal.
func applyTheme(theme string) {
	switch theme {
	case "dark":
		lipgloss.SetHasDarkBackground(true)
	case "light":
		lipgloss.SetHasDarkBackground(false)
	}
}
