// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func init() {
	lipgloss.SetColorProfile(ColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			MarginTop(1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14)

	ValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	DimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))

	// PromptStyle marks the user's turn in line-mode chat.
	PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)

	// AssistantStyle labels replies.
	AssistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141")).Bold(true)

	// ThinkStyle dims streamed reasoning.
	ThinkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Italic(true)

	SeparatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// RenderSeparator renders a horizontal rule, 60 columns by default.
func RenderSeparator(width ...int) string {
	w := 60
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderField renders a "label value" status line.
func RenderField(label string, value string) string {
	return "  " + LabelStyle.Render(label) + value
}
