// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/store"
	"github.com/jeranaias/neochat/internal/stream"
	"github.com/jeranaias/neochat/internal/util"
)

// =============================================================================
// MARKDOWN
// =============================================================================

// markdown renders assistant answers with glamour, rebuilding the renderer
// only when the wrap width changes.
type markdown struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
}

func newMarkdown(style string) *markdown {
	return &markdown{style: style}
}

func (m *markdown) styleOption() glamour.TermRendererOption {
	switch m.style {
	case "dark", "light", "notty":
		return glamour.WithStandardStyle(m.style)
	default:
		return glamour.WithAutoStyle()
	}
}

// render returns text unchanged when glamour fails, so a malformed partial
// reply never blanks the screen.
func (m *markdown) render(text string, width int) string {
	if width < 10 {
		width = 10
	}
	if m.renderer == nil || m.width != width {
		r, err := glamour.NewTermRenderer(m.styleOption(), glamour.WithWordWrap(width))
		if err != nil {
			return text
		}
		m.renderer = r
		m.width = width
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// =============================================================================
// MESSAGES
// =============================================================================

// renderConversation renders every live message, separated by blank lines.
func renderConversation(conv model.Conversation, width int, hideThinking bool, md *markdown, st Styles) string {
	if len(conv.Messages) == 0 {
		return st.Muted.Render("Say hello to start the conversation.")
	}
	parts := make([]string, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		parts = append(parts, renderMessage(msg, width, hideThinking, md, st))
	}
	return strings.Join(parts, "\n\n")
}

func renderMessage(msg model.Message, width int, hideThinking bool, md *markdown, st Styles) string {
	label := st.UserLabel.Render(msg.Sender.DisplayName())
	if msg.Sender == model.SenderAssistant {
		label = st.AssistantLabel.Render(msg.Sender.DisplayName())
	}
	header := label + " " + st.Timestamp.Render(msg.CreatedAt.Format("15:04"))

	if msg.Sender != model.SenderAssistant {
		return header + "\n" + lipgloss.NewStyle().Width(width).Render(msg.Content)
	}

	streaming := msg.IsPlaceholder()
	thinking, answer := stream.SplitThink(msg.Text())
	thinking = strings.TrimSpace(thinking)
	answer = strings.TrimSpace(answer)

	var b strings.Builder
	b.WriteString(header)

	if thinking != "" {
		b.WriteString("\n")
		if hideThinking {
			words := len(strings.Fields(thinking))
			b.WriteString(st.ThinkLabel.Render(fmt.Sprintf("▸ thinking hidden (%d words)", words)))
		} else {
			b.WriteString(st.ThinkLabel.Render("▾ thinking"))
			b.WriteString("\n")
			b.WriteString(st.Think.Width(width - 2).Render(thinking))
		}
	}

	if answer != "" {
		b.WriteString("\n")
		b.WriteString(md.render(answer, width))
	}
	if streaming {
		if answer == "" {
			b.WriteString("\n")
		}
		b.WriteString(model.Cursor)
	}
	return b.String()
}

// lastReply returns the newest finished assistant answer without its
// reasoning, or "" when there is none.
func lastReply(conv model.Conversation) string {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.Sender != model.SenderAssistant || msg.IsPlaceholder() {
			continue
		}
		if reply := strings.TrimSpace(stream.StripThink(msg.Content)); reply != "" {
			return reply
		}
	}
	return ""
}

// =============================================================================
// SIDEBAR
// =============================================================================

// renderSidebar lists conversations newest first, clipped to height lines.
func renderSidebar(metas []store.ConversationMeta, current string, width, height int, st Styles) string {
	inner := width - 2
	if inner < 4 {
		inner = 4
	}

	lines := []string{st.SidebarHeader.Render("Conversations")}
	for _, meta := range metas {
		title := util.TruncateWidth(meta.Title, inner)
		if meta.ID == current {
			lines = append(lines, st.SidebarActive.Width(width).Render(title))
		} else {
			lines = append(lines, st.SidebarItem.Width(width).Render(title))
		}
		if meta.Preview != "" {
			lines = append(lines, st.Muted.PaddingLeft(1).Render(util.TruncateWidth(meta.Preview, inner)))
		}
	}

	out := strings.Join(lines, "\n")
	if height > 0 {
		all := strings.Split(out, "\n")
		if len(all) > height {
			all = all[:height]
		}
		out = strings.Join(all, "\n")
	}
	return st.Sidebar.Height(height).Render(out)
}
