// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/store"
	"github.com/jeranaias/neochat/internal/stream"
)

// =============================================================================
// STREAMING OUTPUT
// =============================================================================

// replyPrinter writes a streaming reply to a terminal as the store commits
// it. Each commit carries the whole reply so far; only the unseen suffix is
// printed. A commit that rewrites earlier text, such as a failure notice
// replacing a partial reply, starts a fresh line.
type replyPrinter struct {
	w              io.Writer
	conversationID string
	hideThinking   bool

	mu      sync.Mutex
	printed string
	started bool
}

func newReplyPrinter(w io.Writer, conversationID string, hideThinking bool) *replyPrinter {
	return &replyPrinter{w: w, conversationID: conversationID, hideThinking: hideThinking}
}

// handle is a store subscriber.
func (p *replyPrinter) handle(ev store.Event) {
	if ev.ConversationID != p.conversationID || ev.Type != store.EventUpdated {
		return
	}
	p.show(ev.Content, ev.Streaming)
}

func (p *replyPrinter) visible(content string, streaming bool) string {
	text := content
	if streaming {
		text = model.StripCursor(content)
	}
	if p.hideThinking {
		text = strings.TrimLeft(stream.StripThink(text), "\n")
	}
	return text
}

func (p *replyPrinter) show(content string, streaming bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	text := p.visible(content, streaming)
	if !p.started {
		if text == "" {
			return
		}
		fmt.Fprint(p.w, AssistantStyle.Render(model.SenderAssistant.DisplayName()+":")+" ")
		p.started = true
	}

	if strings.HasPrefix(text, p.printed) {
		fmt.Fprint(p.w, text[len(p.printed):])
	} else {
		fmt.Fprint(p.w, "\n"+text)
	}
	p.printed = text
}

// finish prints whatever the last commit did not and ends the line.
func (p *replyPrinter) finish(final string) {
	p.show(final, false)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		fmt.Fprintln(p.w)
	}
}

// =============================================================================
// MARKDOWN
// =============================================================================

// renderMarkdown renders a finished reply, falling back to the plain text
// if glamour cannot.
func renderMarkdown(text, theme string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(markdownStyle(theme)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// lastAssistant returns the content of the newest assistant message.
func lastAssistant(conv model.Conversation) string {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Sender == model.SenderAssistant {
			return conv.Messages[i].Content
		}
	}
	return ""
}
