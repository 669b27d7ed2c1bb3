// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/stream"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown with YAML frontmatter.
func (e *MarkdownExporter) Export(t *Transcript) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	var sb strings.Builder
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(t.Title))
		if t.Model != "" {
			fmt.Fprintf(&sb, "model: %s\n", escapeYAML(t.Model))
		}
		fmt.Fprintf(&sb, "date: %s\n", t.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", t.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(t.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", time.Now().Format(time.RFC3339))
		sb.WriteString("generator: neochat\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(e.body(t))

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from neochat on %s*\n", time.Now().Format("January 2, 2006 at 3:04 PM"))
	return []byte(sb.String()), nil
}

// body renders the title, session table and messages. The HTML exporter
// converts the same text.
func (e *MarkdownExporter) body(t *Transcript) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(t.Title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		if t.Model != "" {
			fmt.Fprintf(&sb, "- **Model**: %s\n", t.Model)
		}
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(t.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(t.UpdatedAt))
		fmt.Fprintf(&sb, "- **Messages**: %d\n", len(t.Messages))
		if t.Archived > 0 {
			fmt.Fprintf(&sb, "- **Archived**: %d\n", t.Archived)
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")
	for i, msg := range t.Messages {
		label := msg.Sender.DisplayName()
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.CreatedAt))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(e.formatMessageContent(msg))
		sb.WriteString("\n\n")

		if i < len(t.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}
	return sb.String()
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatMessageContent folds the think block of a reply into a collapsed
// details element, or drops it when thinking is hidden.
func (e *MarkdownExporter) formatMessageContent(msg model.Message) string {
	content := strings.TrimSpace(msg.Content)
	if msg.Sender != model.SenderAssistant {
		return content
	}

	thinking, answer := stream.SplitThink(content)
	thinking = strings.TrimSpace(thinking)
	answer = strings.TrimSpace(answer)
	if thinking == "" || e.options.HideThinking {
		return answer
	}
	return fmt.Sprintf("<details>\n<summary>Thinking</summary>\n\n%s\n\n</details>\n\n%s", thinking, answer)
}

func validate(t *Transcript) error {
	switch {
	case t == nil:
		return errors.New("transcript is nil")
	case len(t.Messages) == 0:
		return errors.New("conversation has no messages")
	case t.CreatedAt.IsZero():
		return errors.New("conversation has invalid creation timestamp")
	}
	return nil
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes values that YAML would otherwise misread.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
