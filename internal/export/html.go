// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports transcripts to a standalone HTML page. The Markdown
// body is converted with goldmark and sanitized with bluemonday, since
// message content is untrusted.
type HTMLExporter struct {
	options  *Options
	markdown *MarkdownExporter
	md       goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("details", "summary", "sub")

	return &HTMLExporter{
		options:  opts,
		markdown: NewMarkdownExporter(opts),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			// Raw HTML passes through here and is filtered by the policy.
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		policy: policy,
	}
}

// Export converts a transcript to HTML.
func (e *HTMLExporter) Export(t *Transcript) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := e.md.Convert([]byte(e.markdown.body(t)), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	safe := e.policy.SanitizeBytes(body.Bytes())

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	out.WriteString("    <meta charset=\"UTF-8\">\n")
	out.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	out.WriteString("    <meta name=\"generator\" content=\"neochat\">\n")
	fmt.Fprintf(&out, "    <title>%s</title>\n", html.EscapeString(t.Title))
	fmt.Fprintf(&out, "    <style>%s</style>\n", e.css())
	out.WriteString("</head>\n<body>\n<main>\n")
	out.Write(safe)
	out.WriteString("</main>\n<footer>\n")
	fmt.Fprintf(&out, "    <p>Exported from <strong>neochat</strong> on %s</p>\n",
		html.EscapeString(time.Now().Format("January 2, 2006 at 3:04 PM")))
	out.WriteString("</footer>\n</body>\n</html>\n")
	return out.Bytes(), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html; charset=utf-8"
}

func (e *HTMLExporter) css() string {
	bg, fg, muted, code := "#1e1e2e", "#cdd6f4", "#7f849c", "#313244"
	if e.options.Theme == "light" {
		bg, fg, muted, code = "#eff1f5", "#4c4f69", "#8c8fa1", "#dce0e8"
	}
	return fmt.Sprintf(`
body { background: %[1]s; color: %[2]s; font-family: system-ui, sans-serif; line-height: 1.6; }
main, footer { max-width: 820px; margin: 0 auto; padding: 0 1rem; }
h3 sub, footer { color: %[3]s; }
pre, code { background: %[4]s; border-radius: 4px; }
pre { padding: 0.75rem; overflow-x: auto; }
details { color: %[3]s; border-left: 3px solid %[4]s; padding-left: 0.75rem; }
hr { border: 0; border-top: 1px solid %[4]s; }
`, bg, fg, muted, code)
}
