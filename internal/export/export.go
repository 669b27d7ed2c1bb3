// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/store"
	"github.com/jeranaias/neochat/internal/util"
)

// ErrUnknownFormat is returned by ForFormat for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown export format")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for transcript exporters.
type Exporter interface {
	// Export converts a transcript to the target format and returns the content.
	Export(t *Transcript) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md", ".html").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is a conversation with its archived history prepended.
type Transcript struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Model     string          `json:"model,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Archived  int             `json:"archived"`
	Messages  []model.Message `json:"messages"`
}

// NewTranscript joins archived and live messages, oldest first. A reply
// that is still streaming is included without its cursor; an empty one is
// skipped.
func NewTranscript(conv model.Conversation, archived []model.Message, modelName string) *Transcript {
	t := &Transcript{
		ID:        conv.ID,
		Title:     conv.Title,
		Model:     modelName,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Archived:  len(archived),
		Messages:  make([]model.Message, 0, len(archived)+len(conv.Messages)),
	}
	t.Messages = append(t.Messages, archived...)
	for _, m := range conv.Messages {
		if m.IsPlaceholder() {
			m.Content = m.Text()
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
		}
		t.Messages = append(t.Messages, m)
	}
	return t
}

// FromStore builds the transcript of a live conversation.
func FromStore(st *store.Store, id, modelName string) (*Transcript, error) {
	conv, err := st.Get(id)
	if err != nil {
		return nil, err
	}
	archived, err := st.History(id, 0, 0)
	if err != nil {
		return nil, err
	}
	return NewTranscript(conv, archived, modelName), nil
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// IncludeMetadata includes a metadata header (dates, model, counts).
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// HideThinking drops think blocks from assistant replies.
	HideThinking bool

	// Theme for HTML export ("light" or "dark").
	// Default: "dark"
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

// Formats lists the accepted format names.
func Formats() []string {
	return []string{"markdown", "json", "html"}
}

// ForFormat returns the exporter for a format name. "md" is an alias for
// markdown and the empty name selects it.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownFormat, format, strings.Join(Formats(), ", "))
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports a transcript to a new file in opts.OutputDir and
// returns its path. The file is readable by the owner only.
func ExportToFile(t *Transcript, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	filename := fmt.Sprintf("neochat_%s_%s%s",
		sanitizeFilename(t.Title),
		time.Now().Format("20060102_150405"),
		exporter.FileExtension(),
	)
	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}

	outputPath := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0600, 0755); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	log.Printf("EXPORT_WRITTEN | conversation=%s type=%s messages=%d bytes=%d path=%s",
		t.ID, exporter.MimeType(), len(t.Messages), len(content), outputPath)
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	s = util.TruncateRunesNoEllipsis(strings.TrimSpace(s), 50)

	var sb strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			sb.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			sb.WriteRune('_')
		case r < 32 || r == 127:
			sb.WriteRune('-')
		default:
			sb.WriteRune(r)
		}
	}

	if sb.Len() == 0 {
		return "conversation"
	}
	return sb.String()
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
