// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversation transcripts to files.
//
// A transcript is the archived history of a conversation followed by its
// live messages, so an export is complete even after trimming.
//
// # Key Types
//
//   - Transcript: archived plus live messages of one conversation
//   - Exporter: a format (Markdown, JSON, HTML)
//   - Options: output directory and content switches
//
// # Usage
//
//	t, err := export.FromStore(st, id, cfg.Ollama.Model)
//	exp, err := export.ForFormat("markdown", export.DefaultOptions())
//	path, err := export.ExportToFile(t, exp, export.DefaultOptions())
package export
