// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive stores messages trimmed out of a conversation's live window.
//
// The archive is best-effort and supplementary: reads never fail (a missing
// or corrupt entry reads as empty) and write failures are logged, not shown
// to the user. Entries live under the key "archive_<conversationID>" as a
// JSON-encoded message list in a pluggable key-value backend.
//
// # Backends
//
//   - memory:   process-local map, used in tests and ephemeral sessions
//   - file:     one JSON file per key, written atomically
//   - sqlite:   embedded database via modernc.org/sqlite (default)
//   - redis:    shared cache via go-redis
//   - postgres: server database via pgx
//
// # Usage
//
//	a, err := archive.Open(ctx, archive.Config{Backend: "sqlite", Path: dbPath})
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	_ = a.Append(ctx, convID, trimmed)
//	older := a.Read(ctx, convID, 0, 20)
package archive
