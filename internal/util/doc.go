// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across neochat packages.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync, used by the file archive
//   - TruncateRunes, TruncateRunesNoEllipsis: UTF-8 safe truncation
//   - TruncateWidth, StringWidth: display-width aware truncation for the TUI
//
// # Usage
//
//	title := util.TruncateRunesNoEllipsis(raw, 30)
//	err := util.AtomicWriteFile(path, data, 0600, 0700)
package util
