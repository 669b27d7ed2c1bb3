// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tui provides the neochat terminal interface.
//
// The interface is a Bubble Tea program layered over the conversation store.
// It never mutates conversations itself: user turns go through the chat
// manager, and every store change arrives back as an event that triggers a
// re-render. Streaming replies therefore appear at the pace the update
// scheduler commits them.
//
// # Layout
//
//   - Sidebar: conversation titles, newest first
//   - Viewport: messages rendered as markdown, with think blocks set apart
//   - Input: single-line prompt with a spinner while a reply streams
//   - Footer: key help and transient status
//
// # Usage
//
//	err := tui.Run(ctx, manager, st, tui.Options{Theme: "dark"}, cfg.UI.LogFile)
package tui
