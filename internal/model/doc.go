// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the store, the archive,
// the request lifecycle and the front-ends.
//
// # Key Types
//
//   - Conversation: ordered messages plus a title
//   - Message: a single message with sender and content
//   - Sender: message sender enumeration (user, assistant)
//   - Limits: population caps and timing thresholds
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.Messages = append(conv.Messages, model.NewUserMessage("hello"))
//	ctx := conv.Context(model.DefaultLimits().MaxVisibleMessages)
package model
