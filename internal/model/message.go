// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAssistant:
		return "Neo"
	default:
		return string(s)
	}
}

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Cursor is appended to assistant content while a response is streaming.
const Cursor = "▋"

// Message is a single chat message.
// Only the most recent assistant message of a conversation is ever mutated,
// and only by replacing Content.
//
// Streaming is set on the in-flight assistant reply until its request
// resolves. While it is set, Content ends with Cursor.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
	Streaming bool      `json:"streaming,omitempty"`
}

// NewMessage creates a message with a generated ID.
func NewMessage(sender Sender, content string) Message {
	return Message{
		ID:        generateMessageID(),
		Content:   content,
		Sender:    sender,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return NewMessage(SenderUser, content)
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(SenderAssistant, content)
}

// NewPlaceholder creates the in-flight assistant message shown before the
// first fragment arrives.
func NewPlaceholder() Message {
	m := NewMessage(SenderAssistant, Cursor)
	m.Streaming = true
	return m
}

// IsPlaceholder reports whether the message is an assistant reply that is
// still streaming.
func (m Message) IsPlaceholder() bool {
	return m.Sender == SenderAssistant && m.Streaming
}

// Text returns the displayable content: the streaming cursor is removed from
// an in-flight reply, and finished content is returned unchanged.
func (m Message) Text() string {
	if m.IsPlaceholder() {
		return StripCursor(m.Content)
	}
	return m.Content
}

// StripCursor returns content without a trailing streaming cursor.
func StripCursor(content string) string {
	return strings.TrimSuffix(content, Cursor)
}

// generateMessageID generates a unique message ID.
func generateMessageID() string {
	return "msg_" + uuid.NewString()
}
