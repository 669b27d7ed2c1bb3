// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the title of a conversation before title generation runs,
// and the fallback when it fails.
const DefaultTitle = "New Chat"

// =============================================================================
// LIMITS
// =============================================================================

// Limits holds the population caps and timing thresholds of the chat core.
type Limits struct {
	// MaxConversations is the number of live conversations kept (default: 10).
	MaxConversations int

	// MaxVisibleMessages is the live message window per conversation (default: 50).
	MaxVisibleMessages int

	// CleanupThreshold triggers a trim when exceeded (default: 100).
	CleanupThreshold int

	// RequestTimeout bounds one generate request (default: 30s).
	RequestTimeout time.Duration

	// UpdateThreshold is the minimum interval between streamed flushes (default: 100ms).
	UpdateThreshold time.Duration
}

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxConversations:   10,
		MaxVisibleMessages: 50,
		CleanupThreshold:   100,
		RequestTimeout:     30 * time.Second,
		UpdateThreshold:    100 * time.Millisecond,
	}
}

// WithDefaults fills zero values with defaults.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxConversations <= 0 {
		l.MaxConversations = d.MaxConversations
	}
	if l.MaxVisibleMessages <= 0 {
		l.MaxVisibleMessages = d.MaxVisibleMessages
	}
	if l.CleanupThreshold <= 0 {
		l.CleanupThreshold = d.CleanupThreshold
	}
	if l.RequestTimeout <= 0 {
		l.RequestTimeout = d.RequestTimeout
	}
	if l.UpdateThreshold <= 0 {
		l.UpdateThreshold = d.UpdateThreshold
	}
	return l
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered message list and a title.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates an empty conversation with the default title.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        generateConversationID(),
		Title:     DefaultTitle,
		Messages:  make([]Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Message returns the message with the given ID, or nil.
func (c *Conversation) Message(id string) *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].ID == id {
			return &c.Messages[i]
		}
	}
	return nil
}

// MessageCount returns the number of live messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// Context returns up to the last n messages, skipping any in-flight
// placeholder so partial output is never sent back to the backend.
func (c *Conversation) Context(n int) []Message {
	msgs := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.IsPlaceholder() {
			continue
		}
		msgs = append(msgs, m)
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs
}

// Clone returns a deep copy safe to hand to renderers.
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// generateConversationID generates a unique conversation ID.
func generateConversationID() string {
	return "conv_" + uuid.NewString()
}
