// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"time"

	"github.com/jeranaias/neochat/internal/model"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventType identifies a store change.
type EventType string

const (
	EventCreated EventType = "created"
	EventEvicted EventType = "evicted"
	EventDeleted EventType = "deleted"
	EventMessage EventType = "message"
	EventUpdated EventType = "updated"
	EventTitle   EventType = "title"
	EventTrimmed EventType = "trimmed"
)

// Event describes one change. Only the fields relevant to Type are set.
type Event struct {
	Type           EventType    `json:"type"`
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id,omitempty"`
	Sender         model.Sender `json:"sender,omitempty"`
	Content        string       `json:"content,omitempty"`
	Title          string       `json:"title,omitempty"`
	Trimmed        int          `json:"trimmed,omitempty"`

	// Streaming is set on updates of a reply that is still in flight.
	Streaming bool `json:"streaming,omitempty"`
}

// Subscribe registers fn for every change and returns a function that
// removes it. fn runs on the mutating goroutine without the store lock held,
// so it may read the store but should not block.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Store) emit(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subscribers {
		fn(ev)
	}
}

// =============================================================================
// METADATA
// =============================================================================

// ConversationMeta is the listing view of a conversation.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
