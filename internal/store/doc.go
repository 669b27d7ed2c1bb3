// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the live conversations of a neochat session.
//
// The Store is the single source of truth that renderers read from. It caps
// the number of live conversations and the number of live messages per
// conversation; overflow messages are handed to an archive.Archive.
//
// # Key Types
//
//   - Store: bounded, concurrency-safe conversation store
//   - Event: change notification delivered to subscribers
//   - ConversationMeta: lightweight metadata for listing
//
// # Usage
//
//	s := store.New(arch, store.Options{})
//	defer s.Close()
//
//	id := s.CreateConversation()
//	s.AddMessage(id, model.NewUserMessage("hello"))
//
//	unsubscribe := s.Subscribe(func(ev store.Event) {
//		// re-render ev.ConversationID
//	})
//	defer unsubscribe()
package store
