// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("Hello")

	if msg.Sender != SenderUser {
		t.Errorf("Sender = %q, want 'user'", msg.Sender)
	}
	if msg.Content != "Hello" {
		t.Errorf("Content = %q, want 'Hello'", msg.Content)
	}
	if !strings.HasPrefix(msg.ID, "msg_") {
		t.Errorf("ID = %q, want msg_ prefix", msg.ID)
	}
}

func TestMessageIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewUserMessage("x").ID
		if seen[id] {
			t.Fatalf("duplicate ID %q", id)
		}
		seen[id] = true
	}
}

func TestPlaceholder(t *testing.T) {
	p := NewPlaceholder()
	if !p.IsPlaceholder() {
		t.Error("NewPlaceholder().IsPlaceholder() = false, want true")
	}

	done := NewAssistantMessage("Hi there")
	if done.IsPlaceholder() {
		t.Error("finished assistant message reported as placeholder")
	}

	user := NewUserMessage("typing " + Cursor)
	if user.IsPlaceholder() {
		t.Error("user message reported as placeholder")
	}

	block := NewAssistantMessage("Progress: " + Cursor)
	if block.IsPlaceholder() {
		t.Error("finished reply ending in the cursor glyph reported as placeholder")
	}
}

func TestMessage_Text(t *testing.T) {
	streaming := NewPlaceholder()
	streaming.Content = "Hel" + Cursor

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"streaming strips cursor", streaming, "Hel"},
		{"empty placeholder", NewPlaceholder(), ""},
		{"finished keeps glyph", NewAssistantMessage("bar " + Cursor), "bar " + Cursor},
		{"user unchanged", NewUserMessage("hi"), "hi"},
	}
	for _, tt := range tests {
		if got := tt.msg.Text(); got != tt.want {
			t.Errorf("%s: Text() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestStripCursor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hi" + Cursor, "Hi"},
		{"Hi", "Hi"},
		{Cursor, ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := StripCursor(tc.in); got != tc.want {
			t.Errorf("StripCursor(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSender_DisplayName(t *testing.T) {
	if SenderUser.DisplayName() != "You" {
		t.Errorf("SenderUser.DisplayName() = %q", SenderUser.DisplayName())
	}
	if !SenderAssistant.Valid() || Sender("system").Valid() {
		t.Error("Valid() mismatch")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestNewConversation(t *testing.T) {
	conv := NewConversation()

	if conv.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", conv.Title, DefaultTitle)
	}
	if conv.MessageCount() != 0 {
		t.Errorf("MessageCount() = %d, want 0", conv.MessageCount())
	}
	if conv.LastMessage() != nil {
		t.Error("LastMessage() on empty conversation should be nil")
	}
	if !strings.HasPrefix(conv.ID, "conv_") {
		t.Errorf("ID = %q, want conv_ prefix", conv.ID)
	}
}

func TestConversation_Context(t *testing.T) {
	conv := NewConversation()
	for i := 0; i < 6; i++ {
		conv.Messages = append(conv.Messages, NewUserMessage(strings.Repeat("u", i+1)))
	}
	conv.Messages = append(conv.Messages, NewPlaceholder())

	ctx := conv.Context(4)
	if len(ctx) != 4 {
		t.Fatalf("len(Context(4)) = %d, want 4", len(ctx))
	}
	if ctx[3].Content != "uuuuuu" {
		t.Errorf("last context message = %q, want 'uuuuuu'", ctx[3].Content)
	}
	for _, m := range ctx {
		if m.IsPlaceholder() {
			t.Error("Context() included the placeholder")
		}
	}
}

func TestConversation_ContextKeepsFinishedCursorGlyph(t *testing.T) {
	conv := NewConversation()
	conv.Messages = append(conv.Messages,
		NewUserMessage("draw a bar"),
		NewAssistantMessage(Cursor+Cursor+Cursor),
	)

	ctx := conv.Context(10)
	if len(ctx) != 2 {
		t.Fatalf("len(Context(10)) = %d, want 2", len(ctx))
	}
}

func TestConversation_Message(t *testing.T) {
	conv := NewConversation()
	a := NewUserMessage("a")
	b := NewAssistantMessage("b")
	conv.Messages = append(conv.Messages, a, b)

	if got := conv.Message(a.ID); got == nil || got.Content != "a" {
		t.Errorf("Message(%q) = %v, want content 'a'", a.ID, got)
	}
	conv.Message(b.ID).Content = "changed"
	if conv.Messages[1].Content != "changed" {
		t.Error("Message() should return a pointer into the conversation")
	}
	if conv.Message("msg_missing") != nil {
		t.Error("Message(missing) should be nil")
	}
}

func TestConversation_CloneIsDeep(t *testing.T) {
	conv := NewConversation()
	conv.Messages = append(conv.Messages, NewAssistantMessage("a"))

	snap := conv.Clone()
	conv.Messages[0].Content = "changed"

	if snap.Messages[0].Content != "a" {
		t.Errorf("clone mutated: %q", snap.Messages[0].Content)
	}
}

func TestLimits_WithDefaults(t *testing.T) {
	l := Limits{MaxConversations: 3}.WithDefaults()

	if l.MaxConversations != 3 {
		t.Errorf("MaxConversations = %d, want 3", l.MaxConversations)
	}
	if l.MaxVisibleMessages != 50 {
		t.Errorf("MaxVisibleMessages = %d, want 50", l.MaxVisibleMessages)
	}
	if l.CleanupThreshold != 100 {
		t.Errorf("CleanupThreshold = %d, want 100", l.CleanupThreshold)
	}
	if l.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", l.RequestTimeout)
	}
	if l.UpdateThreshold != 100*time.Millisecond {
		t.Errorf("UpdateThreshold = %v, want 100ms", l.UpdateThreshold)
	}
}
