// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
)

// Turn tracks one user turn started by Send.
type Turn struct {
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string

	done    chan struct{}
	once    sync.Once
	content string
	err     error
}

func newTurn(conversationID string) *Turn {
	return &Turn{ConversationID: conversationID, done: make(chan struct{})}
}

func (t *Turn) finish(content string, err error) {
	t.once.Do(func() {
		t.content = content
		t.err = err
		close(t.done)
	})
}

// Done is closed when the reply, and the title on a first turn, are settled.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn is done and returns its error.
func (t *Turn) Wait() error {
	<-t.done
	return t.err
}

// WaitContext is Wait bounded by ctx.
func (t *Turn) WaitContext(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the turn's error, or nil while it is still running.
func (t *Turn) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Content returns the final reply once the turn succeeded.
func (t *Turn) Content() string {
	select {
	case <-t.done:
		return t.content
	default:
		return ""
	}
}
