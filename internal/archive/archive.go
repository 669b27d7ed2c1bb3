// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jeranaias/neochat/internal/model"
)

// KeyPrefix prefixes every archive key.
const KeyPrefix = "archive_"

// Key returns the storage key for a conversation's archive entry.
func Key(conversationID string) string {
	return KeyPrefix + conversationID
}

// =============================================================================
// ARCHIVE
// =============================================================================

// Archive appends and reads archived messages per conversation.
//
// Append is a read-modify-write on the backend, so appends are serialized
// within one Archive.
type Archive struct {
	kv KV
	mu sync.Mutex
}

// New wraps a key-value backend. A nil backend gets an in-memory one.
func New(kv KV) *Archive {
	if kv == nil {
		kv = NewMemoryKV()
	}
	return &Archive{kv: kv}
}

// Append adds msgs to the end of the conversation's archive entry.
// A missing or corrupt existing entry counts as empty. If the existing entry
// cannot be read nothing is written and the read error is returned, so a
// backend hiccup never replaces archived history. The returned error is for
// the caller's bookkeeping only; failures are already logged.
func (a *Archive) Append(ctx context.Context, conversationID string, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.load(ctx, conversationID)
	if err != nil {
		return err
	}
	combined := append(existing, msgs...)
	data, err := json.Marshal(combined)
	if err != nil {
		log.Printf("ARCHIVE_ENCODE_FAILED | conversation=%s error=%v", conversationID, err)
		return err
	}

	if err := a.kv.Set(ctx, Key(conversationID), data); err != nil {
		log.Printf("ARCHIVE_WRITE_FAILED | conversation=%s messages=%d error=%v", conversationID, len(msgs), err)
		return err
	}
	return nil
}

// Read returns up to count archived messages starting at offset, oldest
// first. A non-positive count reads to the end. Absent entries and
// out-of-range offsets yield an empty slice.
func (a *Archive) Read(ctx context.Context, conversationID string, offset, count int) []model.Message {
	a.mu.Lock()
	msgs, _ := a.load(ctx, conversationID)
	a.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(msgs) {
		return []model.Message{}
	}
	end := len(msgs)
	if count > 0 && offset+count < end {
		end = offset + count
	}
	return msgs[offset:end]
}

// Len returns the number of archived messages for a conversation.
func (a *Archive) Len(ctx context.Context, conversationID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs, _ := a.load(ctx, conversationID)
	return len(msgs)
}

// Delete discards a conversation's archive entry. Failures are logged.
func (a *Archive) Delete(ctx context.Context, conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.kv.Delete(ctx, Key(conversationID)); err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("ARCHIVE_DELETE_FAILED | conversation=%s error=%v", conversationID, err)
	}
}

// Close releases the backend.
func (a *Archive) Close() error {
	return a.kv.Close()
}

// load reads and decodes an entry. Missing and corrupt entries are empty;
// any other backend failure is returned with an empty slice.
// Caller must hold a.mu.
func (a *Archive) load(ctx context.Context, conversationID string) ([]model.Message, error) {
	data, err := a.kv.Get(ctx, Key(conversationID))
	if errors.Is(err, ErrNotFound) {
		return []model.Message{}, nil
	}
	if err != nil {
		log.Printf("ARCHIVE_READ_FAILED | conversation=%s error=%v", conversationID, err)
		return []model.Message{}, fmt.Errorf("read archive %s: %w", conversationID, err)
	}

	var msgs []model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		log.Printf("ARCHIVE_CORRUPT | conversation=%s bytes=%d error=%v", conversationID, len(data), err)
		return []model.Message{}, nil
	}
	return msgs, nil
}
