// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/neochat/internal/archive"
	"github.com/jeranaias/neochat/internal/model"
)

func newTestStore(t *testing.T, kv archive.KV, limits model.Limits) *Store {
	t.Helper()
	s := New(archive.New(kv), Options{Limits: limits, TrimDelay: 50 * time.Millisecond})
	t.Cleanup(s.Close)
	return s
}

func addN(t *testing.T, s *Store, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.AddMessage(id, model.NewUserMessage(fmt.Sprintf("m-%d", i))))
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestCreateConversation(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{})

	id := s.CreateConversation()
	conv, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if conv.Title != model.DefaultTitle {
		t.Errorf("Title = %q, want %q", conv.Title, model.DefaultTitle)
	}
	if len(conv.Messages) != 0 {
		t.Errorf("len(Messages) = %d, want 0", len(conv.Messages))
	}
}

func TestCreateConversation_EvictsOldestWithArchive(t *testing.T) {
	kv := archive.NewMemoryKV()
	s := newTestStore(t, kv, model.Limits{MaxConversations: 3})

	ids := make([]string, 3)
	for i := range ids {
		ids[i] = s.CreateConversation()
	}
	require.NoError(t, s.Archive().Append(context.Background(), ids[0], []model.Message{model.NewUserMessage("old")}))

	var evicted []string
	s.Subscribe(func(ev Event) {
		if ev.Type == EventEvicted {
			evicted = append(evicted, ev.ConversationID)
		}
	})

	newest := s.CreateConversation()

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Has(ids[0]), "oldest conversation should be evicted")
	assert.True(t, s.Has(ids[1]))
	assert.True(t, s.Has(newest))
	assert.Equal(t, []string{ids[0]}, evicted)

	_, err := kv.Get(context.Background(), archive.Key(ids[0]))
	assert.ErrorIs(t, err, archive.ErrNotFound, "archive entry should be deleted with the conversation")
}

func TestCreateConversation_NeverExceedsCap(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{MaxConversations: 10})
	for i := 0; i < 25; i++ {
		s.CreateConversation()
		if s.Len() > 10 {
			t.Fatalf("Len() = %d after %d creates, want <= 10", s.Len(), i+1)
		}
	}
	assert.Equal(t, 10, s.Len())
}

func TestList_NewestFirst(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{})
	first := s.CreateConversation()
	second := s.CreateConversation()
	require.NoError(t, s.AddMessage(first, model.NewUserMessage("hello there")))

	metas := s.List()
	require.Len(t, metas, 2)
	assert.Equal(t, second, metas[0].ID)
	assert.Equal(t, first, metas[1].ID)
	assert.Equal(t, "hello there", metas[1].Preview)
	assert.Equal(t, 1, metas[1].MessageCount)
}

func TestDeleteConversation(t *testing.T) {
	kv := archive.NewMemoryKV()
	s := newTestStore(t, kv, model.Limits{})
	id := s.CreateConversation()
	s.Archive().Append(context.Background(), id, []model.Message{model.NewUserMessage("x")})

	require.NoError(t, s.DeleteConversation(id))
	assert.False(t, s.Has(id))
	assert.Empty(t, kv.Keys())

	err := s.DeleteConversation(id)
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("second DeleteConversation() error = %v, want ErrConversationNotFound", err)
	}
}

func TestSetTitle(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{})
	id := s.CreateConversation()

	require.NoError(t, s.SetTitle(id, "Greeting Reply"))
	conv, _ := s.Get(id)
	if conv.Title != "Greeting Reply" {
		t.Errorf("Title = %q, want 'Greeting Reply'", conv.Title)
	}

	if err := s.SetTitle("conv_missing", "x"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("SetTitle(missing) error = %v, want ErrConversationNotFound", err)
	}
}

func TestGet_ReturnsSnapshot(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{})
	id := s.CreateConversation()
	s.AddMessage(id, model.NewUserMessage("a"))

	snap, _ := s.Get(id)
	snap.Messages[0].Content = "mutated"

	conv, _ := s.Get(id)
	if conv.Messages[0].Content != "a" {
		t.Errorf("store content = %q, want 'a'", conv.Messages[0].Content)
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestAddMessage_Errors(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{})
	id := s.CreateConversation()

	if err := s.AddMessage("conv_missing", model.NewUserMessage("x")); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("AddMessage(missing) error = %v, want ErrConversationNotFound", err)
	}
	bad := model.NewMessage(model.Sender("system"), "x")
	if err := s.AddMessage(id, bad); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("AddMessage(bad sender) error = %v, want ErrInvalidMessage", err)
	}
}

func TestUpdateLastAssistantMessage(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{})
	id := s.CreateConversation()

	tests := []struct {
		name    string
		last    *model.Message
		wantOK  bool
		wantEnd string
	}{
		{"empty conversation", nil, false, ""},
		{"last is user", ptr(model.NewUserMessage("question")), false, "question"},
		{"last is assistant", ptr(model.NewPlaceholder()), true, "partial"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.last != nil {
				require.NoError(t, s.AddMessage(id, *tc.last))
			}
			ok := s.UpdateLastAssistantMessage(id, "partial")
			if ok != tc.wantOK {
				t.Errorf("UpdateLastAssistantMessage() = %v, want %v", ok, tc.wantOK)
			}
			conv, _ := s.Get(id)
			if last := conv.LastMessage(); last != nil && last.Content != tc.wantEnd {
				t.Errorf("last content = %q, want %q", last.Content, tc.wantEnd)
			}
		})
	}

	if s.UpdateLastAssistantMessage("conv_missing", "x") {
		t.Error("UpdateLastAssistantMessage(missing) should be false")
	}
}

func TestUpdateAssistantMessage(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{})
	id := s.CreateConversation()

	user := model.NewUserMessage("hi")
	reply := model.NewPlaceholder()
	require.NoError(t, s.AddMessage(id, user))
	require.NoError(t, s.AddMessage(id, reply))
	require.NoError(t, s.AddMessage(id, model.NewUserMessage("later")))

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	assert.True(t, s.UpdateAssistantMessage(id, reply.ID, "Hel"+model.Cursor, true), "targets the message by ID, not position")
	assert.False(t, s.UpdateAssistantMessage(id, user.ID, "x", false), "user messages are never rewritten")
	assert.False(t, s.UpdateAssistantMessage(id, "msg_missing", "x", false))
	assert.False(t, s.UpdateAssistantMessage("conv_missing", reply.ID, "x", false))

	assert.True(t, s.UpdateAssistantMessage(id, reply.ID, "Hello", false))
	assert.False(t, s.UpdateAssistantMessage(id, reply.ID, "late"+model.Cursor, true), "a finished reply stays finished")

	conv, _ := s.Get(id)
	got := conv.Message(reply.ID)
	require.NotNil(t, got)
	assert.Equal(t, "Hello", got.Content)
	assert.False(t, got.IsPlaceholder())

	require.Len(t, events, 2)
	assert.True(t, events[0].Streaming)
	assert.False(t, events[1].Streaming)
	assert.Equal(t, reply.ID, events[1].MessageID)
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// TRIM TESTS
// =============================================================================

func TestAddMessage_CoalescesIntoSingleTrim(t *testing.T) {
	s := newTestStore(t, nil, model.DefaultLimits())
	id := s.CreateConversation()

	addN(t, s, id, 110)

	require.Eventually(t, func() bool { return s.Trims() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, s.Trims(), "rapid additions should coalesce into one trim")

	conv, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 50)
	assert.Equal(t, "m-60", conv.Messages[0].Content)
	assert.Equal(t, "m-109", conv.Messages[49].Content)

	archived, err := s.History(id, 0, 0)
	require.NoError(t, err)
	require.Len(t, archived, 60)
	for i, msg := range archived {
		if msg.Content != fmt.Sprintf("m-%d", i) {
			t.Fatalf("archived[%d] = %q, want m-%d", i, msg.Content, i)
		}
	}
}

func TestAddMessage_BelowThresholdNoTrim(t *testing.T) {
	s := newTestStore(t, nil, model.DefaultLimits())
	id := s.CreateConversation()

	addN(t, s, id, 100)
	time.Sleep(120 * time.Millisecond)

	assert.Equal(t, 0, s.Trims())
	conv, _ := s.Get(id)
	assert.Len(t, conv.Messages, 100)
}

func TestTrim_Explicit(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{MaxVisibleMessages: 5, CleanupThreshold: 1000})
	id := s.CreateConversation()
	addN(t, s, id, 8)

	if moved := s.Trim(id); moved != 3 {
		t.Errorf("Trim() = %d, want 3", moved)
	}
	if moved := s.Trim(id); moved != 0 {
		t.Errorf("second Trim() = %d, want 0", moved)
	}
	assert.Equal(t, 3, s.ArchivedCount(id))

	page, _ := s.History(id, 1, 1)
	require.Len(t, page, 1)
	assert.Equal(t, "m-1", page[0].Content)
}

func TestTrim_SuccessiveTrimsAppend(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{MaxVisibleMessages: 2, CleanupThreshold: 1000})
	id := s.CreateConversation()

	addN(t, s, id, 4)
	s.Trim(id)
	require.NoError(t, s.AddMessage(id, model.NewUserMessage("late")))
	s.Trim(id)

	archived, _ := s.History(id, 0, 0)
	var got []string
	for _, m := range archived {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"m-0", "m-1", "m-2"}, got)
}

// failingKV rejects writes.
type failingKV struct{ *archive.MemoryKV }

func (failingKV) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestTrim_ArchiveFailureKeepsMessagesLive(t *testing.T) {
	s := newTestStore(t, failingKV{archive.NewMemoryKV()}, model.Limits{MaxVisibleMessages: 2, CleanupThreshold: 1000})
	id := s.CreateConversation()
	addN(t, s, id, 5)

	if moved := s.Trim(id); moved != 0 {
		t.Errorf("Trim() = %d, want 0 on archive failure", moved)
	}
	conv, _ := s.Get(id)
	assert.Len(t, conv.Messages, 5, "messages must stay live when the archive write fails")
}

// flakyReadKV fails reads while failGet is set.
type flakyReadKV struct {
	*archive.MemoryKV
	failGet atomic.Bool
}

func (f *flakyReadKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGet.Load() {
		return nil, errors.New("i/o timeout")
	}
	return f.MemoryKV.Get(ctx, key)
}

func TestTrim_ArchiveReadFailureKeepsEverything(t *testing.T) {
	kv := &flakyReadKV{MemoryKV: archive.NewMemoryKV()}
	s := newTestStore(t, kv, model.Limits{MaxVisibleMessages: 2, CleanupThreshold: 1000})
	id := s.CreateConversation()

	addN(t, s, id, 6)
	require.Equal(t, 4, s.Trim(id))
	addN(t, s, id, 3)

	kv.failGet.Store(true)
	if moved := s.Trim(id); moved != 0 {
		t.Errorf("Trim() = %d, want 0 when the archive cannot be read", moved)
	}
	conv, _ := s.Get(id)
	assert.Len(t, conv.Messages, 5, "messages must stay live when the archive read fails")

	kv.failGet.Store(false)
	assert.Equal(t, 4, s.ArchivedCount(id), "existing archive must not be overwritten")
	assert.Equal(t, 3, s.Trim(id))
	assert.Equal(t, 7, s.ArchivedCount(id))
}

// blockingKV holds every write until release is closed.
type blockingKV struct {
	*archive.MemoryKV
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingKV() *blockingKV {
	return &blockingKV{
		MemoryKV: archive.NewMemoryKV(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (b *blockingKV) Set(ctx context.Context, key string, value []byte) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.MemoryKV.Set(ctx, key, value)
}

func TestTrim_ArchiveWriteDoesNotBlockUpdates(t *testing.T) {
	kv := newBlockingKV()
	s := newTestStore(t, kv, model.Limits{MaxVisibleMessages: 3, CleanupThreshold: 1000})
	id := s.CreateConversation()
	other := s.CreateConversation()
	addN(t, s, id, 5)
	require.NoError(t, s.AddMessage(other, model.NewPlaceholder()))

	moved := make(chan int, 1)
	go func() { moved <- s.Trim(id) }()
	<-kv.entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		conv, _ := s.Get(other)
		s.UpdateAssistantMessage(other, conv.Messages[0].ID, "streaming"+model.Cursor, true)
		s.AddMessage(id, model.NewUserMessage("during"))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("store writes blocked behind the archive write")
	}

	close(kv.release)
	require.Equal(t, 2, <-moved)

	conv, _ := s.Get(id)
	var got []string
	for _, m := range conv.Messages {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"m-2", "m-3", "m-4", "during"}, got)
	assert.Equal(t, 2, s.ArchivedCount(id))
}

func TestTrim_ConversationDeletedDuringWrite(t *testing.T) {
	kv := newBlockingKV()
	s := newTestStore(t, kv, model.Limits{MaxVisibleMessages: 1, CleanupThreshold: 1000})
	id := s.CreateConversation()
	addN(t, s, id, 3)

	moved := make(chan int, 1)
	go func() { moved <- s.Trim(id) }()
	<-kv.entered

	deleted := make(chan error, 1)
	go func() { deleted <- s.DeleteConversation(id) }()
	require.Eventually(t, func() bool { return !s.Has(id) }, time.Second, 5*time.Millisecond)

	close(kv.release)
	assert.Equal(t, 0, <-moved)
	require.NoError(t, <-deleted)
	assert.Empty(t, kv.Keys(), "archive entry of a deleted conversation must not survive")
}

func TestClose_CancelsPendingTrim(t *testing.T) {
	s := newTestStore(t, nil, model.DefaultLimits())
	id := s.CreateConversation()
	addN(t, s, id, 101)

	s.Close()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, s.Trims())
}

// =============================================================================
// SUBSCRIPTION TESTS
// =============================================================================

func TestSubscribe(t *testing.T) {
	s := newTestStore(t, nil, model.Limits{})

	var mu sync.Mutex
	var types []EventType
	unsubscribe := s.Subscribe(func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	id := s.CreateConversation()
	s.AddMessage(id, model.NewPlaceholder())
	s.UpdateLastAssistantMessage(id, "hi")
	s.SetTitle(id, "Hi")
	unsubscribe()
	s.DeleteConversation(id)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventCreated, EventMessage, EventUpdated, EventTitle}, types)
}
