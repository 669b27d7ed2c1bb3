// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/neochat/internal/archive"
	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/util"
)

// DefaultTrimDelay is how long the store waits after the last addition
// before trimming an oversized conversation.
const DefaultTrimDelay = time.Second

// archiveTimeout bounds a single archive handoff.
const archiveTimeout = 5 * time.Second

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Store.
type Options struct {
	// Limits supplies MaxConversations, MaxVisibleMessages and CleanupThreshold.
	Limits model.Limits

	// TrimDelay debounces scheduled trims (default: 1s).
	TrimDelay time.Duration
}

// =============================================================================
// STORE
// =============================================================================

// Store is the bounded set of live conversations.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	order         []string // creation order, oldest first
	archive       *archive.Archive
	limits        model.Limits
	trimDelay     time.Duration

	pending map[string]*pendingTrim
	trims   int
	closed  bool

	// trimMu serializes archive handoffs. It is taken before mu and is
	// held across the archive write, which mu is not.
	trimMu sync.Mutex

	subMu       sync.RWMutex
	subscribers map[int]func(Event)
	nextSubID   int
}

// pendingTrim is a scheduled trim. seq identifies the latest schedule so a
// replaced timer that already fired does nothing.
type pendingTrim struct {
	timer *time.Timer
	seq   uint64
}

// New creates a store that archives overflow into arch.
// A nil archive gets an in-memory one.
func New(arch *archive.Archive, opts Options) *Store {
	if arch == nil {
		arch = archive.New(nil)
	}
	if opts.TrimDelay <= 0 {
		opts.TrimDelay = DefaultTrimDelay
	}
	return &Store{
		conversations: make(map[string]*model.Conversation),
		archive:       arch,
		limits:        opts.Limits.WithDefaults(),
		trimDelay:     opts.TrimDelay,
		pending:       make(map[string]*pendingTrim),
		subscribers:   make(map[int]func(Event)),
	}
}

// Limits returns the limits the store enforces.
func (s *Store) Limits() model.Limits {
	return s.limits
}

// Archive returns the archive backing the store.
func (s *Store) Archive() *archive.Archive {
	return s.archive
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// CreateConversation creates an empty conversation and returns its ID.
// When the store is at capacity the oldest conversations are evicted first,
// together with their archive entries.
func (s *Store) CreateConversation() string {
	conv := model.NewConversation()

	s.mu.Lock()
	evicted := s.enforceLimitLocked()
	s.conversations[conv.ID] = conv
	s.order = append(s.order, conv.ID)
	s.mu.Unlock()

	for _, id := range evicted {
		s.archive.Delete(context.Background(), id)
		log.Printf("CONVERSATION_EVICTED | id=%s", id)
		s.emit(Event{Type: EventEvicted, ConversationID: id})
	}
	s.emit(Event{Type: EventCreated, ConversationID: conv.ID, Title: conv.Title})
	return conv.ID
}

// enforceLimitLocked removes the oldest conversations until one more fits.
// Caller must hold s.mu.
func (s *Store) enforceLimitLocked() []string {
	var evicted []string
	for len(s.order) >= s.limits.MaxConversations {
		id := s.order[0]
		s.removeLocked(id)
		evicted = append(evicted, id)
	}
	return evicted
}

// removeLocked drops a conversation and any pending trim for it.
// Caller must hold s.mu.
func (s *Store) removeLocked(id string) {
	delete(s.conversations, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if p, ok := s.pending[id]; ok {
		p.timer.Stop()
		delete(s.pending, id)
	}
}

// DeleteConversation removes a conversation and its archive entry.
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	if _, ok := s.conversations[id]; !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	s.removeLocked(id)
	s.mu.Unlock()

	s.archive.Delete(context.Background(), id)
	s.emit(Event{Type: EventDeleted, ConversationID: id})
	return nil
}

// Get returns a snapshot of a conversation.
func (s *Store) Get(id string) (model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return model.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

// Has reports whether a conversation is live.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conversations[id]
	return ok
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// List returns metadata for all live conversations (most recent first).
func (s *Store) List() []ConversationMeta {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas := make([]ConversationMeta, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		conv := s.conversations[s.order[i]]

		preview := ""
		for _, msg := range conv.Messages {
			if msg.Sender == model.SenderUser {
				preview = util.TruncateRunes(msg.Content, 80)
				break
			}
		}

		metas = append(metas, ConversationMeta{
			ID:           conv.ID,
			Title:        conv.Title,
			MessageCount: len(conv.Messages),
			Preview:      preview,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	return metas
}

// SetTitle replaces a conversation's title.
func (s *Store) SetTitle(id, title string) error {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.emit(Event{Type: EventTitle, ConversationID: id, Title: title})
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// AddMessage appends msg to a conversation. When the live count exceeds the
// cleanup threshold a trim is scheduled, replacing any pending schedule.
func (s *Store) AddMessage(id string, msg model.Message) error {
	if !msg.Sender.Valid() {
		return ErrInvalidMessage
	}

	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now()
	if len(conv.Messages) > s.limits.CleanupThreshold {
		s.scheduleTrimLocked(id)
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventMessage, ConversationID: id, MessageID: msg.ID, Sender: msg.Sender, Content: msg.Content})
	return nil
}

// UpdateLastAssistantMessage replaces the content of the final message if,
// and only if, it was sent by the assistant. It reports whether it did.
func (s *Store) UpdateLastAssistantMessage(id, content string) bool {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	last := conv.LastMessage()
	if last == nil || last.Sender != model.SenderAssistant {
		s.mu.Unlock()
		return false
	}
	last.Content = content
	msgID, streaming := last.ID, last.Streaming
	conv.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.emit(Event{Type: EventUpdated, ConversationID: id, MessageID: msgID, Sender: model.SenderAssistant, Content: content, Streaming: streaming})
	return true
}

// UpdateAssistantMessage replaces the content of the assistant message msgID
// and sets its streaming state. A reply marked finished stays finished. It
// reports whether the message was updated.
func (s *Store) UpdateAssistantMessage(id, msgID, content string, streaming bool) bool {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	msg := conv.Message(msgID)
	if msg == nil || msg.Sender != model.SenderAssistant || (streaming && !msg.Streaming) {
		s.mu.Unlock()
		return false
	}
	msg.Content = content
	msg.Streaming = streaming
	conv.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.emit(Event{Type: EventUpdated, ConversationID: id, MessageID: msgID, Sender: model.SenderAssistant, Content: content, Streaming: streaming})
	return true
}

// =============================================================================
// TRIM
// =============================================================================

// scheduleTrimLocked arms a single-shot trim for id after the trim delay.
// Caller must hold s.mu.
func (s *Store) scheduleTrimLocked(id string) {
	if s.closed {
		return
	}
	p, ok := s.pending[id]
	if !ok {
		p = &pendingTrim{}
		s.pending[id] = p
	} else {
		p.timer.Stop()
	}
	p.seq++
	seq := p.seq
	p.timer = time.AfterFunc(s.trimDelay, func() {
		s.runScheduledTrim(id, seq)
	})
}

func (s *Store) runScheduledTrim(id string, seq uint64) {
	s.trimMu.Lock()
	defer s.trimMu.Unlock()

	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok || p.seq != seq || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	if moved := s.handoff(id); moved > 0 {
		s.emit(Event{Type: EventTrimmed, ConversationID: id, Trimmed: moved})
	}
}

// Trim keeps the newest MaxVisibleMessages of a conversation live and moves
// the rest to the archive. It returns the number of messages moved.
//
// The prefix is removed from the live set only after the archive write
// succeeds, so every message is always in at least one place. Streaming
// updates and other conversations are not blocked by the write.
func (s *Store) Trim(id string) int {
	s.trimMu.Lock()
	defer s.trimMu.Unlock()

	s.mu.Lock()
	if p, ok := s.pending[id]; ok {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	moved := s.handoff(id)
	if moved > 0 {
		s.emit(Event{Type: EventTrimmed, ConversationID: id, Trimmed: moved})
	}
	return moved
}

// handoff archives the overflow prefix of a conversation and then drops it
// from the live set. Caller must hold s.trimMu and not s.mu.
func (s *Store) handoff(id string) int {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	excess := len(conv.Messages) - s.limits.MaxVisibleMessages
	if excess <= 0 {
		s.mu.Unlock()
		return 0
	}
	prefix := make([]model.Message, excess)
	copy(prefix, conv.Messages[:excess])
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.archive.Append(ctx, id, prefix); err != nil {
		log.Printf("TRIM_DEFERRED | conversation=%s messages=%d error=%v", id, excess, err)
		return 0
	}

	s.mu.Lock()
	conv, ok = s.conversations[id]
	if !ok {
		s.mu.Unlock()
		// Deleted or evicted during the write; drop what was just archived.
		s.archive.Delete(context.Background(), id)
		return 0
	}
	if !hasPrefix(conv.Messages, prefix) {
		s.mu.Unlock()
		log.Printf("TRIM_ABORTED | conversation=%s reason=live messages changed", id)
		return 0
	}
	kept := make([]model.Message, len(conv.Messages)-excess)
	copy(kept, conv.Messages[excess:])
	conv.Messages = kept
	s.trims++
	live := len(kept)
	s.mu.Unlock()

	log.Printf("CONVERSATION_TRIMMED | conversation=%s archived=%d live=%d", id, excess, live)
	return excess
}

// hasPrefix reports whether msgs still starts with the messages of prefix.
func hasPrefix(msgs, prefix []model.Message) bool {
	if len(msgs) < len(prefix) {
		return false
	}
	for i := range prefix {
		if msgs[i].ID != prefix[i].ID || msgs[i].Content != prefix[i].Content {
			return false
		}
	}
	return true
}

// Trims returns how many trims have completed.
func (s *Store) Trims() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trims
}

// =============================================================================
// HISTORY
// =============================================================================

// History reads archived messages of a live conversation, oldest first.
func (s *Store) History(id string, offset, count int) ([]model.Message, error) {
	if !s.Has(id) {
		return nil, ErrConversationNotFound
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	return s.archive.Read(ctx, id, offset, count), nil
}

// ArchivedCount returns the number of archived messages of a conversation.
func (s *Store) ArchivedCount(id string) int {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	return s.archive.Len(ctx, id)
}

// Close stops pending trims. It does not close the archive.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
}
