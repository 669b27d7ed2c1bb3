// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/ollama"
	"github.com/jeranaias/neochat/internal/store"
	"github.com/jeranaias/neochat/internal/stream"
)

// Generator starts a streamed generate request. *ollama.Client implements it.
type Generator interface {
	GenerateStream(ctx context.Context, req ollama.GenerateRequest) (io.ReadCloser, error)
}

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrShutdown is returned by Send after Shutdown.
	ErrShutdown = errors.New("chat manager is shut down")

	// ErrCanceled is the turn error of a superseded or cancelled request.
	ErrCanceled = errors.New("request cancelled")
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Manager.
type Options struct {
	// Limits supplies MaxVisibleMessages, RequestTimeout and UpdateThreshold.
	Limits model.Limits

	// Model is the model name sent with each request. Empty lets the
	// generator pick its default.
	Model string

	// SystemPrompt defaults to DefaultSystemPrompt.
	SystemPrompt string

	// Sampling is sent as the request options. Nil omits them.
	Sampling *ollama.Options

	// BackendURL is only used in connection failure messages.
	BackendURL string

	// DisableTitles skips the title request.
	DisableTitles bool
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager orchestrates user turns. It is safe for concurrent use.
type Manager struct {
	client Generator
	store  *store.Store
	opts   Options
	limits model.Limits

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	active     map[string]*request
	sending    map[string]*sendLock
	generation uint64
	closed     bool
	wg         sync.WaitGroup
}

// request is one in-flight generate call.
type request struct {
	conversationID string
	placeholderID  string
	generation     uint64
	cancel         context.CancelFunc
	scheduler      *stream.Scheduler
	turn           *Turn

	mu         sync.Mutex
	superseded bool
	placed     bool // placeholder is in the store
	finalized  bool
}

// sendLock serializes the supersede-and-append step of Send per
// conversation. refs counts holders and waiters so idle locks are dropped.
type sendLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a manager writing into st.
func NewManager(client Generator, st *store.Store, opts Options) *Manager {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	limits := opts.Limits
	if limits == (model.Limits{}) {
		limits = st.Limits()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		client:     client,
		store:      st,
		opts:       opts,
		limits:     limits.WithDefaults(),
		baseCtx:    ctx,
		baseCancel: cancel,
		active:     make(map[string]*request),
		sending:    make(map[string]*sendLock),
	}
}

// lockConversation blocks until no other Send is between claiming the
// conversation and adding its placeholder.
func (m *Manager) lockConversation(conversationID string) (unlock func()) {
	m.mu.Lock()
	l := m.sending[conversationID]
	if l == nil {
		l = &sendLock{}
		m.sending[conversationID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.sending, conversationID)
		}
		m.mu.Unlock()
	}
}

// Send starts a turn: it supersedes any request in flight for the
// conversation, appends the user message and an assistant placeholder, and
// streams the reply in the background. ctx supplies values only; the request
// outlives it and is bounded by the request timeout instead.
//
// Concurrent sends on one conversation are applied in turn, so each user
// message is directly followed by its own reply.
func (m *Manager) Send(ctx context.Context, conversationID, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := m.lockConversation(conversationID)
	defer unlock()

	if !m.store.Has(conversationID) {
		return nil, store.ErrConversationNotFound
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.limits.RequestTimeout)
	turn := newTurn(conversationID)
	placeholder := model.NewPlaceholder()
	req := &request{
		conversationID: conversationID,
		placeholderID:  placeholder.ID,
		cancel:         cancel,
		turn:           turn,
	}
	req.scheduler = stream.NewScheduler(m.guardedCommit(req),
		stream.WithThreshold(m.limits.UpdateThreshold),
		stream.WithFinal(func(content string) { m.resolve(req, replyOrEmpty(content)) }))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrShutdown
	}
	m.generation++
	req.generation = m.generation
	previous := m.active[conversationID]
	m.active[conversationID] = req
	m.wg.Add(1)
	m.mu.Unlock()

	started := false
	defer func() {
		if !started {
			m.wg.Done()
		}
	}()

	if previous != nil {
		log.Printf("CHAT_REQUEST_SUPERSEDED | conversation=%s generation=%d by=%d",
			conversationID, previous.generation, req.generation)
		m.abort(previous)
	}

	// Read after the abort so the prompt sees the finalized reply.
	conv, err := m.store.Get(conversationID)
	if err != nil {
		m.release(req)
		cancel()
		return nil, err
	}
	firstTurn := conv.MessageCount() == 0
	prompt := buildPrompt(conv.Context(m.limits.MaxVisibleMessages), text)

	userMsg := model.NewUserMessage(text)
	if err := m.store.AddMessage(conversationID, userMsg); err != nil {
		m.release(req)
		cancel()
		return nil, err
	}
	if err := m.store.AddMessage(conversationID, placeholder); err != nil {
		m.release(req)
		cancel()
		return nil, err
	}
	turn.UserMessageID = userMsg.ID
	turn.AssistantMessageID = placeholder.ID

	// A Cancel or Shutdown that landed before the placeholder existed could
	// not finalize it; do it here.
	req.mu.Lock()
	req.placed = true
	superseded := req.superseded
	req.mu.Unlock()
	if superseded {
		cancel()
		m.finalizePlaceholder(req)
		turn.finish("", ErrCanceled)
		return turn, nil
	}

	stopOnShutdown := context.AfterFunc(m.baseCtx, cancel)

	started = true
	go func() {
		defer m.wg.Done()
		defer stopOnShutdown()
		defer cancel()
		m.run(reqCtx, req, prompt, text, firstTurn)
	}()

	return turn, nil
}

// run streams one reply and, on a successful first turn, the title.
func (m *Manager) run(ctx context.Context, req *request, prompt, text string, firstTurn bool) {
	start := time.Now()
	log.Printf("CHAT_REQUEST_START | conversation=%s generation=%d model=%s",
		req.conversationID, req.generation, m.opts.Model)

	content, stats, err := m.stream(ctx, req, prompt)
	if err != nil {
		m.fail(ctx, req, err)
		return
	}

	log.Printf("CHAT_REQUEST_DONE | conversation=%s generation=%d fragments=%d tokens=%d tps=%.1f duration=%s",
		req.conversationID, req.generation, stats.Fragments, stats.CompletionTokens, stats.TokensPerSecond,
		time.Since(start).Round(time.Millisecond))

	m.release(req)
	if firstTurn && !m.opts.DisableTitles {
		m.generateTitle(req.conversationID, text)
	}
	req.turn.finish(content, nil)
}

// stream drives decoder and scheduler until the body ends.
func (m *Manager) stream(ctx context.Context, req *request, prompt string) (string, stream.Stats, error) {
	body, err := m.client.GenerateStream(ctx, ollama.GenerateRequest{
		Model:   m.opts.Model,
		Prompt:  prompt,
		System:  m.opts.SystemPrompt,
		Stream:  true,
		Options: m.opts.Sampling,
	})
	if err != nil {
		return "", stream.Stats{}, err
	}
	defer body.Close()

	dec := stream.NewDecoder(body)
	for {
		frag, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", dec.Stats(), err
		}
		req.scheduler.Push(frag)
	}

	// A cancelled body can surface as a clean EOF.
	if err := ctx.Err(); err != nil {
		return "", dec.Stats(), err
	}

	content := replyOrEmpty(req.scheduler.Complete())
	return content, dec.Stats(), nil
}

// fail resolves a turn that did not complete.
func (m *Manager) fail(ctx context.Context, req *request, err error) {
	req.scheduler.Cancel()

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Printf("CHAT_REQUEST_TIMEOUT | conversation=%s generation=%d timeout=%s",
			req.conversationID, req.generation, m.limits.RequestTimeout)
		m.resolve(req, TimeoutMessage(m.limits.RequestTimeout))
		err = ollama.ErrTimeout

	case errors.Is(ctx.Err(), context.Canceled):
		// Whoever cancelled has already finalized the reply.
		req.turn.finish("", ErrCanceled)
		return

	default:
		log.Printf("CHAT_REQUEST_FAILED | conversation=%s generation=%d error=%v",
			req.conversationID, req.generation, err)
		m.resolve(req, FailureMessage(err, m.opts.BackendURL, m.opts.Model))
	}

	m.release(req)
	req.turn.finish("", err)
}

// guardedCommit returns the scheduler's commit function for req. Commits
// from a superseded generation are dropped.
func (m *Manager) guardedCommit(req *request) stream.CommitFunc {
	return func(content string) {
		m.commitIfCurrent(req, content, true)
	}
}

// replyOrEmpty substitutes EmptyResponseMessage for a blank reply.
func replyOrEmpty(content string) string {
	if strings.TrimSpace(content) == "" {
		return EmptyResponseMessage
	}
	return content
}

// resolve writes the final content of req's reply and marks it finished.
func (m *Manager) resolve(req *request, content string) {
	m.commitIfCurrent(req, content, false)
}

// commitIfCurrent writes content into req's placeholder unless req has been
// superseded. req.mu is held across the write, so once abort returns no
// further update from req can land.
func (m *Manager) commitIfCurrent(req *request, content string, streaming bool) bool {
	req.mu.Lock()
	defer req.mu.Unlock()

	if req.superseded || req.finalized {
		return false
	}
	if !streaming {
		req.finalized = true
	}
	return m.store.UpdateAssistantMessage(req.conversationID, req.placeholderID, content, streaming)
}

// release drops req from the active set if it is still there.
func (m *Manager) release(req *request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[req.conversationID] == req {
		delete(m.active, req.conversationID)
	}
}

// abort stops a request that is no longer active and finalizes its reply.
// If the placeholder has not been added yet, Send finalizes it instead.
func (m *Manager) abort(req *request) {
	req.mu.Lock()
	req.superseded = true
	placed := req.placed
	req.mu.Unlock()

	req.cancel()
	req.scheduler.Cancel()
	if placed {
		m.finalizePlaceholder(req)
	}
}

// finalizePlaceholder removes the streaming cursor from an abandoned reply,
// or marks it cancelled if nothing arrived yet. It runs at most once per
// request and never after the reply resolved normally.
func (m *Manager) finalizePlaceholder(req *request) {
	req.mu.Lock()
	defer req.mu.Unlock()
	if req.finalized {
		return
	}
	req.finalized = true

	conv, err := m.store.Get(req.conversationID)
	if err != nil {
		return
	}
	msg := conv.Message(req.placeholderID)
	if msg == nil || !msg.IsPlaceholder() {
		return
	}
	content := strings.TrimSpace(msg.Text())
	if content == "" {
		content = CancelledMessage
	}
	m.store.UpdateAssistantMessage(req.conversationID, req.placeholderID, content, false)
}

// =============================================================================
// TITLE
// =============================================================================

// generateTitle names a conversation from its first message. Every failure
// falls back to model.DefaultTitle.
func (m *Manager) generateTitle(conversationID, firstMessage string) {
	ctx, cancel := context.WithTimeout(m.baseCtx, m.limits.RequestTimeout)
	defer cancel()

	title := model.DefaultTitle
	body, err := m.client.GenerateStream(ctx, ollama.GenerateRequest{
		Model:  m.opts.Model,
		Prompt: titlePrompt(firstMessage),
		Stream: true,
	})
	if err == nil {
		raw, cerr := stream.Collect(body)
		body.Close()
		if cerr == nil {
			title = SanitizeTitle(raw)
		} else {
			err = cerr
		}
	}
	if err != nil {
		log.Printf("TITLE_FAILED | conversation=%s error=%v", conversationID, err)
	}

	if err := m.store.SetTitle(conversationID, title); err != nil {
		log.Printf("TITLE_DISCARDED | conversation=%s error=%v", conversationID, err)
	}
}

// =============================================================================
// CONTROL
// =============================================================================

// Cancel stops the request in flight for a conversation. It reports whether
// there was one.
func (m *Manager) Cancel(conversationID string) bool {
	m.mu.Lock()
	req := m.active[conversationID]
	delete(m.active, conversationID)
	m.mu.Unlock()

	if req == nil {
		return false
	}
	log.Printf("CHAT_REQUEST_CANCELLED | conversation=%s generation=%d", conversationID, req.generation)
	m.abort(req)
	return true
}

// Active reports whether a request is in flight for a conversation.
func (m *Manager) Active(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[conversationID]
	return ok
}

// Shutdown cancels every request and waits for their goroutines.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := make([]*request, 0, len(m.active))
	for id, req := range m.active {
		pending = append(pending, req)
		delete(m.active, id)
	}
	m.mu.Unlock()

	for _, req := range pending {
		m.abort(req)
	}
	m.baseCancel()
	m.wg.Wait()
}

// =============================================================================
// MESSAGES
// =============================================================================

const (
	// CancelledMessage replaces a reply that was cancelled before any text.
	CancelledMessage = "Response cancelled."

	// EmptyResponseMessage replaces a reply that finished without text.
	EmptyResponseMessage = "No response received from the model."
)

// TimeoutMessage is the reply shown when a request exceeds its timeout.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("The request timed out after %s. The model may still be loading; please try again.", timeout)
}

// FailureMessage is the reply shown when the backend could not answer.
func FailureMessage(err error, backendURL, modelName string) string {
	var streamErr *stream.StreamError
	switch {
	case ollama.IsNotRunning(err):
		var sb strings.Builder
		sb.WriteString("An error occurred while connecting to Ollama. Please ensure:\n")
		sb.WriteString("1. Ollama is installed and running\n")
		if backendURL != "" {
			fmt.Fprintf(&sb, "2. The server is accessible at %s\n", backendURL)
		} else {
			sb.WriteString("2. The server address is configured correctly\n")
		}
		if modelName != "" {
			fmt.Fprintf(&sb, "3. The %s model is installed (`ollama pull %s`)", modelName, modelName)
		} else {
			sb.WriteString("3. A model is installed (`ollama pull <model>`)")
		}
		return sb.String()
	case ollama.IsModelNotFound(err):
		return fmt.Sprintf("Model %q is not installed. Run `ollama pull %s` and try again.", modelName, modelName)
	case errors.As(err, &streamErr):
		return "The model reported an error: " + streamErr.Message
	default:
		return "Failed to get a response from Ollama: " + err.Error()
	}
}
