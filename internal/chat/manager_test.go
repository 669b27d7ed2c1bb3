// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/ollama"
	"github.com/jeranaias/neochat/internal/store"
)

// fakeGenerator records requests and answers them through respond.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []ollama.GenerateRequest
	respond  func(ctx context.Context, n int, req ollama.GenerateRequest) (io.ReadCloser, error)
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, req ollama.GenerateRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	return f.respond(ctx, n, req)
}

func (f *fakeGenerator) Requests() []ollama.GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ollama.GenerateRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func body(ndjson string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(ndjson))
}

// blockingBody returns a body that stays open until ctx ends.
func blockingBody(ctx context.Context) (io.ReadCloser, *io.PipeWriter) {
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pr.CloseWithError(ctx.Err())
	}()
	return pr, pw
}

func isTitleRequest(req ollama.GenerateRequest) bool {
	return req.System == ""
}

func newTestManager(t *testing.T, gen Generator, limits model.Limits) (*Manager, *store.Store) {
	t.Helper()
	st := store.New(nil, store.Options{Limits: limits})
	mgr := NewManager(gen, st, Options{Limits: limits, Model: "llama3.2:latest", BackendURL: "http://localhost:11434"})
	t.Cleanup(func() {
		mgr.Shutdown()
		st.Close()
	})
	return mgr, st
}

func waitTurn(t *testing.T, turn *Turn) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := turn.WaitContext(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "turn did not finish")
	return err
}

// =============================================================================
// END-TO-END TESTS
// =============================================================================

func TestSend_FirstTurnStreamsReplyAndTitle(t *testing.T) {
	gen := &fakeGenerator{respond: func(_ context.Context, _ int, req ollama.GenerateRequest) (io.ReadCloser, error) {
		if isTitleRequest(req) {
			return body(`{"response":"Greeting Reply"}` + "\n" + `{"done":true}` + "\n"), nil
		}
		return body(`{"response":"Hi"}` + "\n" + `{"response":" there"}` + "\n" + `{"done":true}` + "\n"), nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{})
	id := st.CreateConversation()

	turn, err := mgr.Send(context.Background(), id, "hello")
	require.NoError(t, err)
	require.NoError(t, waitTurn(t, turn))

	conv, err := st.Get(id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "hello", conv.Messages[0].Content)
	assert.Equal(t, model.SenderUser, conv.Messages[0].Sender)
	assert.Equal(t, "Hi there", conv.Messages[1].Content)
	assert.Equal(t, model.SenderAssistant, conv.Messages[1].Sender)
	assert.Equal(t, "Greeting Reply", conv.Title)
	assert.Equal(t, "Hi there", turn.Content())
	assert.False(t, mgr.Active(id))

	reqs := gen.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "user: hello\nassistant:", reqs[0].Prompt)
	assert.Equal(t, DefaultSystemPrompt, reqs[0].System)
	assert.True(t, reqs[0].Stream)
	assert.Equal(t, "llama3.2:latest", reqs[0].Model)
	assert.Contains(t, reqs[1].Prompt, "hello")
}

func TestSend_SecondTurnCarriesContextWithoutTitle(t *testing.T) {
	gen := &fakeGenerator{respond: func(_ context.Context, n int, req ollama.GenerateRequest) (io.ReadCloser, error) {
		if isTitleRequest(req) {
			return body(`{"response":"Small Talk"}` + "\n"), nil
		}
		if n == 1 {
			return body(`{"response":"<think>greeting</think>Hi"}` + "\n"), nil
		}
		return body(`{"response":"Fine"}` + "\n"), nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{})
	id := st.CreateConversation()

	turn, _ := mgr.Send(context.Background(), id, "hello")
	require.NoError(t, waitTurn(t, turn))
	turn, _ = mgr.Send(context.Background(), id, "how are you")
	require.NoError(t, waitTurn(t, turn))

	reqs := gen.Requests()
	require.Len(t, reqs, 3, "title request runs only on the first turn")
	assert.Equal(t, "user: hello\nassistant: Hi\nuser: how are you\nassistant:", reqs[2].Prompt)

	conv, _ := st.Get(id)
	assert.Equal(t, "Small Talk", conv.Title)
	assert.Len(t, conv.Messages, 4)
	assert.Equal(t, "<think>greeting</think>Hi", conv.Messages[1].Content)
}

func TestSend_TitleFailureFallsBackToDefault(t *testing.T) {
	gen := &fakeGenerator{respond: func(_ context.Context, _ int, req ollama.GenerateRequest) (io.ReadCloser, error) {
		if isTitleRequest(req) {
			return nil, ollama.ErrNotRunning
		}
		return body(`{"response":"Hi"}` + "\n"), nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{})
	id := st.CreateConversation()
	require.NoError(t, st.SetTitle(id, "Placeholder"))

	turn, _ := mgr.Send(context.Background(), id, "hello")
	require.NoError(t, waitTurn(t, turn), "title failure must not fail the turn")

	conv, _ := st.Get(id)
	assert.Equal(t, model.DefaultTitle, conv.Title)
	assert.Equal(t, "Hi", conv.Messages[1].Content)
}

// =============================================================================
// SUPERSEDE AND CANCEL TESTS
// =============================================================================

func TestSend_SupersedeDropsStaleUpdates(t *testing.T) {
	var firstWriter *io.PipeWriter
	ready := make(chan struct{})

	gen := &fakeGenerator{respond: func(ctx context.Context, n int, req ollama.GenerateRequest) (io.ReadCloser, error) {
		if n == 1 {
			rc, pw := blockingBody(ctx)
			firstWriter = pw
			close(ready)
			return rc, nil
		}
		return body(`{"response":"second reply"}` + "\n" + `{"done":true}` + "\n"), nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{UpdateThreshold: 10 * time.Millisecond})
	id := st.CreateConversation()

	first, err := mgr.Send(context.Background(), id, "one")
	require.NoError(t, err)
	<-ready

	_, err = firstWriter.Write([]byte(`{"response":"partial"}` + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		conv, _ := st.Get(id)
		return conv.LastMessage().Content == "partial"+model.Cursor
	}, 2*time.Second, 5*time.Millisecond)

	var started atomic.Bool
	var stale atomic.Int32
	st.Subscribe(func(ev store.Event) {
		if started.Load() && ev.MessageID == first.AssistantMessageID {
			stale.Add(1)
		}
	})

	second, err := mgr.Send(context.Background(), id, "two")
	require.NoError(t, err)
	started.Store(true)

	// The superseded stream keeps talking; nothing may reach the store.
	firstWriter.Write([]byte(`{"response":" more"}` + "\n"))

	assert.ErrorIs(t, waitTurn(t, first), ErrCanceled)
	require.NoError(t, waitTurn(t, second))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), stale.Load(), "superseded request updated the store")

	conv, _ := st.Get(id)
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "partial", conv.Messages[1].Content, "superseded reply keeps its text without the cursor")
	assert.Equal(t, "second reply", conv.Messages[3].Content)
	assert.Len(t, gen.Requests(), 2, "no title for a superseded first turn")
}

func TestSend_ConcurrentSendsStayOrdered(t *testing.T) {
	gen := &fakeGenerator{respond: func(_ context.Context, _ int, req ollama.GenerateRequest) (io.ReadCloser, error) {
		if isTitleRequest(req) {
			return body(`{"response":"Two Questions"}` + "\n"), nil
		}
		return body(`{"response":"reply"}` + "\n" + `{"done":true}` + "\n"), nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{UpdateThreshold: 10 * time.Millisecond})
	id := st.CreateConversation()

	// Hold the first send between its user message and its placeholder.
	var slow sync.Once
	st.Subscribe(func(ev store.Event) {
		if ev.Type == store.EventMessage && ev.Content == "A" {
			slow.Do(func() { time.Sleep(100 * time.Millisecond) })
		}
	})

	firstCh := make(chan *Turn, 1)
	go func() {
		turn, err := mgr.Send(context.Background(), id, "A")
		assert.NoError(t, err)
		firstCh <- turn
	}()
	time.Sleep(20 * time.Millisecond)

	second, err := mgr.Send(context.Background(), id, "B")
	require.NoError(t, err)
	first := <-firstCh
	require.NotNil(t, first)

	waitTurn(t, first)
	require.NoError(t, waitTurn(t, second))

	conv, err := st.Get(id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "A", conv.Messages[0].Content)
	assert.Equal(t, model.SenderAssistant, conv.Messages[1].Sender)
	assert.Equal(t, "B", conv.Messages[2].Content)
	assert.Equal(t, "reply", conv.Messages[3].Content)
	for i, msg := range conv.Messages {
		if msg.IsPlaceholder() {
			t.Errorf("message %d still streaming: %q", i, msg.Content)
		}
	}
	assert.Equal(t, second.AssistantMessageID, conv.Messages[3].ID)
	assert.Equal(t, first.AssistantMessageID, conv.Messages[1].ID)

	var secondPrompt string
	for _, req := range gen.Requests() {
		if !isTitleRequest(req) && strings.Contains(req.Prompt, "user: B\n") {
			secondPrompt = req.Prompt
		}
	}
	assert.True(t, strings.HasPrefix(secondPrompt, "user: A\n"), "second prompt = %q, want the first exchange first", secondPrompt)
}

func TestCancel_BeforePlaceholderFinalizes(t *testing.T) {
	gen := &fakeGenerator{respond: func(ctx context.Context, _ int, _ ollama.GenerateRequest) (io.ReadCloser, error) {
		rc, _ := blockingBody(ctx)
		return rc, nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{})
	id := st.CreateConversation()

	var cancelled atomic.Bool
	st.Subscribe(func(ev store.Event) {
		if ev.Type == store.EventMessage && ev.Sender == model.SenderUser {
			cancelled.Store(mgr.Cancel(id))
		}
	})

	turn, err := mgr.Send(context.Background(), id, "hello")
	require.NoError(t, err)
	assert.True(t, cancelled.Load(), "request should be cancellable once claimed")
	assert.ErrorIs(t, waitTurn(t, turn), ErrCanceled)

	conv, _ := st.Get(id)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, CancelledMessage, conv.Messages[1].Content)
	assert.False(t, conv.Messages[1].IsPlaceholder())
	assert.False(t, mgr.Active(id))
	assert.Empty(t, gen.Requests(), "a cancelled turn never reaches the backend")
}

func TestSend_ReplyEndingInCursorGlyphIsFinished(t *testing.T) {
	gen := &fakeGenerator{respond: func(_ context.Context, n int, req ollama.GenerateRequest) (io.ReadCloser, error) {
		if isTitleRequest(req) {
			return body(`{"response":"Bars"}` + "\n"), nil
		}
		if n == 1 {
			return body(`{"response":"Loading ▋"}` + "\n"), nil
		}
		return body(`{"response":"ok"}` + "\n"), nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{})
	id := st.CreateConversation()

	turn, _ := mgr.Send(context.Background(), id, "draw a bar")
	require.NoError(t, waitTurn(t, turn))

	conv, _ := st.Get(id)
	assert.Equal(t, "Loading ▋", conv.Messages[1].Content)
	assert.False(t, conv.Messages[1].IsPlaceholder())

	turn, _ = mgr.Send(context.Background(), id, "again")
	require.NoError(t, waitTurn(t, turn))

	reqs := gen.Requests()
	last := reqs[len(reqs)-1]
	assert.Contains(t, last.Prompt, "assistant: Loading ▋\n", "finished reply is part of the context")

	conv, _ = st.Get(id)
	assert.Equal(t, "Loading ▋", conv.Messages[1].Content, "superseding nothing leaves it untouched")
}

func TestCancel(t *testing.T) {
	gen := &fakeGenerator{respond: func(ctx context.Context, _ int, _ ollama.GenerateRequest) (io.ReadCloser, error) {
		rc, _ := blockingBody(ctx)
		return rc, nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{})
	id := st.CreateConversation()

	turn, err := mgr.Send(context.Background(), id, "hello")
	require.NoError(t, err)
	assert.True(t, mgr.Active(id))

	assert.True(t, mgr.Cancel(id))
	assert.ErrorIs(t, waitTurn(t, turn), ErrCanceled)
	assert.False(t, mgr.Active(id))
	assert.False(t, mgr.Cancel(id), "nothing left to cancel")

	conv, _ := st.Get(id)
	assert.Equal(t, CancelledMessage, conv.LastMessage().Content)
}

func TestShutdown(t *testing.T) {
	gen := &fakeGenerator{respond: func(ctx context.Context, _ int, _ ollama.GenerateRequest) (io.ReadCloser, error) {
		rc, _ := blockingBody(ctx)
		return rc, nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{})
	id := st.CreateConversation()

	turn, _ := mgr.Send(context.Background(), id, "hello")
	mgr.Shutdown()

	assert.ErrorIs(t, waitTurn(t, turn), ErrCanceled)
	_, err := mgr.Send(context.Background(), id, "again")
	assert.ErrorIs(t, err, ErrShutdown)
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestSend_Timeout(t *testing.T) {
	gen := &fakeGenerator{respond: func(ctx context.Context, _ int, _ ollama.GenerateRequest) (io.ReadCloser, error) {
		rc, _ := blockingBody(ctx)
		return rc, nil
	}}
	limits := model.Limits{RequestTimeout: 50 * time.Millisecond}
	mgr, st := newTestManager(t, gen, limits)
	id := st.CreateConversation()

	turn, _ := mgr.Send(context.Background(), id, "hello")
	err := waitTurn(t, turn)
	assert.True(t, ollama.IsTimeout(err), "error = %v, want timeout", err)

	conv, _ := st.Get(id)
	assert.Equal(t, TimeoutMessage(50*time.Millisecond), conv.LastMessage().Content)
	assert.Equal(t, model.DefaultTitle, conv.Title)
	assert.Len(t, gen.Requests(), 1, "no title after a failed turn")
}

func TestSend_Failures(t *testing.T) {
	tests := []struct {
		name       string
		respond    func() (io.ReadCloser, error)
		wantPrefix string
	}{
		{
			name:       "backend unreachable",
			respond:    func() (io.ReadCloser, error) { return nil, ollama.ErrNotRunning },
			wantPrefix: "An error occurred while connecting to Ollama",
		},
		{
			name: "model missing",
			respond: func() (io.ReadCloser, error) {
				return nil, &ollama.ClientError{Type: ollama.ErrTypeModelNotFound, Message: "model not found", StatusCode: 404}
			},
			wantPrefix: `Model "llama3.2:latest" is not installed`,
		},
		{
			name:       "error record",
			respond:    func() (io.ReadCloser, error) { return body(`{"error":"out of memory"}` + "\n"), nil },
			wantPrefix: "The model reported an error: out of memory",
		},
		{
			name:       "http failure",
			respond:    func() (io.ReadCloser, error) { return nil, errors.New("500 Internal Server Error") },
			wantPrefix: "Failed to get a response from Ollama",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{respond: func(context.Context, int, ollama.GenerateRequest) (io.ReadCloser, error) {
				return tc.respond()
			}}
			mgr, st := newTestManager(t, gen, model.Limits{})
			id := st.CreateConversation()

			turn, err := mgr.Send(context.Background(), id, "hello")
			require.NoError(t, err)
			assert.Error(t, waitTurn(t, turn))

			conv, _ := st.Get(id)
			last := conv.LastMessage()
			if !strings.HasPrefix(last.Content, tc.wantPrefix) {
				t.Errorf("content = %q, want prefix %q", last.Content, tc.wantPrefix)
			}
			assert.False(t, mgr.Active(id))
		})
	}
}

func TestSend_EmptyStream(t *testing.T) {
	gen := &fakeGenerator{respond: func(_ context.Context, _ int, req ollama.GenerateRequest) (io.ReadCloser, error) {
		return body(`{"done":true}` + "\n"), nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{})
	id := st.CreateConversation()

	turn, _ := mgr.Send(context.Background(), id, "hello")
	require.NoError(t, waitTurn(t, turn))

	conv, _ := st.Get(id)
	assert.Equal(t, EmptyResponseMessage, conv.Messages[1].Content)
}

func TestSend_Validation(t *testing.T) {
	gen := &fakeGenerator{respond: func(context.Context, int, ollama.GenerateRequest) (io.ReadCloser, error) {
		return body(""), nil
	}}
	mgr, st := newTestManager(t, gen, model.Limits{})
	id := st.CreateConversation()

	_, err := mgr.Send(context.Background(), id, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = mgr.Send(context.Background(), "conv_missing", "hi")
	assert.ErrorIs(t, err, store.ErrConversationNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mgr.Send(ctx, id, "hi")
	assert.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, gen.Requests())
}
