// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/neochat/internal/chat"
	"github.com/jeranaias/neochat/internal/stream"
)

// HandleAsk sends one question in a fresh conversation and prints the reply.
// The reply streams to the terminal unless --markdown or --json asks for the
// finished text. Cancelling ctx cancels the request.
func HandleAsk(ctx context.Context, app *App, args Args) error {
	id := app.Store.CreateConversation()
	start := time.Now()

	var printer *replyPrinter
	if !args.Markdown && !args.JSON {
		printer = newReplyPrinter(app.Out, id, args.HideThinking)
		defer app.Store.Subscribe(printer.handle)()
	}

	turn, err := app.Manager.Send(ctx, id, args.Query)
	if err != nil {
		return wrap("ask", "send", err)
	}

	err = awaitTurn(ctx, app.Manager, turn)

	conv, gerr := app.Store.Get(id)
	if gerr != nil {
		return wrap("ask", "read reply", gerr)
	}
	final := lastAssistant(conv)
	thinking, answer := stream.SplitThink(final)

	switch {
	case printer != nil:
		printer.finish(final)
	case args.JSON:
		if err != nil && !errors.Is(err, chat.ErrCanceled) {
			return err
		}
		return NewJSONResponse("ask", AskData{
			ConversationID: id,
			Model:          app.Config.Ollama.Model,
			Response:       strings.TrimSpace(answer),
			Thinking:       strings.TrimSpace(thinking),
			DurationMs:     time.Since(start).Milliseconds(),
		}).Write(app.Out)
	default:
		text := final
		if args.HideThinking {
			text = answer
		}
		fmt.Fprintln(app.Out, renderMarkdown(strings.TrimSpace(text), args.Theme, TerminalWidth()))
	}

	if errors.Is(err, chat.ErrCanceled) {
		return nil
	}
	return err
}

// awaitTurn waits for turn, cancelling it when ctx ends first.
func awaitTurn(ctx context.Context, mgr *chat.Manager, turn *chat.Turn) error {
	err := turn.WaitContext(ctx)
	if ctx.Err() != nil && !isDone(turn) {
		mgr.Cancel(turn.ConversationID)
		return turn.Wait()
	}
	return err
}

func isDone(turn *chat.Turn) bool {
	select {
	case <-turn.Done():
		return true
	default:
		return false
	}
}
