// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/neochat/internal/config"
	"github.com/jeranaias/neochat/internal/export"
	"github.com/jeranaias/neochat/internal/model"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader wraps liner with a persisted input history.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}

	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *lineReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history owner-only and restores the terminal.
func (r *lineReader) Close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession is the state of one line-mode chat.
type chatSession struct {
	app          *App
	out          io.Writer
	current      string
	hideThinking bool
	exportDir    string
}

func newChatSession(app *App, args Args) *chatSession {
	return &chatSession{
		app:          app,
		out:          app.Out,
		current:      app.Store.CreateConversation(),
		hideThinking: args.HideThinking,
		exportDir:    ".",
	}
}

// HandleChat runs the interactive chat loop.
//
// Interactive commands:
//
//	/help            show commands
//	/new             start a conversation
//	/list            list conversations
//	/switch N        switch to conversation N from /list
//	/history [N]     print the last N live messages (default 10)
//	/archived        print archived messages of this conversation
//	/export [FORMAT] write this conversation to a file (markdown, json, html)
//	/think           toggle reasoning display
//	/clear           delete this conversation and start a new one
//	/quit            exit
//
// Ctrl+C while a reply streams cancels it; Ctrl+D exits.
func HandleChat(ctx context.Context, app *App, args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	session := newChatSession(app, args)
	reader := newLineReader()
	defer reader.Close()

	session.printWelcome()

	prompt := "you › "
	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := reader.Prompt(prompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(session.out, DimStyle.Render("(use /quit or Ctrl+D to exit)"))
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(session.out)
			return nil
		case err != nil:
			return wrap("chat", "read input", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := session.command(input)
			if err != nil {
				DisplayError(session.out, "chat", err, false)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := session.send(ctx, input); err != nil {
			DisplayError(session.out, "chat", err, false)
		}
	}
}

// send streams one reply. SIGINT during the reply cancels the request
// instead of exiting.
func (s *chatSession) send(ctx context.Context, text string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	printer := newReplyPrinter(s.out, s.current, s.hideThinking)
	defer s.app.Store.Subscribe(printer.handle)()

	turn, err := s.app.Manager.Send(turnCtx, s.current, text)
	if err != nil {
		return err
	}
	err = awaitTurn(turnCtx, s.app.Manager, turn)

	if conv, gerr := s.app.Store.Get(s.current); gerr == nil {
		printer.finish(lastAssistant(conv))
	}
	if err != nil && !isCanceled(err) {
		return err
	}
	return nil
}

// command runs a slash command and reports whether to exit.
func (s *chatSession) command(input string) (bool, error) {
	fields := strings.Fields(input)
	name, rest := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/h", "/?":
		s.printHelp()

	case "/new", "/n":
		s.current = s.app.Store.CreateConversation()
		fmt.Fprintln(s.out, SuccessStyle.Render("Started a new conversation."))

	case "/list", "/ls":
		s.printList()

	case "/switch", "/sw":
		if len(rest) == 0 {
			return false, &UsageError{Message: "which conversation?", Usage: "/switch N"}
		}
		n, err := strconv.Atoi(rest[0])
		metas := s.app.Store.List()
		if err != nil || n < 1 || n > len(metas) {
			return false, &UsageError{Message: fmt.Sprintf("no conversation %q", rest[0]), Usage: "/switch N (see /list)"}
		}
		s.current = metas[n-1].ID
		fmt.Fprintf(s.out, "Switched to %s\n", metas[n-1].Title)

	case "/history":
		count := 10
		if len(rest) > 0 {
			n, err := strconv.Atoi(rest[0])
			if err != nil || n < 1 {
				return false, &UsageError{Message: fmt.Sprintf("invalid count %q", rest[0]), Usage: "/history [N]"}
			}
			count = n
		}
		return false, s.printHistory(count)

	case "/archived":
		msgs, err := s.app.Store.History(s.current, 0, 0)
		if err != nil {
			return false, err
		}
		if len(msgs) == 0 {
			fmt.Fprintln(s.out, DimStyle.Render("Nothing archived yet."))
		}
		for _, m := range msgs {
			printMessage(s.out, m, s.hideThinking)
		}

	case "/export":
		format := ""
		if len(rest) > 0 {
			format = rest[0]
		}
		return false, s.export(format)

	case "/think":
		s.hideThinking = !s.hideThinking
		state := "shown"
		if s.hideThinking {
			state = "hidden"
		}
		fmt.Fprintf(s.out, "Reasoning is now %s.\n", state)

	case "/clear":
		s.app.Manager.Cancel(s.current)
		if err := s.app.Store.DeleteConversation(s.current); err != nil {
			return false, err
		}
		s.current = s.app.Store.CreateConversation()
		fmt.Fprintln(s.out, SuccessStyle.Render("Conversation cleared."))

	default:
		return false, &UsageError{Message: fmt.Sprintf("unknown command %s", name), Usage: "/help"}
	}
	return false, nil
}

func (s *chatSession) printWelcome() {
	fmt.Fprintln(s.out, TitleStyle.Render("neochat"))
	fmt.Fprintf(s.out, "Model %s at %s\n", s.app.Config.Ollama.Model, s.app.Config.Ollama.URL)
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+C cancels a reply, Ctrl+D exits."))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printHelp() {
	fmt.Fprint(s.out, `Commands:
  /new           start a new conversation
  /list          list conversations
  /switch N      switch to conversation N
  /history [N]   show the last N messages
  /archived      show archived messages
  /export [FMT]  save this conversation (markdown, json, html)
  /think         toggle reasoning display
  /clear         delete this conversation and start over
  /quit          exit
`)
}

// export writes the current conversation, archive included, to exportDir.
func (s *chatSession) export(format string) error {
	opts := export.DefaultOptions()
	opts.OutputDir = s.exportDir
	opts.HideThinking = s.hideThinking

	exp, err := export.ForFormat(format, opts)
	if err != nil {
		return &UsageError{Message: err.Error(), Usage: "/export [markdown|json|html]"}
	}
	t, err := export.FromStore(s.app.Store, s.current, s.app.Config.Ollama.Model)
	if err != nil {
		return err
	}
	if len(t.Messages) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("Nothing to export yet."))
		return nil
	}

	path, err := export.ExportToFile(t, exp, opts)
	if err != nil {
		return wrap("chat", "export", err)
	}
	fmt.Fprintln(s.out, SuccessStyle.Render("Exported to "+path))
	return nil
}

func (s *chatSession) printList() {
	for i, meta := range s.app.Store.List() {
		marker := "  "
		if meta.ID == s.current {
			marker = "* "
		}
		line := fmt.Sprintf("%s%d. %s (%d messages)", marker, i+1, meta.Title, meta.MessageCount)
		if meta.ID == s.current {
			line = SuccessStyle.Render(line)
		}
		fmt.Fprintln(s.out, line)
	}
}

func (s *chatSession) printHistory(count int) error {
	conv, err := s.app.Store.Get(s.current)
	if err != nil {
		return err
	}
	msgs := conv.Messages
	if len(msgs) > count {
		msgs = msgs[len(msgs)-count:]
	}
	if len(msgs) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("No messages yet."))
	}
	for _, m := range msgs {
		printMessage(s.out, m, s.hideThinking)
	}
	return nil
}

// printMessage writes one message as "[15:04] Name: content".
func printMessage(w io.Writer, m model.Message, hideThinking bool) {
	content := m.Text()
	if hideThinking && m.Sender == model.SenderAssistant {
		content = strings.TrimSpace(stripThink(content))
	}
	label := PromptStyle.Render(m.Sender.DisplayName() + ":")
	if m.Sender == model.SenderAssistant {
		label = AssistantStyle.Render(m.Sender.DisplayName() + ":")
	}
	fmt.Fprintf(w, "%s %s %s\n", DimStyle.Render(m.CreatedAt.Format("[15:04]")), label, content)
}
