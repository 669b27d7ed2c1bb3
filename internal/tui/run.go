// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/neochat/internal/store"
)

// Run shows the chat screen until the user quits or ctx ends. Logs go to
// logFile while the screen is active; an empty logFile discards them.
func Run(ctx context.Context, c Chatter, st *store.Store, opts Options, logFile string) error {
	restore, err := redirectLog(logFile)
	if err != nil {
		return err
	}
	defer restore()

	applyTheme(opts.Theme)

	p := tea.NewProgram(
		New(c, st, opts),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	stop := forwardStoreChanges(st, p)
	defer stop()

	log.Printf("TUI_STARTED | conversations=%d", st.Len())
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}
	log.Printf("TUI_STOPPED | error=%v", err)
	return err
}

// forwardStoreChanges signals the program after every store change. The
// subscriber never blocks the mutating goroutine: pending signals coalesce
// into one, since each refresh reads the whole store.
func forwardStoreChanges(st *store.Store, p *tea.Program) (stop func()) {
	changed := make(chan struct{}, 1)
	done := make(chan struct{})

	unsubscribe := st.Subscribe(func(store.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	go func() {
		for {
			select {
			case <-changed:
				p.Send(storeChangedMsg{})
			case <-done:
				return
			}
		}
	}()

	return func() {
		unsubscribe()
		close(done)
	}
}

// redirectLog points the standard logger at path for the lifetime of the
// screen and returns a function restoring the previous writer.
func redirectLog(path string) (restore func(), err error) {
	prev := log.Writer()
	if path == "" {
		log.SetOutput(io.Discard)
		return func() { log.SetOutput(prev) }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := tea.LogToFile(path, "")
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return func() {
		log.SetOutput(prev)
		f.Close()
	}, nil
}
