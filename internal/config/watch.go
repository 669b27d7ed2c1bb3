// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces bursts of writes from editors.
const DefaultWatchDebounce = 250 * time.Millisecond

// =============================================================================
// FILE WATCHER
// =============================================================================

// Watcher calls back when any of a set of files changes.
// It watches the parent directories so atomic renames by editors are seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	onChange func()
	cancel   context.CancelFunc

	mu      sync.Mutex
	pending time.Time // zero when nothing is pending
}

// Watch starts watching paths until ctx is done. onChange runs on the
// watcher goroutine once per debounced burst. Paths whose directory does not
// exist are skipped.
func Watch(ctx context.Context, paths []string, debounce time.Duration, onChange func()) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fsw,
		files:    make(map[string]bool),
		debounce: debounce,
		onChange: onChange,
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	watched := 0
	for dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			log.Printf("CONFIG_WATCH_SKIPPED | dir=%s error=%v", dir, err)
			continue
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		return nil, fmt.Errorf("no watchable directories among %d paths", len(paths))
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.processEvents(ctx)
	go w.processPending(ctx)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

// processEvents records changes to watched files.
func (w *Watcher) processEvents(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("CONFIG_WATCH_ERROR | error=%v", err)
		}
	}
}

// processPending fires onChange once a burst has been quiet for the debounce.
func (w *Watcher) processPending(ctx context.Context) {
	ticker := time.NewTicker(w.debounce / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			w.mu.Lock()
			fire := !w.pending.IsZero() && now.Sub(w.pending) >= w.debounce
			if fire {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if fire && w.onChange != nil {
				w.onChange()
			}
		}
	}
}
