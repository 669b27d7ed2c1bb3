// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/neochat/internal/model"
)

// DefaultThreshold is the minimum interval between streamed commits.
const DefaultThreshold = 100 * time.Millisecond

// =============================================================================
// SCHEDULER
// =============================================================================

// CommitFunc receives the full visible content on every flush.
type CommitFunc func(content string)

// Scheduler decides when accumulated fragments become visible.
//
// A fragment arriving more than the threshold after the last flush is
// committed immediately as buffer + cursor. Otherwise a trailing timer is
// (re)armed so the last burst still lands once the stream goes quiet.
// Complete commits the final content without the cursor and wins over any
// timer that fires concurrently. After Complete or Cancel no further
// commits happen.
//
// Thread-safety: Push, Complete and Cancel may be called from the streaming
// goroutine while the trailing timer fires on its own goroutine. Commits
// are issued under the scheduler's lock, so they are serialized.
type Scheduler struct {
	mu        sync.Mutex
	commit    CommitFunc
	final     CommitFunc
	threshold time.Duration
	now       func() time.Time

	queue     []string
	buffer    strings.Builder
	lastFlush time.Time
	timer     *time.Timer
	flushes   int
	finished  bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithThreshold sets the flush interval. Non-positive values are ignored.
func WithThreshold(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// WithClock overrides the time source for throttling decisions.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFinal routes the commit issued by Complete to fn instead of the
// streaming commit function.
func WithFinal(fn CommitFunc) SchedulerOption {
	return func(s *Scheduler) {
		s.final = fn
	}
}

// NewScheduler creates a scheduler that commits through commit.
func NewScheduler(commit CommitFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		commit:    commit,
		threshold: DefaultThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastFlush = s.now()
	return s
}

// Push queues a fragment and flushes if the threshold has elapsed.
func (s *Scheduler) Push(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return
	}
	s.queue = append(s.queue, fragment)

	if s.now().Sub(s.lastFlush) > s.threshold {
		s.stopTimerLocked()
		s.flushLocked(true)
		return
	}
	s.armTimerLocked()
}

// Complete flushes everything still queued and commits the final content
// without the cursor. It returns the final content. Calling Complete after
// Cancel or a previous Complete returns the content without committing.
func (s *Scheduler) Complete() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return s.buffer.String()
	}
	s.stopTimerLocked()
	s.finished = true
	s.drainLocked()
	s.flushes++
	s.lastFlush = s.now()
	content := s.buffer.String()
	switch {
	case s.final != nil:
		s.final(content)
	case s.commit != nil:
		s.commit(content)
	}
	return content
}

// Cancel discards queued fragments and stops the trailing timer.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished = true
	s.stopTimerLocked()
	s.queue = nil
}

// Content returns the committed buffer, excluding queued fragments.
func (s *Scheduler) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}

// Pending returns the number of queued fragments.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flushes returns how many commits have been issued.
func (s *Scheduler) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Finished reports whether Complete or Cancel has run.
func (s *Scheduler) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// =============================================================================
// INTERNALS (caller must hold lock)
// =============================================================================

func (s *Scheduler) drainLocked() {
	for _, frag := range s.queue {
		s.buffer.WriteString(frag)
	}
	s.queue = s.queue[:0]
}

func (s *Scheduler) flushLocked(withCursor bool) {
	if len(s.queue) == 0 {
		return
	}
	s.drainLocked()
	s.lastFlush = s.now()
	s.flushes++

	content := s.buffer.String()
	if withCursor {
		content += model.Cursor
	}
	if s.commit != nil {
		s.commit(content)
	}
}

func (s *Scheduler) armTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.threshold, s.trailingFlush)
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// trailingFlush runs on the timer goroutine.
func (s *Scheduler) trailingFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Complete or Cancel may have won the race for the lock.
	if s.finished {
		return
	}
	s.timer = nil
	s.flushLocked(true)
}
