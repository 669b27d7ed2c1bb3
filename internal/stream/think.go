// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "strings"

// Think block markers as emitted by reasoning models.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

// =============================================================================
// THINK TRACKER
// =============================================================================

// thinkTracker carries inside-think state across fragments.
//
// Each transition emits its marker exactly once: an opening marker while
// already inside a block, or a closing marker outside one, is dropped.
// A fragment tail that could be the start of a marker (e.g. "<thi") is held
// back until the next fragment resolves it.
type thinkTracker struct {
	inside  bool
	pending string
}

// feed consumes one fragment and returns the pieces to emit, in order.
func (t *thinkTracker) feed(text string) []string {
	s := t.pending + text
	t.pending = ""

	var out []string
	for s != "" {
		idx, marker := nextMarker(s)
		if idx < 0 {
			keep := partialMarkerSuffix(s)
			if emit := s[:len(s)-keep]; emit != "" {
				out = append(out, emit)
			}
			t.pending = s[len(s)-keep:]
			break
		}

		if idx > 0 {
			out = append(out, s[:idx])
		}
		switch {
		case marker == ThinkOpen && !t.inside:
			t.inside = true
			out = append(out, ThinkOpen)
		case marker == ThinkClose && t.inside:
			t.inside = false
			out = append(out, ThinkClose)
		}
		s = s[idx+len(marker):]
	}
	return out
}

// flush releases any held-back partial marker as plain text.
func (t *thinkTracker) flush() string {
	s := t.pending
	t.pending = ""
	return s
}

// nextMarker returns the index and text of the earliest marker in s, or -1.
func nextMarker(s string) (int, string) {
	open := strings.Index(s, ThinkOpen)
	closeIdx := strings.Index(s, ThinkClose)
	switch {
	case open < 0 && closeIdx < 0:
		return -1, ""
	case closeIdx < 0 || (open >= 0 && open < closeIdx):
		return open, ThinkOpen
	default:
		return closeIdx, ThinkClose
	}
}

// partialMarkerSuffix returns the length of the longest suffix of s that is a
// proper prefix of either marker.
func partialMarkerSuffix(s string) int {
	longest := 0
	for _, marker := range []string{ThinkOpen, ThinkClose} {
		for n := len(marker) - 1; n > longest; n-- {
			if strings.HasSuffix(s, marker[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}

// StripThink removes complete think blocks, and any stray markers, from s.
func StripThink(s string) string {
	for {
		start := strings.Index(s, ThinkOpen)
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], ThinkClose)
		if end < 0 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len(ThinkClose):]
	}
	return strings.ReplaceAll(s, ThinkClose, "")
}

// SplitThink separates content into its reasoning part and its answer part.
// Used by renderers that style the think block distinctly.
func SplitThink(s string) (thinking, answer string) {
	start := strings.Index(s, ThinkOpen)
	if start < 0 {
		return "", s
	}
	rest := s[start+len(ThinkOpen):]
	end := strings.Index(rest, ThinkClose)
	if end < 0 {
		return rest, s[:start]
	}
	return rest[:end], s[:start] + rest[end+len(ThinkClose):]
}
