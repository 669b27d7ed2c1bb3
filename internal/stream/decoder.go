// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/jeranaias/neochat/internal/ollama"
	"github.com/jeranaias/neochat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// StreamError is an error record reported by the backend mid-stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "backend stream error: " + e.Message
}

// IsStreamError reports whether err is a backend error record.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}

// =============================================================================
// STATS
// =============================================================================

// Stats summarizes a decoded stream.
type Stats struct {
	Model            string
	Fragments        int
	Malformed        int
	Done             bool
	DoneReason       string
	PromptTokens     int
	CompletionTokens int
	EvalDuration     time.Duration
	TotalDuration    time.Duration
	TokensPerSecond  float64
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder yields text fragments from a newline-delimited JSON generate stream.
//
// Records are read line by line, so a record split across transport chunks is
// reassembled before parsing. Blank lines are ignored and malformed lines are
// logged and skipped. Fragments come out in arrival order.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	reader *bufio.Reader
	think  thinkTracker
	queue  []string
	stats  Stats
	err    error
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReader(r)}
}

// Next returns the next fragment. It returns io.EOF once the stream is
// exhausted, a *StreamError if the backend reported one, or the transport's
// read error.
func (d *Decoder) Next() (string, error) {
	for len(d.queue) == 0 {
		if d.err != nil {
			return "", d.err
		}
		d.readRecord()
	}

	frag := d.queue[0]
	d.queue = d.queue[1:]
	return frag, nil
}

// Stats returns what has been observed so far.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// InsideThink reports whether the decoder is currently inside a think block.
func (d *Decoder) InsideThink() bool {
	return d.think.inside
}

// readRecord reads one line and queues any fragments it produces.
// Sets d.err when the stream ends.
func (d *Decoder) readRecord() {
	line, err := d.reader.ReadBytes('\n')
	if len(line) > 0 {
		d.handleLine(line)
	}
	if err != nil && d.err == nil {
		d.finish(err)
	}
}

func (d *Decoder) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var rec ollama.GenerateResponse
	if err := json.Unmarshal(line, &rec); err != nil {
		d.stats.Malformed++
		log.Printf("STREAM_PARSE_ERROR | line=%q error=%v", util.TruncateRunes(string(line), 120), err)
		return
	}

	if rec.Model != "" {
		d.stats.Model = rec.Model
	}
	if rec.Response != "" {
		d.stats.Fragments++
		d.queue = append(d.queue, d.think.feed(rec.Response)...)
	}
	if rec.Done {
		d.stats.Done = true
		d.stats.DoneReason = rec.DoneReason
		d.stats.PromptTokens = rec.PromptEvalCount
		d.stats.CompletionTokens = rec.EvalCount
		d.stats.EvalDuration = time.Duration(rec.EvalDuration)
		d.stats.TotalDuration = time.Duration(rec.TotalDuration)
		d.stats.TokensPerSecond = rec.TokensPerSecond()
	}
	if rec.Error != "" {
		log.Printf("STREAM_BACKEND_ERROR | error=%q", rec.Error)
		d.finish(&StreamError{Message: rec.Error})
	}
}

// finish releases held-back text and records the terminal error.
func (d *Decoder) finish(err error) {
	if rest := d.think.flush(); rest != "" {
		d.queue = append(d.queue, rest)
	}
	d.err = err
}

// =============================================================================
// HELPERS
// =============================================================================

// Collect drains r and returns the concatenated fragments.
// End of stream is not an error.
func Collect(r io.Reader) (string, error) {
	dec := NewDecoder(r)
	var sb strings.Builder
	for {
		frag, err := dec.Next()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(frag)
	}
}
