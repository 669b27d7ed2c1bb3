// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns an Ollama generate stream into visible assistant text.
//
// Two pieces cooperate:
//
//   - Decoder reads newline-delimited JSON records and yields text fragments
//     in arrival order, bracketing reasoning output between a single
//     <think> and a single </think> marker.
//   - Scheduler throttles how often accumulated fragments are committed,
//     appending a cursor while streaming and committing the final text
//     without it on completion.
//
// # Usage
//
//	dec := stream.NewDecoder(body)
//	sched := stream.NewScheduler(func(content string) {
//	    store.UpdateAssistantMessage(convID, msgID, content, true)
//	}, stream.WithFinal(func(content string) {
//	    store.UpdateAssistantMessage(convID, msgID, content, false)
//	}))
//	for {
//	    frag, err := dec.Next()
//	    if err != nil {
//	        break
//	    }
//	    sched.Push(frag)
//	}
//	final := sched.Complete()
package stream
