// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs user turns against the generate backend.
//
// A Manager owns the request lifecycle of every conversation: it builds the
// prompt from the live message window, streams the reply through a
// stream.Decoder and stream.Scheduler into the store, enforces the request
// timeout, and names new conversations with a follow-up title request.
//
// Each conversation has at most one request in flight. Sending again
// supersedes the previous request; commits carry a generation number and are
// dropped once their request is no longer current.
//
// # Usage
//
//	mgr := chat.NewManager(client, st, chat.Options{Model: "llama3.2:latest"})
//	defer mgr.Shutdown()
//
//	turn, err := mgr.Send(ctx, id, "hello")
//	if err != nil {
//		return err
//	}
//	err = turn.Wait()
package chat
