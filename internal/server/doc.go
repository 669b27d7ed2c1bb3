// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the neochat chat core over HTTP.
//
// # Endpoints
//
//   - GET    /health                              - Health check (public)
//   - POST   /api/login                           - Exchange credentials for a session token (public)
//   - GET    /api/models                          - Installed Ollama models
//   - POST   /api/chat                            - Raw prompt passthrough, streamed as NDJSON
//   - GET    /api/conversations                   - Conversation list, newest first
//   - POST   /api/conversations                   - Create a conversation
//   - GET    /api/conversations/{id}              - One conversation with its live messages
//   - DELETE /api/conversations/{id}              - Delete a conversation and its archive
//   - POST   /api/conversations/{id}/messages     - Start a turn (202, streams over /api/ws)
//   - POST   /api/conversations/{id}/cancel       - Cancel the turn in flight
//   - GET    /api/conversations/{id}/history      - Page through archived messages
//   - GET    /api/ws                              - Websocket feed of store events
//
// # Middleware
//
//   - Panic recovery
//   - Security headers
//   - Request logging
//   - Per-IP token bucket rate limiting
//   - JWT session tokens (bearer header, or ?token= for websockets)
//
// # Usage
//
//	srv := server.New(client, manager, st, users, tokens, server.Options{
//		Addr:  cfg.Server.Addr,
//		Model: cfg.Ollama.Model,
//	})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
