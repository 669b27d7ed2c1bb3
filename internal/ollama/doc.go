// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// Ollama is an external collaborator: this package only speaks its
// streaming generate endpoint and its model listing endpoint. Decoding the
// stream into text fragments lives in package stream.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - GenerateRequest: request body for /api/generate
//   - GenerateResponse: one newline-delimited record of the generate stream
//   - ModelInfo: an entry of /api/tags
//   - ClientError: typed error with sentinel values for common failures
//
// # Usage
//
//	client := ollama.NewClient()
//	models, err := client.ListModels(ctx)
//	model := ollama.SelectModel(models, "llama3.2:latest")
//
//	body, err := client.GenerateStream(ctx, ollama.GenerateRequest{
//	    Model:  model,
//	    Prompt: "Why is the sky blue?",
//	})
//	if ollama.IsNotRunning(err) {
//	    // surface a connection failure
//	}
package ollama
