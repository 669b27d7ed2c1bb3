// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for neochat.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ChatConfig: Conversation caps and streaming thresholds
//   - ArchiveConfig: Overflow archive backend selection
//   - ServerConfig: HTTP server, session token and rate limit settings
//   - Watcher: fsnotify-based hot reload of config and .env files
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Process environment (NEOCHAT_*, OLLAMA_HOST, AUTH_USERS)
//   - ./.env, then ~/.neochat/.env
//   - ~/.neochat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	limits := cfg.Limits()
package config
