// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Backends lists every supported backend name.
var Backends = []string{BackendMemory, BackendFile, BackendSQLite, BackendRedis, BackendPostgres}

// Config selects and configures an archive backend.
type Config struct {
	// Backend is one of Backends (default: sqlite)
	Backend string

	// Path is the directory (file) or database file (sqlite)
	Path string

	// URL is the connection string for redis or postgres
	URL string

	// Namespace prefixes redis keys
	Namespace string
}

// OpenKV creates the backend described by cfg.
func OpenKV(ctx context.Context, cfg Config) (KV, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendMemory:
		return NewMemoryKV(), nil
	case BackendFile:
		return NewFileKV(cfg.Path)
	case BackendSQLite, "":
		return NewSQLiteKV(cfg.Path)
	case BackendRedis:
		return NewRedisKV(ctx, cfg.URL, cfg.Namespace)
	case BackendPostgres:
		return NewPostgresKV(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("archive: unknown backend %q", cfg.Backend)
	}
}

// Open creates an Archive over the backend described by cfg.
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	kv, err := OpenKV(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("ARCHIVE_OPEN | backend=%s", cfg.Backend)
	return New(kv), nil
}
