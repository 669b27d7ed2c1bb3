// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/neochat/internal/model"
)

// isolateEnv points HOME at a temp dir and blanks the variables Load reads.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"OLLAMA_HOST", "NEOCHAT_OLLAMA_URL", "NEOCHAT_MODEL", "NEOCHAT_REQUEST_TIMEOUT",
		"NEOCHAT_ARCHIVE_BACKEND", "NEOCHAT_ARCHIVE_PATH", "NEOCHAT_ARCHIVE_URL",
		"NEOCHAT_ADDR", "NEOCHAT_JWT_SECRET", "AUTH_USERS",
	} {
		t.Setenv(key, "")
	}
	return home
}

// =============================================================================
// GLOBAL SINGLETON TESTS
// =============================================================================

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// called concurrently without races.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolateEnv(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.Ollama.Model = "test-model"
			SetGlobal(c)
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

// TestConfig_ConcurrentMixedOperations mixes Global, SetGlobal and ReloadGlobal.
func TestConfig_ConcurrentMixedOperations(t *testing.T) {
	isolateEnv(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	var wg sync.WaitGroup
	for i := 0; i < 90; i++ {
		wg.Add(1)
		switch i % 3 {
		case 0:
			go func() {
				defer wg.Done()
				if Global() == nil {
					t.Error("Global() returned nil")
				}
			}()
		case 1:
			go func() {
				defer wg.Done()
				c := Default()
				c.Version = "concurrent-test"
				SetGlobal(c)
			}()
		case 2:
			go func() {
				defer wg.Done()
				_ = ReloadGlobal()
			}()
		}
	}
	wg.Wait()
}

func TestConfig_GlobalInitialization(t *testing.T) {
	isolateEnv(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	cfg := Global()
	require.NotNil(t, cfg)
	if cfg.Version == "" {
		t.Error("Config version should not be empty")
	}
	if cfg.Chat.MaxConversations != 10 {
		t.Errorf("Chat.MaxConversations = %d, want 10", cfg.Chat.MaxConversations)
	}
}

func TestConfig_SetGlobalBeforeFirstAccess(t *testing.T) {
	isolateEnv(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	custom := Default()
	custom.Ollama.Model = "custom-model"
	SetGlobal(custom)

	if got := Global().Ollama.Model; got != "custom-model" {
		t.Errorf("Global().Ollama.Model = %q, want 'custom-model'", got)
	}
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://127.0.0.1:11434", cfg.Ollama.URL)
	assert.Equal(t, "sqlite", cfg.Archive.Backend)
	assert.Equal(t, model.DefaultLimits(), cfg.Limits())
	assert.Equal(t, time.Second, cfg.TrimDelay())
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"ollama url without scheme", func(c *Config) { c.Ollama.URL = "localhost:11434" }, true},
		{"ollama url ftp", func(c *Config) { c.Ollama.URL = "ftp://host" }, true},
		{"https ollama url", func(c *Config) { c.Ollama.URL = "https://ollama.internal" }, false},
		{"temperature too high", func(c *Config) { c.Ollama.Temperature = 2.5 }, true},
		{"top_p negative", func(c *Config) { c.Ollama.TopP = -0.1 }, true},
		{"zero conversations", func(c *Config) { c.Chat.MaxConversations = 0 }, true},
		{"cleanup below visible", func(c *Config) { c.Chat.CleanupThreshold = 20 }, true},
		{"cleanup equals visible", func(c *Config) { c.Chat.CleanupThreshold = 50 }, false},
		{"timeout zero", func(c *Config) { c.Chat.RequestTimeoutSecs = 0 }, true},
		{"timeout above maximum", func(c *Config) { c.Chat.RequestTimeoutSecs = 601 }, true},
		{"update threshold zero", func(c *Config) { c.Chat.UpdateThresholdMs = 0 }, true},
		{"unknown backend", func(c *Config) { c.Archive.Backend = "mongo" }, true},
		{"backend case insensitive", func(c *Config) { c.Archive.Backend = "Memory" }, false},
		{"redis without url", func(c *Config) { c.Archive.Backend = "redis" }, true},
		{"redis with url", func(c *Config) {
			c.Archive.Backend = "redis"
			c.Archive.URL = "redis://localhost:6379/0"
		}, false},
		{"postgres without url", func(c *Config) { c.Archive.Backend = "postgres" }, true},
		{"empty server addr", func(c *Config) { c.Server.Addr = "" }, true},
		{"negative burst", func(c *Config) { c.Server.RateLimitBurst = -1 }, true},
		{"invalid theme", func(c *Config) { c.UI.Theme = "neon" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	c := Default()
	c.Ollama.Temperature = 9
	c.UI.Theme = "neon"

	err := c.Validate()
	var errs ValidateErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 2)
	assert.Contains(t, err.Error(), "ollama.temperature")
	assert.Contains(t, err.Error(), "ui.theme")
}

func TestConfig_SetDefaults(t *testing.T) {
	home := isolateEnv(t)

	c := &Config{Archive: ArchiveConfig{Backend: "FILE"}}
	c.SetDefaults()

	assert.Equal(t, "file", c.Archive.Backend)
	assert.Equal(t, filepath.Join(home, ".neochat", "archive"), c.Archive.Path)
	assert.Equal(t, filepath.Join(home, ".neochat", "neochat.log"), c.UI.LogFile)
	assert.Equal(t, 50, c.Chat.MaxVisibleMessages)
	assert.NoError(t, c.Validate())
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"OLLAMA_HOST":             "gpu-box",
		"NEOCHAT_MODEL":           "llama3.2:3b",
		"NEOCHAT_REQUEST_TIMEOUT": "90",
		"NEOCHAT_ARCHIVE_BACKEND": "redis",
		"NEOCHAT_ARCHIVE_URL":     "redis://cache:6379/1",
		"NEOCHAT_ADDR":            ":9000",
		"NEOCHAT_JWT_SECRET":      "s3cret",
		"AUTH_USERS":              "alice:pw",
	}
	c := Default()
	c.ApplyEnvOverrides(func(key string) string { return env[key] })

	assert.Equal(t, "http://gpu-box:11434", c.Ollama.URL)
	assert.Equal(t, "llama3.2:3b", c.Ollama.Model)
	assert.Equal(t, 90, c.Chat.RequestTimeoutSecs)
	assert.Equal(t, "redis", c.Archive.Backend)
	assert.Equal(t, "redis://cache:6379/1", c.Archive.URL)
	assert.Equal(t, ":9000", c.Server.Addr)
	assert.Equal(t, "s3cret", c.Server.JWTSecret)
	assert.Equal(t, "alice:pw", c.Auth.Users)
}

func TestConfig_ApplyEnvOverrides_ExplicitURLWins(t *testing.T) {
	env := map[string]string{
		"OLLAMA_HOST":             "gpu-box",
		"NEOCHAT_OLLAMA_URL":      "https://ollama.example.com",
		"NEOCHAT_REQUEST_TIMEOUT": "not-a-number",
	}
	c := Default()
	c.ApplyEnvOverrides(func(key string) string { return env[key] })

	assert.Equal(t, "https://ollama.example.com", c.Ollama.URL)
	assert.Equal(t, 30, c.Chat.RequestTimeoutSecs, "unparseable timeout should be ignored")
}

func TestNormalizeOllamaHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"localhost", "http://localhost:11434"},
		{" 10.0.0.5 ", "http://10.0.0.5:11434"},
		{"0.0.0.0:8080", "http://0.0.0.0:8080"},
		{"https://ollama.example.com/", "https://ollama.example.com"},
		{"http://127.0.0.1:11434", "http://127.0.0.1:11434"},
	}

	for _, tt := range tests {
		if got := normalizeOllamaHost(tt.in); got != tt.want {
			t.Errorf("normalizeOllamaHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvLookup(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local.env")
	shared := filepath.Join(dir, "shared.env")
	require.NoError(t, os.WriteFile(local, []byte("NEOCHAT_TEST_A=local\n"), 0600))
	require.NoError(t, os.WriteFile(shared, []byte("NEOCHAT_TEST_A=shared\nNEOCHAT_TEST_B=shared\nNEOCHAT_TEST_C=file\n"), 0600))
	t.Setenv("NEOCHAT_TEST_C", "process")

	lookup := EnvLookup(local, shared, filepath.Join(dir, "missing.env"))

	assert.Equal(t, "local", lookup("NEOCHAT_TEST_A"), "earlier file should win")
	assert.Equal(t, "shared", lookup("NEOCHAT_TEST_B"))
	assert.Equal(t, "process", lookup("NEOCHAT_TEST_C"), "process environment should win")
	assert.Equal(t, "", lookup("NEOCHAT_TEST_UNSET"))
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

func TestConfig_SaveAndLoad(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(home, ".neochat", "config.toml")

	cfg := Default()
	cfg.Chat.MaxConversations = 5
	cfg.Archive.Backend = "memory"
	cfg.Ollama.Stop = []string{"</s>"}
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file perm = %o, want 600", perm)
	}

	t.Setenv("NEOCHAT_MODEL", "from-env")
	loaded, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 5, loaded.Chat.MaxConversations)
	assert.Equal(t, "memory", loaded.Archive.Backend)
	assert.Equal(t, []string{"</s>"}, loaded.Ollama.Stop)
	assert.Equal(t, "from-env", loaded.Ollama.Model)
}

func TestConfig_LoadMissingFileUsesDefaults(t *testing.T) {
	home := isolateEnv(t)

	cfg, err := LoadFromPath(filepath.Join(home, "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Chat.MaxConversations)
	assert.Equal(t, filepath.Join(home, ".neochat", "archive.db"), cfg.Archive.Path)
}

func TestConfig_LoadInvalidFile(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(home, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[chat]\nmax_conversations = -3\n"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat.max_conversations")
}

// =============================================================================
// GET / REDACTION
// =============================================================================

func TestConfig_Get(t *testing.T) {
	cfg := Default()
	cfg.Server.JWTSecret = "k"

	tests := []struct {
		key     string
		want    interface{}
		wantErr bool
	}{
		{"chat.max_conversations", 10, false},
		{"ollama.url", "http://127.0.0.1:11434", false},
		{"server.jwt_secret", "k", false},
		{"archive.backend", "sqlite", false},
		{"nope.key", nil, true},
		{"chat.max_conversations.deeper", nil, true},
		{"", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cfg.Get(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Get(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := Default()
	cfg.Server.JWTSecret = "s3cret"
	cfg.Auth.Users = "alice:pw"
	cfg.Archive.URL = "postgres://neo:hunter2@db:5432/chat"

	r := cfg.Redacted()
	assert.Equal(t, "********", r.Server.JWTSecret)
	assert.Equal(t, "********", r.Auth.Users)
	assert.Equal(t, "postgres://neo@db:5432/chat", r.Archive.URL)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret, "original must be untouched")

	out := cfg.String()
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "hunter2")
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatch_FiresOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = \"1\"\n"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	w, err := Watch(ctx, []string{path}, 40*time.Millisecond, func() { fired.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0600))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "unrelated files should be ignored")

	require.NoError(t, os.WriteFile(path, []byte("version = \"2\"\n"), 0600))
	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_NoWatchableDirectory(t *testing.T) {
	_, err := Watch(context.Background(), []string{"/definitely/not/here/config.toml"}, 0, func() {})
	assert.Error(t, err)
}
