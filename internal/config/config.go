// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/neochat/internal/archive"
	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/ollama"
	"github.com/jeranaias/neochat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete neochat configuration.
type Config struct {
	Version string `toml:"version"`

	// Ollama backend configuration
	Ollama OllamaConfig `toml:"ollama"`

	// Chat core limits
	Chat ChatConfig `toml:"chat"`

	// Archive backend configuration
	Archive ArchiveConfig `toml:"archive"`

	// HTTP server configuration
	Server ServerConfig `toml:"server"`

	// Authentication configuration
	Auth AuthConfig `toml:"auth"`

	// UI configuration
	UI UIConfig `toml:"ui"`
}

// OllamaConfig contains generate backend configuration.
type OllamaConfig struct {
	// URL is the Ollama server URL
	URL string `toml:"url"`
	// Model is the preferred model
	Model string `toml:"model"`
	// SystemPrompt replaces the built-in persona when set
	SystemPrompt string `toml:"system_prompt"`
	// Temperature is the sampling temperature (0.0-2.0)
	Temperature float64 `toml:"temperature"`
	// TopP is the nucleus sampling cutoff (0.0-1.0)
	TopP float64 `toml:"top_p"`
	// Stop sequences end generation early
	Stop []string `toml:"stop"`
}

// ChatConfig contains the population caps and timing thresholds.
type ChatConfig struct {
	// MaxConversations is the number of live conversations (default: 10)
	MaxConversations int `toml:"max_conversations"`
	// MaxVisibleMessages is the live window per conversation (default: 50)
	MaxVisibleMessages int `toml:"max_visible_messages"`
	// CleanupThreshold triggers a trim when exceeded (default: 100)
	CleanupThreshold int `toml:"cleanup_threshold"`
	// RequestTimeoutSecs bounds one generate request (default: 30)
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
	// UpdateThresholdMs is the minimum interval between streamed flushes (default: 100)
	UpdateThresholdMs int `toml:"update_threshold_ms"`
	// TrimDelayMs debounces scheduled trims (default: 1000)
	TrimDelayMs int `toml:"trim_delay_ms"`
	// DisableTitles skips title generation
	DisableTitles bool `toml:"disable_titles"`
}

// ArchiveConfig selects the overflow archive backend.
type ArchiveConfig struct {
	// Backend is memory, file, sqlite, redis or postgres (default: sqlite)
	Backend string `toml:"backend"`
	// Path is the directory (file) or database file (sqlite); empty = under the config dir
	Path string `toml:"path"`
	// URL is the redis or postgres connection string
	URL string `toml:"url"`
	// Namespace prefixes redis keys
	Namespace string `toml:"namespace"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:8787)
	Addr string `toml:"addr"`
	// JWTSecret signs session tokens; required to serve
	JWTSecret string `toml:"jwt_secret"`
	// TokenTTLHours is the session token lifetime (default: 24)
	TokenTTLHours int `toml:"token_ttl_hours"`
	// RateLimitRPS is the per-client request rate (default: 10)
	RateLimitRPS float64 `toml:"rate_limit_rps"`
	// RateLimitBurst is the per-client burst (default: 20)
	RateLimitBurst int `toml:"rate_limit_burst"`
	// AllowedOrigins restricts websocket origins; empty allows same-host only
	AllowedOrigins []string `toml:"allowed_origins"`
}

// AuthConfig contains login configuration.
type AuthConfig struct {
	// Users is a "user:pass,user:pass" list; AUTH_USERS overrides it
	Users string `toml:"users"`
}

// UIConfig contains terminal UI configuration.
type UIConfig struct {
	// Theme is dark, light or auto
	Theme string `toml:"theme"`
	// HideThinking collapses think blocks
	HideThinking bool `toml:"hide_thinking"`
	// LogFile receives logs while the TUI owns the screen; empty = under the config dir
	LogFile string `toml:"log_file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with sensible defaults.
func Default() *Config {
	limits := model.DefaultLimits()
	return &Config{
		Version: "1",
		Ollama: OllamaConfig{
			URL:         ollama.DefaultBaseURL,
			Model:       ollama.DefaultModel,
			Temperature: 0.7,
			TopP:        0.9,
		},
		Chat: ChatConfig{
			MaxConversations:   limits.MaxConversations,
			MaxVisibleMessages: limits.MaxVisibleMessages,
			CleanupThreshold:   limits.CleanupThreshold,
			RequestTimeoutSecs: int(limits.RequestTimeout / time.Second),
			UpdateThresholdMs:  int(limits.UpdateThreshold / time.Millisecond),
			TrimDelayMs:        1000,
		},
		Archive: ArchiveConfig{
			Backend:   archive.BackendSQLite,
			Namespace: "neochat",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8787",
			TokenTTLHours:  24,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		UI: UIConfig{
			Theme: "dark",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the neochat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".neochat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DotEnvPaths returns the .env files consulted by Load, highest precedence first.
func DotEnvPaths() []string {
	paths := []string{".env"}
	if dir, err := ConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	return paths
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: the config file may hold the JWT secret and user list.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.neochat/config.toml if present, then .env files, then the
// process environment, and validates the result.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load with an explicit config file. A missing file is not
// an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides(EnvLookup(DotEnvPaths()...))
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# neochat configuration file\n")
	sb.WriteString("# Environment variables (NEOCHAT_*, OLLAMA_HOST, AUTH_USERS) override these values.\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// LookupFunc returns the value of an environment key, or "" when unset.
type LookupFunc func(key string) string

// EnvLookup reads the process environment, falling back to the given .env
// files in order. Missing files are ignored. The process environment always
// wins.
func EnvLookup(dotEnvPaths ...string) LookupFunc {
	fileVals := make(map[string]string)
	for i := len(dotEnvPaths) - 1; i >= 0; i-- {
		vals, err := godotenv.Read(dotEnvPaths[i])
		if err != nil {
			continue
		}
		for k, v := range vals {
			fileVals[k] = v
		}
	}
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileVals[key]
	}
}

// ApplyEnvOverrides applies environment overrides to the config.
//
// Supported environment variables:
//   - OLLAMA_HOST, NEOCHAT_OLLAMA_URL: overrides ollama.url
//   - NEOCHAT_MODEL: overrides ollama.model
//   - NEOCHAT_REQUEST_TIMEOUT: overrides chat.request_timeout_secs
//   - NEOCHAT_ARCHIVE_BACKEND, NEOCHAT_ARCHIVE_PATH, NEOCHAT_ARCHIVE_URL
//   - NEOCHAT_ADDR: overrides server.addr
//   - NEOCHAT_JWT_SECRET: overrides server.jwt_secret
//   - AUTH_USERS: overrides auth.users
func (c *Config) ApplyEnvOverrides(lookup LookupFunc) {
	if lookup == nil {
		lookup = os.Getenv
	}

	if host := lookup("OLLAMA_HOST"); host != "" {
		c.Ollama.URL = normalizeOllamaHost(host)
	}
	if u := lookup("NEOCHAT_OLLAMA_URL"); u != "" {
		c.Ollama.URL = u
	}
	if m := lookup("NEOCHAT_MODEL"); m != "" {
		c.Ollama.Model = m
	}
	if secs := lookup("NEOCHAT_REQUEST_TIMEOUT"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			c.Chat.RequestTimeoutSecs = n
		}
	}
	if b := lookup("NEOCHAT_ARCHIVE_BACKEND"); b != "" {
		c.Archive.Backend = b
	}
	if p := lookup("NEOCHAT_ARCHIVE_PATH"); p != "" {
		c.Archive.Path = p
	}
	if u := lookup("NEOCHAT_ARCHIVE_URL"); u != "" {
		c.Archive.URL = u
	}
	if addr := lookup("NEOCHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if secret := lookup("NEOCHAT_JWT_SECRET"); secret != "" {
		c.Server.JWTSecret = secret
	}
	if users := lookup("AUTH_USERS"); users != "" {
		c.Auth.Users = users
	}
}

// normalizeOllamaHost accepts OLLAMA_HOST in the forms Ollama itself does:
// "host", "host:port" or a full URL. A bare host gets the default port.
func normalizeOllamaHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.Contains(host, "://") {
		return host
	}
	u, err := url.Parse("http://" + host)
	if err != nil {
		return "http://" + host
	}
	if u.Port() == "" {
		u.Host += ":11434"
	}
	return u.String()
}

// SetDefaults fills zero values with defaults and resolves derived paths.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = d.Ollama.Model
	}
	if c.Chat.MaxConversations == 0 {
		c.Chat.MaxConversations = d.Chat.MaxConversations
	}
	if c.Chat.MaxVisibleMessages == 0 {
		c.Chat.MaxVisibleMessages = d.Chat.MaxVisibleMessages
	}
	if c.Chat.CleanupThreshold == 0 {
		c.Chat.CleanupThreshold = d.Chat.CleanupThreshold
	}
	if c.Chat.RequestTimeoutSecs == 0 {
		c.Chat.RequestTimeoutSecs = d.Chat.RequestTimeoutSecs
	}
	if c.Chat.UpdateThresholdMs == 0 {
		c.Chat.UpdateThresholdMs = d.Chat.UpdateThresholdMs
	}
	if c.Chat.TrimDelayMs == 0 {
		c.Chat.TrimDelayMs = d.Chat.TrimDelayMs
	}
	if c.Archive.Backend == "" {
		c.Archive.Backend = d.Archive.Backend
	}
	c.Archive.Backend = strings.ToLower(c.Archive.Backend)
	if c.Archive.Path == "" {
		if dir, err := ConfigDir(); err == nil {
			switch c.Archive.Backend {
			case archive.BackendSQLite:
				c.Archive.Path = filepath.Join(dir, "archive.db")
			case archive.BackendFile:
				c.Archive.Path = filepath.Join(dir, "archive")
			}
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.TokenTTLHours == 0 {
		c.Server.TokenTTLHours = d.Server.TokenTTLHours
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = d.Server.RateLimitRPS
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = d.Server.RateLimitBurst
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.UI.LogFile == "" {
		if dir, err := ConfigDir(); err == nil {
			c.UI.LogFile = filepath.Join(dir, "neochat.log")
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Ollama
	if u, err := url.Parse(c.Ollama.URL); err != nil {
		add("ollama.url", "invalid URL: %v", err)
	} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("ollama.url", "must be an http(s) URL with a host, got '%s'", c.Ollama.URL)
	}
	if c.Ollama.Temperature < 0 || c.Ollama.Temperature > 2 {
		add("ollama.temperature", "must be between 0.0 and 2.0, got %.2f", c.Ollama.Temperature)
	}
	if c.Ollama.TopP < 0 || c.Ollama.TopP > 1 {
		add("ollama.top_p", "must be between 0.0 and 1.0, got %.2f", c.Ollama.TopP)
	}

	// Chat
	if c.Chat.MaxConversations < 1 {
		add("chat.max_conversations", "must be at least 1")
	}
	if c.Chat.MaxVisibleMessages < 1 {
		add("chat.max_visible_messages", "must be at least 1")
	}
	if c.Chat.CleanupThreshold < c.Chat.MaxVisibleMessages {
		add("chat.cleanup_threshold", "must be at least max_visible_messages (%d), got %d",
			c.Chat.MaxVisibleMessages, c.Chat.CleanupThreshold)
	}
	if c.Chat.RequestTimeoutSecs < 1 || c.Chat.RequestTimeoutSecs > 600 {
		add("chat.request_timeout_secs", "must be between 1 and 600, got %d", c.Chat.RequestTimeoutSecs)
	}
	if c.Chat.UpdateThresholdMs < 1 || c.Chat.UpdateThresholdMs > 5000 {
		add("chat.update_threshold_ms", "must be between 1 and 5000, got %d", c.Chat.UpdateThresholdMs)
	}
	if c.Chat.TrimDelayMs < 0 {
		add("chat.trim_delay_ms", "cannot be negative")
	}

	// Archive
	validBackend := false
	for _, b := range archive.Backends {
		if strings.EqualFold(c.Archive.Backend, b) {
			validBackend = true
		}
	}
	if !validBackend {
		add("archive.backend", "invalid backend '%s', must be one of: %s", c.Archive.Backend, strings.Join(archive.Backends, ", "))
	}
	switch strings.ToLower(c.Archive.Backend) {
	case archive.BackendRedis, archive.BackendPostgres:
		if c.Archive.URL == "" {
			add("archive.url", "required for the %s backend", c.Archive.Backend)
		}
	}

	// Server
	if c.Server.Addr == "" {
		add("server.addr", "cannot be empty")
	}
	if c.Server.TokenTTLHours < 0 {
		add("server.token_ttl_hours", "cannot be negative")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		add("server.rate_limit", "rate and burst cannot be negative")
	}

	// UI
	switch strings.ToLower(c.UI.Theme) {
	case "dark", "light", "auto":
	default:
		add("ui.theme", "invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// Limits returns the chat core limits.
func (c *Config) Limits() model.Limits {
	return model.Limits{
		MaxConversations:   c.Chat.MaxConversations,
		MaxVisibleMessages: c.Chat.MaxVisibleMessages,
		CleanupThreshold:   c.Chat.CleanupThreshold,
		RequestTimeout:     time.Duration(c.Chat.RequestTimeoutSecs) * time.Second,
		UpdateThreshold:    time.Duration(c.Chat.UpdateThresholdMs) * time.Millisecond,
	}.WithDefaults()
}

// TrimDelay returns the store trim debounce.
func (c *Config) TrimDelay() time.Duration {
	return time.Duration(c.Chat.TrimDelayMs) * time.Millisecond
}

// Sampling returns the generate request options.
func (c *Config) Sampling() *ollama.Options {
	return &ollama.Options{
		Temperature: c.Ollama.Temperature,
		TopP:        c.Ollama.TopP,
		Stop:        c.Ollama.Stop,
	}
}

// ArchiveOptions returns the archive backend selection.
func (c *Config) ArchiveOptions() archive.Config {
	return archive.Config{
		Backend:   c.Archive.Backend,
		Path:      c.Archive.Path,
		URL:       c.Archive.URL,
		Namespace: c.Archive.Namespace,
	}
}

// TokenTTL returns the session token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Server.TokenTTLHours) * time.Hour
}

// =============================================================================
// GET HELPER (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "chat.max_conversations").
func (c *Config) Get(key string) (interface{}, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Ollama.Stop = append([]string(nil), c.Ollama.Stop...)
	out.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	if out.Server.JWTSecret != "" {
		out.Server.JWTSecret = "********"
	}
	if out.Auth.Users != "" {
		out.Auth.Users = "********"
	}
	if out.Archive.URL != "" {
		if u, err := url.Parse(out.Archive.URL); err == nil && u.User != nil {
			u.User = url.User(u.User.Username())
			out.Archive.URL = u.String()
		}
	}
	return &out
}

// String renders the redacted config as TOML.
func (c *Config) String() string {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c.Redacted()); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return sb.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.SetDefaults()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
