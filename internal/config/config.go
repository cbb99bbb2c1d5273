// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/modelgate/internal/registry"
	"github.com/jeranaias/modelgate/internal/search"
	"github.com/jeranaias/modelgate/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete modelgate configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Chat      ChatConfig      `toml:"chat"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Normalize NormalizeConfig `toml:"normalize"`
	Search    SearchConfig    `toml:"search"`
	Logging   LoggingConfig   `toml:"logging"`
	Auth      AuthConfig      `toml:"auth"`

	// Catalog. Declaration order is routing order.
	Providers []ProviderConfig `toml:"providers"`
	Models    []ModelConfig    `toml:"models"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080"
	Addr                string `toml:"addr"`
	ReadTimeoutSecs     int    `toml:"read_timeout_secs"`
	WriteTimeoutSecs    int    `toml:"write_timeout_secs"`
	IdleTimeoutSecs     int    `toml:"idle_timeout_secs"`
	ShutdownTimeoutSecs int    `toml:"shutdown_timeout_secs"`

	// MaxBodyBytes caps request bodies. Attachments are base64, so this must
	// exceed normalize.max_payload_bytes by roughly a third.
	MaxBodyBytes int64 `toml:"max_body_bytes"`

	// Per client IP token bucket. RateLimitRPS <= 0 disables limiting.
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`

	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string `toml:"cors_origins"`

	// StatsPath, when set, receives a JSON stats snapshot on shutdown.
	StatsPath string `toml:"stats_path"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	// Backend is "sqlite" or "memory"
	Backend string `toml:"backend"`
	// Path is the SQLite database file (~ expanded)
	Path string `toml:"path"`
}

// ChatConfig contains per-request chat settings.
type ChatConfig struct {
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
	// MaxTurns caps the turns a client may send in one request
	MaxTurns int `toml:"max_turns"`
	// HistoryWindow is how many stored turns are prepended when a client
	// sends a single turn for an existing session. 0 disables it.
	HistoryWindow int `toml:"history_window"`
	// TitleRunes bounds titles derived from the first user message
	TitleRunes   int    `toml:"title_runes"`
	SystemPrompt string `toml:"system_prompt"`
	// DefaultTemperature applies when a request omits temperature
	DefaultTemperature *float64 `toml:"default_temperature"`
	// DefaultMaxTokens applies when a request omits max_tokens (0 = provider default)
	DefaultMaxTokens int `toml:"default_max_tokens"`
}

// DispatchConfig tunes retries and failover.
type DispatchConfig struct {
	MaxAttempts        int     `toml:"max_attempts"`
	AttemptTimeoutSecs int     `toml:"attempt_timeout_secs"`
	BackoffBaseMs      int     `toml:"backoff_base_ms"`
	BackoffMaxMs       int     `toml:"backoff_max_ms"`
	Jitter             float64 `toml:"jitter"`
}

// NormalizeConfig bounds attachment processing.
type NormalizeConfig struct {
	MaxPayloadBytes int    `toml:"max_payload_bytes"`
	MaxFrames       int    `toml:"max_frames"`
	Concurrency     int    `toml:"concurrency"`
	FFmpegPath      string `toml:"ffmpeg_path"`
	FFprobePath     string `toml:"ffprobe_path"`
}

// SearchConfig configures web search augmentation.
type SearchConfig struct {
	// Disabled turns augmentation off even when clients request it
	Disabled bool `toml:"disabled"`
	// Endpoint is the SearXNG base URL
	Endpoint    string `toml:"endpoint"`
	TimeoutSecs int    `toml:"timeout_secs"`
	BudgetChars int    `toml:"budget_chars"`
	MaxSnippets int    `toml:"max_snippets"`
	// Cues replaces the built-in freshness cue list when non-empty
	Cues []string `toml:"cues"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `toml:"level"`
	// Format is json or text
	Format string `toml:"format"`
}

// AuthConfig protects the API. An empty token disables authentication.
type AuthConfig struct {
	BearerToken string `toml:"bearer_token"`
	// AllowedIPs restricts clients by IP or CIDR; empty allows all
	AllowedIPs []string `toml:"allowed_ips"`
}

// ProviderConfig declares a provider endpoint.
type ProviderConfig struct {
	ID string `toml:"id"`
	// Kind is "openai" (any OpenAI-compatible endpoint) or "ollama"
	Kind    string `toml:"kind"`
	BaseURL string `toml:"base_url"`
	// APIKeyEnv names the environment variable holding the key
	APIKeyEnv string `toml:"api_key_env,omitempty"`
	// APIKey is used when set; prefer APIKeyEnv
	APIKey string `toml:"api_key,omitempty"`
	// Per-provider call limit. RateLimitRPS <= 0 disables it.
	RateLimitRPS   float64           `toml:"rate_limit_rps,omitempty"`
	RateLimitBurst int               `toml:"rate_limit_burst,omitempty"`
	Headers        map[string]string `toml:"headers,omitempty"`
}

// ModelConfig declares a model served by a provider.
type ModelConfig struct {
	ID            string   `toml:"id"`
	Name          string   `toml:"name"`
	Provider      string   `toml:"provider"`
	Modalities    []string `toml:"modalities"`
	Default       bool     `toml:"default,omitempty"`
	Description   string   `toml:"description,omitempty"`
	ContextWindow int      `toml:"context_window,omitempty"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                "127.0.0.1:8080",
			ReadTimeoutSecs:     30,
			WriteTimeoutSecs:    180,
			IdleTimeoutSecs:     120,
			ShutdownTimeoutSecs: 15,
			MaxBodyBytes:        32 * 1024 * 1024,
			RateLimitRPS:        5,
			RateLimitBurst:      20,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "~/.modelgate/modelgate.db",
		},
		Chat: ChatConfig{
			RequestTimeoutSecs: 120,
			MaxTurns:           100,
			HistoryWindow:      20,
			TitleRunes:         50,
			DefaultTemperature: floatPtr(0.7),
			DefaultMaxTokens:   2000,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:        3,
			AttemptTimeoutSecs: 60,
			BackoffBaseMs:      500,
			BackoffMaxMs:       10000,
			Jitter:             0.5,
		},
		Normalize: NormalizeConfig{
			MaxPayloadBytes: 20 * 1024 * 1024,
			MaxFrames:       8,
			Concurrency:     4,
		},
		Search: SearchConfig{
			Endpoint:    "http://127.0.0.1:8888",
			TimeoutSecs: 8,
			BudgetChars: 4000,
			MaxSnippets: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Providers: DefaultProviders(),
		Models:    DefaultModels(),
	}
}

// DefaultProviders returns the built-in provider endpoints.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{ID: "siliconflow", Kind: "openai", BaseURL: "https://api.siliconflow.cn/v1", APIKeyEnv: "SILICONFLOW_API_KEY"},
		{ID: "groq", Kind: "openai", BaseURL: "https://api.groq.com/openai/v1", APIKeyEnv: "GROQ_API_KEY"},
		{ID: "ollama", Kind: "ollama", BaseURL: "http://127.0.0.1:11434"},
	}
}

// DefaultModels returns the built-in catalog.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{
			ID: "deepseek-ai/DeepSeek-V2.5", Name: "DeepSeek-V2.5", Provider: "siliconflow",
			Modalities: []string{"text"}, Default: true,
			Description: "General chat", ContextWindow: 32768,
		},
		{
			ID: "Qwen/Qwen2.5-7B-Instruct", Name: "Qwen2.5-7B-Instruct", Provider: "siliconflow",
			Modalities: []string{"text"}, ContextWindow: 32768,
		},
		{
			ID: "meta-llama/llama-4-scout-17b-16e-instruct", Name: "Llama 4 Scout", Provider: "groq",
			Modalities: []string{"text", "image"}, Default: true,
			Description: "Image understanding", ContextWindow: 131072,
		},
		{
			ID: "llava", Name: "LLaVA (local)", Provider: "ollama",
			Modalities: []string{"text", "image"}, ContextWindow: 4096,
		},
		{
			ID: "Qwen/Qwen2.5-Omni-7B", Name: "Qwen2.5-Omni-7B", Provider: "siliconflow",
			Modalities: []string{"text", "image", "audio", "video"},
			Description: "Audio and video understanding", ContextWindow: 32768,
		},
	}
}

// fillDefaults fills zero values with defaults. An empty catalog gets the
// built-in one; a partial catalog is left alone.
func fillDefaults(cfg *Config) {
	d := Default()

	// Server
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = d.Server.ReadTimeoutSecs
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		cfg.Server.WriteTimeoutSecs = d.Server.WriteTimeoutSecs
	}
	if cfg.Server.IdleTimeoutSecs == 0 {
		cfg.Server.IdleTimeoutSecs = d.Server.IdleTimeoutSecs
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = d.Server.ShutdownTimeoutSecs
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = d.Server.RateLimitBurst
	}

	// Storage
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = d.Storage.Path
	}

	// Chat
	if cfg.Chat.RequestTimeoutSecs == 0 {
		cfg.Chat.RequestTimeoutSecs = d.Chat.RequestTimeoutSecs
	}
	if cfg.Chat.MaxTurns == 0 {
		cfg.Chat.MaxTurns = d.Chat.MaxTurns
	}
	if cfg.Chat.TitleRunes == 0 {
		cfg.Chat.TitleRunes = d.Chat.TitleRunes
	}
	if cfg.Chat.DefaultTemperature == nil {
		cfg.Chat.DefaultTemperature = d.Chat.DefaultTemperature
	}

	// Dispatch
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = d.Dispatch.MaxAttempts
	}
	if cfg.Dispatch.AttemptTimeoutSecs == 0 {
		cfg.Dispatch.AttemptTimeoutSecs = d.Dispatch.AttemptTimeoutSecs
	}
	if cfg.Dispatch.BackoffBaseMs == 0 {
		cfg.Dispatch.BackoffBaseMs = d.Dispatch.BackoffBaseMs
	}
	if cfg.Dispatch.BackoffMaxMs == 0 {
		cfg.Dispatch.BackoffMaxMs = d.Dispatch.BackoffMaxMs
	}
	if cfg.Dispatch.Jitter == 0 {
		cfg.Dispatch.Jitter = d.Dispatch.Jitter
	}

	// Normalize
	if cfg.Normalize.MaxPayloadBytes == 0 {
		cfg.Normalize.MaxPayloadBytes = d.Normalize.MaxPayloadBytes
	}
	if cfg.Normalize.MaxFrames == 0 {
		cfg.Normalize.MaxFrames = d.Normalize.MaxFrames
	}
	if cfg.Normalize.Concurrency == 0 {
		cfg.Normalize.Concurrency = d.Normalize.Concurrency
	}

	// Search
	if cfg.Search.Endpoint == "" {
		cfg.Search.Endpoint = d.Search.Endpoint
	}
	if cfg.Search.TimeoutSecs == 0 {
		cfg.Search.TimeoutSecs = d.Search.TimeoutSecs
	}
	if cfg.Search.BudgetChars == 0 {
		cfg.Search.BudgetChars = d.Search.BudgetChars
	}
	if cfg.Search.MaxSnippets == 0 {
		cfg.Search.MaxSnippets = d.Search.MaxSnippets
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}

	// Catalog
	if len(cfg.Providers) == 0 && len(cfg.Models) == 0 {
		cfg.Providers = d.Providers
		cfg.Models = d.Models
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.modelgate.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".modelgate"), nil
}

// ConfigPath returns ~/.modelgate/config.toml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// searchPaths lists candidate config files in precedence order.
func searchPaths() []string {
	var paths []string
	if p := os.Getenv("MODELGATE_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "modelgate.toml")
	if p, err := ConfigPath(); err == nil {
		paths = append(paths, p)
	}
	return paths
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads .env, then the first config file found among $MODELGATE_CONFIG,
// ./modelgate.toml and ~/.modelgate/config.toml, falling back to defaults.
// Environment overrides are applied last. An explicit $MODELGATE_CONFIG
// that does not exist is an error.
func Load() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	explicit := os.Getenv("MODELGATE_CONFIG")
	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err != nil {
			if path == explicit {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			continue
		}
		return LoadFromPath(path)
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a TOML file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files without overriding
// variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# modelgate configuration file\n")
	buf.WriteString("# Provider keys belong in the environment; see api_key_env.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// ApplyEnvOverrides applies MODELGATE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MODELGATE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MODELGATE_STORAGE"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("MODELGATE_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("MODELGATE_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MODELGATE_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("MODELGATE_SEARCH_ENDPOINT"); v != "" {
		c.Search.Endpoint = v
	}
	if v := os.Getenv("MODELGATE_SEARCH_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Search.Disabled = b
		}
	}
	if v := os.Getenv("MODELGATE_BEARER_TOKEN"); v != "" {
		c.Auth.BearerToken = v
	}
}

// ResolveAPIKey resolves the provider's key: the inline value, else the variable
// named by api_key_env.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
	}
	return ""
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
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		add("server.max_body_bytes", "must be positive")
	} else if c.Server.MaxBodyBytes < int64(c.Normalize.MaxPayloadBytes) {
		add("server.max_body_bytes", "must be at least normalize.max_payload_bytes (%d)", c.Normalize.MaxPayloadBytes)
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		add("server.rate_limit_burst", "must be at least 1 when rate limiting is enabled")
	}
	for _, sec := range []struct {
		field string
		v     int
	}{
		{"server.read_timeout_secs", c.Server.ReadTimeoutSecs},
		{"server.write_timeout_secs", c.Server.WriteTimeoutSecs},
		{"server.idle_timeout_secs", c.Server.IdleTimeoutSecs},
		{"server.shutdown_timeout_secs", c.Server.ShutdownTimeoutSecs},
		{"chat.request_timeout_secs", c.Chat.RequestTimeoutSecs},
		{"dispatch.attempt_timeout_secs", c.Dispatch.AttemptTimeoutSecs},
		{"search.timeout_secs", c.Search.TimeoutSecs},
	} {
		if sec.v <= 0 {
			add(sec.field, "must be positive")
		}
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			add("storage.path", "required for the sqlite backend")
		}
	default:
		add("storage.backend", "invalid backend '%s', must be one of: sqlite, memory", c.Storage.Backend)
	}

	// Chat
	if c.Chat.MaxTurns < 1 {
		add("chat.max_turns", "must be at least 1")
	}
	if c.Chat.HistoryWindow < 0 {
		add("chat.history_window", "cannot be negative")
	}
	if c.Chat.TitleRunes < 1 {
		add("chat.title_runes", "must be at least 1")
	}
	if t := c.Chat.Temperature(); t < 0 || t > 2 {
		add("chat.default_temperature", "must be between 0 and 2")
	}
	if c.Chat.DefaultMaxTokens < 0 {
		add("chat.default_max_tokens", "cannot be negative")
	}

	// Dispatch
	if c.Dispatch.MaxAttempts < 1 || c.Dispatch.MaxAttempts > 10 {
		add("dispatch.max_attempts", "must be between 1 and 10")
	}
	if c.Dispatch.BackoffBaseMs <= 0 {
		add("dispatch.backoff_base_ms", "must be positive")
	}
	if c.Dispatch.BackoffMaxMs < c.Dispatch.BackoffBaseMs {
		add("dispatch.backoff_max_ms", "must be at least backoff_base_ms")
	}
	if c.Dispatch.Jitter < 0 || c.Dispatch.Jitter > 1 {
		add("dispatch.jitter", "must be between 0 and 1")
	}

	// Normalize
	if c.Normalize.MaxPayloadBytes <= 0 {
		add("normalize.max_payload_bytes", "must be positive")
	}
	if c.Normalize.MaxFrames < 1 {
		add("normalize.max_frames", "must be at least 1")
	}
	if c.Normalize.Concurrency < 1 {
		add("normalize.concurrency", "must be at least 1")
	}

	// Search
	if !c.Search.Disabled {
		if err := validateURL(c.Search.Endpoint); err != nil {
			add("search.endpoint", "%v", err)
		}
	}
	if c.Search.BudgetChars < search.MinBudgetChars {
		add("search.budget_chars", "must be at least %d", search.MinBudgetChars)
	}
	if c.Search.MaxSnippets < 1 {
		add("search.max_snippets", "must be at least 1")
	}

	// Logging
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		add("logging.format", "invalid format '%s', must be one of: json, text", c.Logging.Format)
	}

	// Providers
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if err := validateURL(p.BaseURL); err != nil {
			add(field+".base_url", "%v", err)
		}
		if p.RateLimitRPS > 0 && p.RateLimitBurst < 1 {
			add(field+".rate_limit_burst", "must be at least 1 when rate limiting is enabled")
		}
	}

	// Catalog consistency is owned by the registry.
	if _, err := registry.Load(c.ProviderSpecs(), c.ModelSpecs()); err != nil {
		add("models", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid scheme '%s', must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// ProviderSpecs converts the providers for registry.Load.
func (c *Config) ProviderSpecs() []registry.ProviderSpec {
	out := make([]registry.ProviderSpec, len(c.Providers))
	for i, p := range c.Providers {
		out[i] = registry.ProviderSpec{ID: p.ID, Kind: p.Kind, BaseURL: p.BaseURL}
	}
	return out
}

// ModelSpecs converts the models for registry.Load.
func (c *Config) ModelSpecs() []registry.ModelSpec {
	out := make([]registry.ModelSpec, len(c.Models))
	for i, m := range c.Models {
		out[i] = registry.ModelSpec{
			ID:            m.ID,
			Name:          m.Name,
			Provider:      m.Provider,
			Modalities:    append([]string(nil), m.Modalities...),
			Default:       m.Default,
			Description:   m.Description,
			ContextWindow: m.ContextWindow,
		}
	}
	return out
}

// Provider returns the provider with the given id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// ReadTimeout returns read_timeout_secs as a duration.
func (s ServerConfig) ReadTimeout() time.Duration { return secs(s.ReadTimeoutSecs) }

// WriteTimeout returns write_timeout_secs as a duration.
func (s ServerConfig) WriteTimeout() time.Duration { return secs(s.WriteTimeoutSecs) }

// IdleTimeout returns idle_timeout_secs as a duration.
func (s ServerConfig) IdleTimeout() time.Duration { return secs(s.IdleTimeoutSecs) }

// ShutdownTimeout returns shutdown_timeout_secs as a duration.
func (s ServerConfig) ShutdownTimeout() time.Duration { return secs(s.ShutdownTimeoutSecs) }

// Temperature returns default_temperature, or 0.7 when unset.
func (c ChatConfig) Temperature() float64 {
	if c.DefaultTemperature == nil {
		return 0.7
	}
	return *c.DefaultTemperature
}

func floatPtr(f float64) *float64 { return &f }

// RequestTimeout returns request_timeout_secs as a duration.
func (c ChatConfig) RequestTimeout() time.Duration { return secs(c.RequestTimeoutSecs) }

// AttemptTimeout returns attempt_timeout_secs as a duration.
func (d DispatchConfig) AttemptTimeout() time.Duration { return secs(d.AttemptTimeoutSecs) }

// BackoffBase returns backoff_base_ms as a duration.
func (d DispatchConfig) BackoffBase() time.Duration {
	return time.Duration(d.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns backoff_max_ms as a duration.
func (d DispatchConfig) BackoffMax() time.Duration {
	return time.Duration(d.BackoffMaxMs) * time.Millisecond
}

// Timeout returns timeout_secs as a duration.
func (s SearchConfig) Timeout() time.Duration { return secs(s.TimeoutSecs) }

// =============================================================================
// DISPLAY
// =============================================================================

// String renders the configuration as TOML with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.Auth.BearerToken = util.MaskSecret(c.Auth.BearerToken)
	masked.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.APIKey = util.MaskSecret(p.APIKey)
		masked.Providers[i] = p
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(&masked); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
