// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every override variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MODELGATE_CONFIG", "MODELGATE_ADDR", "MODELGATE_STORAGE", "MODELGATE_DB_PATH",
		"MODELGATE_LOG_LEVEL", "MODELGATE_LOG_FORMAT", "MODELGATE_SEARCH_ENDPOINT",
		"MODELGATE_SEARCH_DISABLED", "MODELGATE_BEARER_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestConfig_Default tests that Default() returns a valid config with defaults.
func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate, got %v", err)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Expected default backend 'sqlite', got '%s'", cfg.Storage.Backend)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("Expected 3 attempts per candidate, got %d", cfg.Dispatch.MaxAttempts)
	}
	if len(cfg.Providers) == 0 || len(cfg.Models) == 0 {
		t.Error("Default config should carry a model catalog")
	}
	if cfg.Models[0].ID != "deepseek-ai/DeepSeek-V2.5" || !cfg.Models[0].Default {
		t.Errorf("Expected DeepSeek-V2.5 as the first default model, got %+v", cfg.Models[0])
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid default config", mutate: func(c *Config) {}},
		{name: "memory backend needs no path", mutate: func(c *Config) {
			c.Storage.Backend = "memory"
			c.Storage.Path = ""
		}},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "postgres" }, wantErr: "storage.backend"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Path = "" }, wantErr: "storage.path"},
		{name: "zero attempts", mutate: func(c *Config) { c.Dispatch.MaxAttempts = 0 }, wantErr: "dispatch.max_attempts"},
		{name: "jitter above one", mutate: func(c *Config) { c.Dispatch.Jitter = 1.5 }, wantErr: "dispatch.jitter"},
		{name: "backoff max below base", mutate: func(c *Config) { c.Dispatch.BackoffMaxMs = 10 }, wantErr: "dispatch.backoff_max_ms"},
		{name: "negative history window", mutate: func(c *Config) { c.Chat.HistoryWindow = -1 }, wantErr: "chat.history_window"},
		{name: "body smaller than payload", mutate: func(c *Config) { c.Server.MaxBodyBytes = 1024 }, wantErr: "server.max_body_bytes"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging.level"},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "search budget below header", mutate: func(c *Config) { c.Search.BudgetChars = 40 }, wantErr: "search.budget_chars"},
		{name: "search budget at minimum", mutate: func(c *Config) { c.Search.BudgetChars = 256 }},
		{name: "search endpoint without scheme", mutate: func(c *Config) { c.Search.Endpoint = "localhost:8888" }, wantErr: "search.endpoint"},
		{name: "disabled search ignores endpoint", mutate: func(c *Config) {
			c.Search.Disabled = true
			c.Search.Endpoint = ""
		}},
		{name: "provider with ftp url", mutate: func(c *Config) { c.Providers[0].BaseURL = "ftp://example.com" }, wantErr: "providers[0].base_url"},
		{name: "model for unknown provider", mutate: func(c *Config) { c.Models[0].Provider = "nowhere" }, wantErr: "models"},
		{name: "model without modalities", mutate: func(c *Config) { c.Models[1].Modalities = nil }, wantErr: "models"},
		{name: "model with unknown modality", mutate: func(c *Config) { c.Models[1].Modalities = []string{"smell"} }, wantErr: "models"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	c := Default()
	c.Logging.Level = "loud"
	c.Storage.Backend = "tape"

	err := c.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
}

func TestLoadFromPath_FillsDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "modelgate.toml", `
[server]
addr = "0.0.0.0:9000"

[storage]
backend = "memory"
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.AttemptTimeout())
	assert.Equal(t, DefaultModels(), cfg.Models, "empty catalog falls back to the built-in one")
}

func TestLoadFromPath_CustomCatalog(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "modelgate.toml", `
[[providers]]
id = "local"
kind = "ollama"
base_url = "http://127.0.0.1:11434"

[[models]]
id = "llava"
name = "LLaVA"
provider = "local"
modalities = ["text", "image"]
default = true
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, []string{"text", "image"}, cfg.ModelSpecs()[0].Modalities)
	assert.Equal(t, "ollama", cfg.ProviderSpecs()[0].Kind)
}

func TestLoadFromPath_RejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "modelgate.toml", `
[server]
adr = "typo"
`)

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.adr")
}

func TestLoadFromPath_InvalidFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "modelgate.toml", `[logging]
level = "chatty"
`)

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODELGATE_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_ExplicitPath(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "custom.toml", `
[chat]
history_window = 4
`)
	t.Setenv("MODELGATE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Chat.HistoryWindow)
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODELGATE_ADDR", ":7000")
	t.Setenv("MODELGATE_STORAGE", "MEMORY")
	t.Setenv("MODELGATE_LOG_LEVEL", "DEBUG")
	t.Setenv("MODELGATE_SEARCH_DISABLED", "true")
	t.Setenv("MODELGATE_BEARER_TOKEN", "s3cret-token-value")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Search.Disabled)
	assert.Equal(t, "s3cret-token-value", cfg.Auth.BearerToken)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "MODELGATE_TEST_KEY=from-dotenv\n")
	t.Setenv("MODELGATE_TEST_KEY", "")
	os.Unsetenv("MODELGATE_TEST_KEY")

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "absent.env")))
	assert.Equal(t, "from-dotenv", os.Getenv("MODELGATE_TEST_KEY"))
}

func TestProviderConfig_ResolveAPIKey(t *testing.T) {
	t.Setenv("MODELGATE_TEST_PROVIDER_KEY", "  sk-env  ")

	assert.Equal(t, "sk-inline", ProviderConfig{APIKey: "sk-inline", APIKeyEnv: "MODELGATE_TEST_PROVIDER_KEY"}.ResolveAPIKey())
	assert.Equal(t, "sk-env", ProviderConfig{APIKeyEnv: "MODELGATE_TEST_PROVIDER_KEY"}.ResolveAPIKey())
	assert.Empty(t, ProviderConfig{}.ResolveAPIKey())
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	orig := Default()
	orig.Chat.SystemPrompt = "Be brief."
	require.NoError(t, SaveTOML(orig, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm()&0077 != 0 && os.PathSeparator == '/' {
		t.Errorf("config file should not be group/world accessible, got %v", info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", loaded.Chat.SystemPrompt)
	assert.Equal(t, orig.Models, loaded.Models)
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Auth.BearerToken = "supersecretbearertoken"
	cfg.Providers[0].APIKey = "sk-abcdefghijklmnop"

	s := cfg.String()
	assert.NotContains(t, s, "supersecretbearertoken")
	assert.NotContains(t, s, "sk-abcdefghijklmnop")
	assert.Contains(t, s, "supe...oken")
	assert.Equal(t, "sk-abcdefghijklmnop", cfg.Providers[0].APIKey, "String must not mutate the config")
}

func TestConfig_Provider(t *testing.T) {
	cfg := Default()
	p, ok := cfg.Provider("groq")
	require.True(t, ok)
	assert.Equal(t, "GROQ_API_KEY", p.APIKeyEnv)

	_, ok = cfg.Provider("nope")
	assert.False(t, ok)
}
