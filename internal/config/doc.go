// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates the modelgate configuration.
//
// Configuration is TOML with sensible defaults, .env support and
// environment variable overrides.
//
// # Configuration Precedence
//
// Configuration is loaded from (highest precedence first):
//   - Environment variables (MODELGATE_*)
//   - $MODELGATE_CONFIG
//   - ./modelgate.toml
//   - ~/.modelgate/config.toml
//   - Built-in defaults
//
// Provider API keys are never required in the file: each [[providers]]
// entry names the variable holding its key with api_key_env.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg, err := registry.Load(cfg.ProviderSpecs(), cfg.ModelSpecs())
package config
