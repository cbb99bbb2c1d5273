// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry holds the immutable catalog of chat models.
//
// The registry is built once at process start from configuration and is
// read-only afterwards, so it is safe to share between goroutines without
// locking.
//
// # Key Types
//
//   - Registry: ordered catalog with Lookup, DefaultFor and List
//   - ModelDescriptor: id, provider, provider kind, modality set, default flag
//   - ProviderKind: which wire protocol a provider speaks (OpenAI-compatible, Ollama)
//
// # Usage
//
//	reg, err := registry.Load(cfg.ProviderSpecs(), cfg.ModelSpecs())
//	d, err := reg.DefaultFor(model.NewModalitySet(model.ModalityText, model.ModalityImage))
package registry
