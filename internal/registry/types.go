// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"fmt"
	"strings"

	"github.com/jeranaias/modelgate/internal/model"
)

// ============================================================================
// PROVIDER KIND
// ============================================================================

// ProviderKind identifies the wire protocol a provider speaks.
type ProviderKind int

const (
	// KindOpenAI is an OpenAI-compatible chat completions API
	// (SiliconFlow, Groq, OpenRouter).
	KindOpenAI ProviderKind = iota + 1
	// KindOllama is a local or remote Ollama daemon.
	KindOllama
)

// String returns the configuration name of the kind.
func (k ProviderKind) String() string {
	switch k {
	case KindOpenAI:
		return "openai"
	case KindOllama:
		return "ollama"
	default:
		return fmt.Sprintf("ProviderKind(%d)", int(k))
	}
}

// ParseProviderKind parses a kind name.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "openai-compatible":
		return KindOpenAI, nil
	case "ollama":
		return KindOllama, nil
	default:
		return 0, fmt.Errorf("unknown provider kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ProviderKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ============================================================================
// SPECS (configuration input)
// ============================================================================

// ProviderSpec declares a provider endpoint.
type ProviderSpec struct {
	ID      string
	Kind    string
	BaseURL string
}

// ModelSpec declares a model served by a provider.
type ModelSpec struct {
	ID            string
	Name          string
	Provider      string
	Modalities    []string
	Default       bool
	Description   string
	ContextWindow int
}

// ============================================================================
// MODEL DESCRIPTOR
// ============================================================================

// ModelDescriptor is a registry entry.
type ModelDescriptor struct {
	// ID is the model identifier used in API calls and requests.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// ProviderID names the configured provider endpoint serving the model.
	ProviderID string `json:"provider"`

	// Kind is the provider's wire protocol, resolved at load.
	Kind ProviderKind `json:"provider_kind"`

	// Modalities is the set of content kinds the model accepts.
	Modalities model.ModalitySet `json:"modalities"`

	// Default marks the preferred model for any modality set it covers.
	Default bool `json:"default"`

	Description   string `json:"description,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
}

// Supports reports whether the model accepts every modality in required.
func (d ModelDescriptor) Supports(required model.ModalitySet) bool {
	return d.Modalities.Covers(required)
}

// SupportsImage is kept for clients that only distinguish text from vision.
func (d ModelDescriptor) SupportsImage() bool {
	return d.Modalities.Has(model.ModalityImage)
}
