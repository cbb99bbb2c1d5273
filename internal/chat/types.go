// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/jeranaias/modelgate/internal/model"
)

// Request is one chat call.
type Request struct {
	// SessionID continues a session. Empty creates one.
	SessionID string

	// Turns to send, oldest first. The last must be a user turn.
	Turns []model.Turn

	// Model is a model id, "auto", or empty (auto).
	Model string

	SystemPrompt string

	// Temperature in [0,2]. Nil uses the configured default.
	Temperature *float64

	// EnableSearch forces search on or off. Nil defers to the heuristic.
	EnableSearch *bool

	// MaxTokens caps the answer. Nil uses the configured default, 0 the
	// provider default.
	MaxTokens *int
}

// Usage reports provider token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Source is a search result that informed the answer.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Response is the composed answer with its provenance.
type Response struct {
	Answer     string `json:"answer"`
	ModelID    string `json:"model_id"`
	ProviderID string `json:"provider_id"`

	// SessionID is empty only when the store was unreachable at creation.
	SessionID string `json:"session_id,omitempty"`

	// TurnID is the stored assistant turn, empty when not persisted.
	TurnID string `json:"turn_id,omitempty"`

	SearchPerformed bool     `json:"search_performed"`
	Sources         []Source `json:"sources,omitempty"`

	// Persisted is true when both the user and assistant turns were stored.
	Persisted bool `json:"persisted"`

	// Attempts counts provider calls across all candidates.
	Attempts int `json:"attempts"`

	// Candidates is the routing order that was tried.
	Candidates []string `json:"candidates"`

	Latency time.Duration `json:"-"`
	Usage   Usage         `json:"usage"`
}
