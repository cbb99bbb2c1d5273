// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/registry"
)

// =============================================================================
// PROVIDER
// =============================================================================

// Provider sends one completion request to a backend.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a provider-neutral completion request.
type Request struct {
	// RequestID correlates logs and the recorded Outcome.
	RequestID string

	// Model is set by the executor for each candidate.
	Model        registry.ModelDescriptor
	SystemPrompt string

	// SearchContext is prepended to the system prompt when non-empty.
	SearchContext string

	// Turns are normalized: attachments carry decoded payloads.
	Turns       []model.Turn
	Temperature float64
	MaxTokens   int
}

// Instructions joins the system prompt and the search context.
func (r Request) Instructions() string {
	switch {
	case r.SearchContext == "":
		return r.SystemPrompt
	case r.SystemPrompt == "":
		return r.SearchContext
	default:
		return r.SystemPrompt + "\n\n" + r.SearchContext
	}
}

// Response is a provider answer.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// =============================================================================
// OUTCOME
// =============================================================================

// Attempt records one provider call.
type Attempt struct {
	ModelID    string        `json:"model_id"`
	ProviderID string        `json:"provider_id"`
	Number     int           `json:"number"` // 1-based within the candidate
	Latency    time.Duration `json:"latency"`
	Transient  bool          `json:"transient,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// CandidateReport summarizes the attempts against one candidate.
type CandidateReport struct {
	ModelID    string          `json:"model_id"`
	ProviderID string          `json:"provider_id"`
	Attempts   int             `json:"attempts"`
	Latencies  []time.Duration `json:"latencies"`
	LastError  string          `json:"last_error,omitempty"`
}

// Outcome is recorded for every dispatch, successful or not.
type Outcome struct {
	RequestID  string            `json:"request_id,omitempty"`
	ModelID    string            `json:"model_id,omitempty"`    // chosen model on success
	ProviderID string            `json:"provider_id,omitempty"` // chosen provider on success
	Success    bool              `json:"success"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Attempts   []Attempt         `json:"attempts"`
	Candidates []CandidateReport `json:"candidates"`
	Started    time.Time         `json:"started"`
	Latency    time.Duration     `json:"latency"`
}

// AttemptCount returns the total number of provider calls.
func (o Outcome) AttemptCount() int {
	return len(o.Attempts)
}

// Recorder receives outcomes. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(Outcome)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Outcome)

// Record calls f.
func (f RecorderFunc) Record(o Outcome) {
	f(o)
}

// =============================================================================
// RESULT & ERRORS
// =============================================================================

// Result is a successful dispatch.
type Result struct {
	Response *Response
	Model    registry.ModelDescriptor
	Outcome  Outcome
}

// ExhaustedError reports that every candidate failed.
type ExhaustedError struct {
	Candidates []CandidateReport
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = fmt.Sprintf("%s/%s: %d attempt(s), last error: %s", c.ProviderID, c.ModelID, c.Attempts, c.LastError)
	}
	return "all candidates failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, errs.ErrDispatchExhausted) hold.
func (e *ExhaustedError) Is(target error) bool {
	return target == errs.ErrDispatchExhausted
}
