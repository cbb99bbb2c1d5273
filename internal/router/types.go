// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"

	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/registry"
)

// ============================================================================
// MODE TYPE
// ============================================================================

// Mode says how the candidate list was produced.
type Mode int

const (
	// ModeExplicit means the caller named a model; it is the sole candidate.
	ModeExplicit Mode = iota
	// ModeAuto means the router picked candidates by capability.
	ModeAuto
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeExplicit:
		return "Explicit"
	case ModeAuto:
		return "Auto"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ============================================================================
// DECISION
// ============================================================================

// Decision is the result of routing a request.
type Decision struct {
	// Requested is the model id as the caller sent it ("auto" when empty).
	Requested string `json:"requested"`

	// Mode says whether Candidates came from an explicit id or auto selection.
	Mode Mode `json:"mode"`

	// Required is the set of modalities the request carries.
	Required model.ModalitySet `json:"required"`

	// Candidates is the ordered failover list. Never empty on success.
	Candidates []registry.ModelDescriptor `json:"candidates"`

	// Reason explains the choice.
	Reason string `json:"reason"`
}

// Primary returns the first candidate.
func (d Decision) Primary() registry.ModelDescriptor {
	return d.Candidates[0]
}

// CandidateIDs returns the candidate model ids in order.
func (d Decision) CandidateIDs() []string {
	ids := make([]string, len(d.Candidates))
	for i, c := range d.Candidates {
		ids[i] = c.ID
	}
	return ids
}

// String returns a concise log representation.
func (d Decision) String() string {
	return fmt.Sprintf("mode=%s required=%s candidates=%v", d.Mode, d.Required, d.CandidateIDs())
}
