// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/registry"
)

// ============================================================================
// ROUTER
// ============================================================================

// Router resolves requests against a registry.
type Router struct {
	reg *registry.Registry
}

// New creates a Router over reg.
func New(reg *registry.Registry) *Router {
	return &Router{reg: reg}
}

// Resolve returns the candidate list for a request naming requested (a model
// id, "auto", or empty) and carrying the required modalities.
func (r *Router) Resolve(requested string, required model.ModalitySet) (Decision, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		requested = registry.AutoModelID
	}
	if requested == registry.AutoModelID {
		return r.resolveAuto(required)
	}
	return r.resolveExplicit(requested, required)
}

// resolveExplicit never fails over: the named model is the only candidate.
func (r *Router) resolveExplicit(id string, required model.ModalitySet) (Decision, error) {
	d, err := r.reg.Lookup(id)
	if err != nil {
		return Decision{}, err
	}
	if !d.Supports(required) {
		return Decision{}, errs.E(errs.KindIncapableModel, "router.Resolve",
			"model %q does not support %s", id, d.Modalities.Missing(required))
	}
	return Decision{
		Requested:  id,
		Mode:       ModeExplicit,
		Required:   required,
		Candidates: []registry.ModelDescriptor{d},
		Reason:     "explicit model",
	}, nil
}

// resolveAuto puts the default for the required set first, followed by every
// other capable model in declaration order.
func (r *Router) resolveAuto(required model.ModalitySet) (Decision, error) {
	primary, err := r.reg.DefaultFor(required)
	if err != nil {
		return Decision{}, err
	}

	candidates := []registry.ModelDescriptor{primary}
	for _, d := range r.reg.List() {
		if d.ID == primary.ID || !d.Supports(required) {
			continue
		}
		candidates = append(candidates, d)
	}

	return Decision{
		Requested:  registry.AutoModelID,
		Mode:       ModeAuto,
		Required:   required,
		Candidates: candidates,
		Reason:     fmt.Sprintf("default for %s with %d fallback(s)", required, len(candidates)-1),
	}, nil
}
