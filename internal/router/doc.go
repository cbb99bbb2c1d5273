// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router resolves a chat request to an ordered list of candidate
// models based on the modalities the request carries.
//
// Resolution is a pure function of the request and the registry: the same
// inputs always produce the same candidates in the same order.
//
// # Key Types
//
//   - Router: wraps a registry and resolves requests
//   - Decision: the requested id, required modalities, and ordered candidates
//   - Mode: Explicit (named model, no failover) or Auto (capability-based)
//
// # Usage
//
//	r := router.New(reg)
//	decision, err := r.Resolve("auto", required)
//	for _, c := range decision.Candidates {
//	    // try c in order
//	}
//
// # Rules
//
// An explicit model id yields exactly one candidate, or IncapableModel when
// the model lacks a required modality. A request is never silently routed to
// a model that cannot see its attachments.
package router
