// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions, turns, and
// attachments.
//
// This package defines the core domain types shared by the normalizer,
// router, dispatch executor, and conversation store.
//
// # Key Types
//
//   - Modality / ModalitySet: the kinds of content a turn carries and a model accepts
//   - Attachment: an uploaded payload, tagged with a modality after normalization
//   - Payload: the decoded bytes behind an attachment, addressed by digest
//   - Turn: one user or assistant message, immutable once appended
//   - Session: an ordered, append-only sequence of turns
//
// # Usage
//
// Compute what a request needs:
//
//	set := model.NewModalitySet(model.ModalityText, model.ModalityImage)
//	if descriptor.Modalities.Covers(set) {
//	    // descriptor can serve the request
//	}
package model
