// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package search decides whether a chat request should be augmented with live
// web results, performs at most one search call, and merges the snippets into
// a context prefix that fits a character budget.
//
// # Key Types
//
//   - Decider: applies the explicit flag or the heuristic, then searches
//   - Predicate: pluggable freshness heuristic (FreshnessPredicate by default)
//   - Searcher: backend interface (SearXNG ships by default)
//   - Augmentation: what happened and the rendered context
//
// # Failure Model
//
// Search never fails a chat request. A backend error yields an Augmentation
// with Performed=false and the error recorded for logging.
package search
