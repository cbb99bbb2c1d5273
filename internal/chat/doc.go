// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates one chat request end to end.
//
// A request flows through the normalizer, the router, the search decider and
// the dispatch executor, then the answer is composed with its provenance and
// persisted. Routing and validation failures surface before any session is
// created or provider called. Store failures never lose an answer: the
// response carries Persisted=false instead.
package chat
