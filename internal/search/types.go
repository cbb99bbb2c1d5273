// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
)

// Snippet is a single search hit.
type Snippet struct {
	Source string  `json:"source"`
	Title  string  `json:"title"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// Result is the response to one query.
type Result struct {
	Query    string    `json:"query"`
	Snippets []Snippet `json:"snippets"`
}

// Searcher queries a search backend.
type Searcher interface {
	Search(ctx context.Context, query string) (Result, error)
}

// Predicate decides whether a request without an explicit search flag would
// benefit from fresh results.
type Predicate interface {
	ShouldSearch(text string) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(text string) bool

// ShouldSearch calls f.
func (f PredicateFunc) ShouldSearch(text string) bool {
	return f(text)
}

// Augmentation reports the outcome of the search step.
type Augmentation struct {
	// Decided is true when the flag or heuristic asked for a search.
	Decided bool

	// Performed is true only when the search call succeeded.
	Performed bool

	// Query is the text that was searched.
	Query string

	// Context is the rendered prefix for the provider prompt. Empty unless
	// Performed.
	Context string

	// Snippets are the snippets that made it into Context, best first.
	Snippets []Snippet

	// Dropped counts snippets removed to fit the budget.
	Dropped int

	// Err is the backend failure, if any. It is never returned to the caller.
	Err error
}
