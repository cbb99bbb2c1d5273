// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBudgetChars bounds the rendered context prefix.
	DefaultBudgetChars = 4000

	// MinBudgetChars leaves room for the header and a truncated snippet;
	// smaller budgets would search and then drop every result.
	MinBudgetChars = 256

	// DefaultMaxSnippets bounds the snippets considered.
	DefaultMaxSnippets = 5

	// DefaultTimeout bounds the single search call.
	DefaultTimeout = 8 * time.Second
)

// Config configures a Decider.
type Config struct {
	BudgetChars int
	MaxSnippets int
	Timeout     time.Duration
}

// =============================================================================
// DECIDER
// =============================================================================

// Decider applies the search policy. It is safe for concurrent use.
type Decider struct {
	searcher  Searcher
	predicate Predicate
	cfg       Config
	logger    *slog.Logger
}

// NewDecider creates a Decider. A nil searcher makes every positive decision
// fail as unavailable; a nil predicate never searches without an explicit flag.
func NewDecider(searcher Searcher, predicate Predicate, cfg Config, logger *slog.Logger) *Decider {
	if cfg.BudgetChars <= 0 {
		cfg.BudgetChars = DefaultBudgetChars
	} else if cfg.BudgetChars < MinBudgetChars {
		cfg.BudgetChars = MinBudgetChars
	}
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = DefaultMaxSnippets
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Decider{searcher: searcher, predicate: predicate, cfg: cfg, logger: logger}
}

// ShouldSearch applies the policy: an explicit flag is authoritative, an
// absent flag defers to the predicate.
func (d *Decider) ShouldSearch(flag *bool, text string) bool {
	if flag != nil {
		return *flag
	}
	if d.predicate == nil {
		return false
	}
	return d.predicate.ShouldSearch(text)
}

// Augment decides and, on a positive decision, issues exactly one search call.
// It never returns an error; failures are reported in the Augmentation.
func (d *Decider) Augment(ctx context.Context, flag *bool, text string) Augmentation {
	query := strings.TrimSpace(text)
	if !d.ShouldSearch(flag, query) {
		return Augmentation{}
	}
	aug := Augmentation{Decided: true, Query: query}

	if d.searcher == nil {
		aug.Err = errs.E(errs.KindSearchUnavailable, "search.Augment", "no search backend configured")
		d.logger.WarnContext(ctx, "SEARCH_UNAVAILABLE", "reason", "not_configured")
		return aug
	}
	if query == "" {
		aug.Err = errs.E(errs.KindSearchUnavailable, "search.Augment", "empty query")
		return aug
	}

	sctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := d.searcher.Search(sctx, query)
	if err != nil {
		aug.Err = errs.Wrap(errs.KindSearchUnavailable, "search.Augment", err)
		d.logger.WarnContext(ctx, "SEARCH_UNAVAILABLE",
			"error", err.Error(),
			"latency_ms", time.Since(start).Milliseconds())
		return aug
	}

	aug.Performed = true
	aug.Context, aug.Snippets, aug.Dropped = Merge(query, res.Snippets, d.cfg.MaxSnippets, d.cfg.BudgetChars)
	d.logger.InfoContext(ctx, "SEARCH_COMPLETE",
		"results", len(res.Snippets),
		"used", len(aug.Snippets),
		"dropped", aug.Dropped,
		"latency_ms", time.Since(start).Milliseconds())
	return aug
}

// =============================================================================
// MERGE
// =============================================================================

// Merge ranks snippets by score (stable for ties), keeps at most maxSnippets,
// and renders them as a context prefix of at most budget runes. Lowest-ranked
// snippets are dropped first; if the best snippet alone exceeds the budget its
// text is truncated. It returns the prefix, the snippets used, and the number
// dropped.
func Merge(query string, snippets []Snippet, maxSnippets, budget int) (string, []Snippet, int) {
	if len(snippets) == 0 || budget <= 0 {
		return "", nil, len(snippets)
	}

	ranked := make([]Snippet, len(snippets))
	copy(ranked, snippets)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	dropped := 0
	if maxSnippets > 0 && len(ranked) > maxSnippets {
		dropped = len(ranked) - maxSnippets
		ranked = ranked[:maxSnippets]
	}

	for len(ranked) > 1 && util.RuneLen(render(query, ranked)) > budget {
		ranked = ranked[:len(ranked)-1]
		dropped++
	}

	out := render(query, ranked)
	if over := util.RuneLen(out) - budget; over > 0 {
		top := ranked[0]
		keep := util.RuneLen(top.Text) - over
		if keep <= 0 {
			return "", nil, dropped + 1
		}
		top.Text = util.TruncateRunes(top.Text, keep)
		ranked = []Snippet{top}
		out = render(query, ranked)
	}
	return out, ranked, dropped
}

func render(query string, snippets []Snippet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for %q:\n", query)
	for i, s := range snippets {
		fmt.Fprintf(&b, "[%d] %s", i+1, s.Title)
		if s.Source != "" {
			fmt.Fprintf(&b, " (%s)", s.Source)
		}
		b.WriteString("\n")
		b.WriteString(s.Text)
		b.WriteString("\n")
	}
	return b.String()
}
