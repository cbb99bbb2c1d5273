// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DefaultFreshnessCues are phrases that suggest the answer depends on
// current information. English and Chinese cues are included because the
// deployed user base asks in both.
var DefaultFreshnessCues = []string{
	"today", "tonight", "yesterday", "this week", "this month", "this year",
	"latest", "current", "currently", "right now", "recent", "recently",
	"news", "breaking", "update", "weather", "forecast", "price", "stock",
	"score", "release date", "who won",
	"今天", "昨天", "最新", "最近", "现在", "目前", "新闻", "天气", "价格", "股价",
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// FreshnessPredicate flags text that mentions a freshness cue or a recent
// year (the current year or the previous one).
//
// Tolerance: a false positive costs one extra search call; a false negative
// only loses freshness. Neither fails the request, so the cue list can be
// tuned freely in configuration.
type FreshnessPredicate struct {
	cues []string
	now  func() time.Time
}

// NewFreshnessPredicate builds a predicate from cues, or
// DefaultFreshnessCues when cues is empty.
func NewFreshnessPredicate(cues []string) *FreshnessPredicate {
	if len(cues) == 0 {
		cues = DefaultFreshnessCues
	}
	folder := cases.Fold()
	folded := make([]string, 0, len(cues))
	for _, c := range cues {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		folded = append(folded, folder.String(c))
	}
	return &FreshnessPredicate{cues: folded, now: time.Now}
}

// ShouldSearch implements Predicate.
func (p *FreshnessPredicate) ShouldSearch(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	// A Caser is stateful and not safe for concurrent use.
	folded := cases.Fold().String(text)
	for _, c := range p.cues {
		if strings.Contains(folded, c) {
			return true
		}
	}

	year := p.now().Year()
	for _, m := range yearPattern.FindAllString(text, -1) {
		y, err := strconv.Atoi(m)
		if err == nil && y >= year-1 {
			return true
		}
	}
	return false
}
