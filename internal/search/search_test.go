// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/util"
)

// countingSearcher records calls and returns a canned result or error.
type countingSearcher struct {
	calls  atomic.Int32
	result Result
	err    error
}

func (c *countingSearcher) Search(_ context.Context, q string) (Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return Result{}, c.err
	}
	r := c.result
	r.Query = q
	return r, nil
}

func boolPtr(b bool) *bool { return &b }

var always = PredicateFunc(func(string) bool { return true })
var never = PredicateFunc(func(string) bool { return false })

// =============================================================================
// POLICY
// =============================================================================

func TestShouldSearch_ExplicitFlagIsAuthoritative(t *testing.T) {
	d := NewDecider(nil, always, Config{}, nil)
	assert.False(t, d.ShouldSearch(boolPtr(false), "latest news"))

	d = NewDecider(nil, never, Config{}, nil)
	assert.True(t, d.ShouldSearch(boolPtr(true), "hello"))
}

func TestShouldSearch_AbsentFlagDefersToPredicate(t *testing.T) {
	assert.True(t, NewDecider(nil, always, Config{}, nil).ShouldSearch(nil, "x"))
	assert.False(t, NewDecider(nil, never, Config{}, nil).ShouldSearch(nil, "x"))
	assert.False(t, NewDecider(nil, nil, Config{}, nil).ShouldSearch(nil, "x"))
}

func TestAugment_ExactlyOneCallWhenEnabled(t *testing.T) {
	s := &countingSearcher{result: Result{Snippets: []Snippet{{Title: "t", Text: "fresh fact", Score: 1}}}}
	d := NewDecider(s, never, Config{}, nil)

	aug := d.Augment(context.Background(), boolPtr(true), "what happened today")
	assert.Equal(t, int32(1), s.calls.Load())
	assert.True(t, aug.Performed)
	assert.Contains(t, aug.Context, "fresh fact")
}

func TestAugment_NoCallWhenDisabled(t *testing.T) {
	s := &countingSearcher{}
	d := NewDecider(s, always, Config{}, nil)

	aug := d.Augment(context.Background(), boolPtr(false), "latest news")
	assert.Equal(t, int32(0), s.calls.Load())
	assert.False(t, aug.Decided)
	assert.False(t, aug.Performed)
	assert.Empty(t, aug.Context)
}

func TestAugment_FailureIsSwallowed(t *testing.T) {
	s := &countingSearcher{err: errors.New("connection refused")}
	d := NewDecider(s, nil, Config{}, nil)

	aug := d.Augment(context.Background(), boolPtr(true), "weather in Paris")
	assert.Equal(t, int32(1), s.calls.Load())
	assert.True(t, aug.Decided)
	assert.False(t, aug.Performed)
	assert.Empty(t, aug.Context)
	assert.True(t, errors.Is(aug.Err, errs.ErrSearchUnavailable))
}

func TestAugment_NoBackendConfigured(t *testing.T) {
	d := NewDecider(nil, nil, Config{}, nil)
	aug := d.Augment(context.Background(), boolPtr(true), "x")
	assert.False(t, aug.Performed)
	assert.True(t, errors.Is(aug.Err, errs.ErrSearchUnavailable))
}

// =============================================================================
// MERGE
// =============================================================================

func TestMerge_RanksByScore(t *testing.T) {
	out, used, dropped := Merge("q", []Snippet{
		{Title: "low", Text: "l", Score: 0.1},
		{Title: "high", Text: "h", Score: 0.9},
		{Title: "mid", Text: "m", Score: 0.5},
	}, 10, 10000)

	require.Len(t, used, 3)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, []string{"high", "mid", "low"}, []string{used[0].Title, used[1].Title, used[2].Title})
	assert.Less(t, strings.Index(out, "high"), strings.Index(out, "low"))
}

func TestMerge_DropsLowestRankedFirst(t *testing.T) {
	snippets := []Snippet{
		{Title: "best", Text: strings.Repeat("a", 100), Score: 3},
		{Title: "good", Text: strings.Repeat("b", 100), Score: 2},
		{Title: "worst", Text: strings.Repeat("c", 100), Score: 1},
	}
	out, used, dropped := Merge("q", snippets, 10, 300)

	assert.LessOrEqual(t, util.RuneLen(out), 300)
	assert.Equal(t, 1, dropped)
	require.Len(t, used, 2)
	assert.Equal(t, "best", used[0].Title)
	assert.Equal(t, "good", used[1].Title)
	assert.NotContains(t, out, "worst")
}

func TestMerge_TruncatesTopSnippetWhenAloneTooLong(t *testing.T) {
	out, used, _ := Merge("q", []Snippet{{Title: "only", Text: strings.Repeat("x", 1000), Score: 1}}, 10, 200)
	assert.Equal(t, 200, util.RuneLen(out))
	require.Len(t, used, 1)
	assert.True(t, strings.HasSuffix(used[0].Text, "..."))
}

func TestMerge_MaxSnippets(t *testing.T) {
	_, used, dropped := Merge("q", []Snippet{{Score: 1}, {Score: 2}, {Score: 3}}, 2, 10000)
	assert.Len(t, used, 2)
	assert.Equal(t, 1, dropped)
}

func TestNewDecider_BudgetFloor(t *testing.T) {
	assert.Equal(t, MinBudgetChars, NewDecider(nil, nil, Config{BudgetChars: 10}, nil).cfg.BudgetChars)
	assert.Equal(t, DefaultBudgetChars, NewDecider(nil, nil, Config{}, nil).cfg.BudgetChars)

	// At the floor a long top snippet is truncated, never dropped outright.
	s := &countingSearcher{result: Result{Snippets: []Snippet{{
		Title: "Long", Source: "https://example.org/long", Text: strings.Repeat("word ", 200), Score: 1,
	}}}}
	d := NewDecider(s, nil, Config{BudgetChars: 1}, nil)
	aug := d.Augment(context.Background(), boolPtr(true), "what is new")
	require.True(t, aug.Performed)
	require.Len(t, aug.Snippets, 1)
	assert.NotEmpty(t, aug.Context)
	assert.LessOrEqual(t, util.RuneLen(aug.Context), MinBudgetChars)
}

func TestMerge_Empty(t *testing.T) {
	out, used, dropped := Merge("q", nil, 5, 100)
	assert.Empty(t, out)
	assert.Nil(t, used)
	assert.Zero(t, dropped)
}

// =============================================================================
// PREDICATE
// =============================================================================

func TestFreshnessPredicate(t *testing.T) {
	p := NewFreshnessPredicate(nil)
	p.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		text string
		want bool
	}{
		{"What's the LATEST iPhone?", true},
		{"今天北京天气怎么样", true},
		{"who won the 2025 final", true},
		{"summarize the 1998 report", false},
		{"explain recursion", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, p.ShouldSearch(tc.text))
		})
	}
}

func TestFreshnessPredicate_CustomCues(t *testing.T) {
	p := NewFreshnessPredicate([]string{"Exchange Rate"})
	assert.True(t, p.ShouldSearch("usd exchange rate?"))
	assert.False(t, p.ShouldSearch("latest news"))
}

// =============================================================================
// SEARXNG
// =============================================================================

func TestSearXNG_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "go 1.24 release", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":"go 1.24 release","results":[
			{"url":"https://go.dev/blog","title":"Go 1.24","content":"released in February","score":2.5},
			{"url":"https://x","title":"","content":"","score":1}
		]}`))
	}))
	defer srv.Close()

	res, err := NewSearXNG(srv.URL+"/", time.Second).Search(context.Background(), "go 1.24 release")
	require.NoError(t, err)
	require.Len(t, res.Snippets, 1)
	assert.Equal(t, "https://go.dev/blog", res.Snippets[0].Source)
	assert.Equal(t, 2.5, res.Snippets[0].Score)
}

func TestSearXNG_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "bad-json" {
			w.Write([]byte("<html>"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewSearXNG(srv.URL, time.Second)
	_, err := c.Search(context.Background(), "down")
	assert.Error(t, err)
	_, err = c.Search(context.Background(), "bad-json")
	assert.Error(t, err)
}
