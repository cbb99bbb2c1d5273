// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxResponseSize caps the search response body.
const MaxResponseSize = 2 * 1024 * 1024

// SearXNG queries a SearXNG instance's JSON API.
type SearXNG struct {
	endpoint   string
	httpClient *http.Client
}

// NewSearXNG creates a client for the instance at endpoint
// (e.g. "http://localhost:8888").
func NewSearXNG(endpoint string, timeout time.Duration) *SearXNG {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SearXNG{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient replaces the HTTP client.
func (s *SearXNG) WithHTTPClient(c *http.Client) *SearXNG {
	s.httpClient = c
	return s
}

type searxngResponse struct {
	Query   string `json:"query"`
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements Searcher.
func (s *SearXNG) Search(ctx context.Context, query string) (Result, error) {
	u := s.endpoint + "/search?" + url.Values{
		"q":      {query},
		"format": {"json"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("search backend returned HTTP %d", resp.StatusCode)
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("failed to parse search response: %w", err)
	}

	out := Result{Query: query, Snippets: make([]Snippet, 0, len(parsed.Results))}
	for _, r := range parsed.Results {
		if strings.TrimSpace(r.Content) == "" && strings.TrimSpace(r.Title) == "" {
			continue
		}
		out.Snippets = append(out.Snippets, Snippet{
			Source: r.URL,
			Title:  r.Title,
			Text:   r.Content,
			Score:  r.Score,
		})
	}
	return out, nil
}
