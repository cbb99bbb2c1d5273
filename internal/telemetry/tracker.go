// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeranaias/modelgate/internal/dispatch"
	"github.com/jeranaias/modelgate/internal/util"
)

// DefaultRecentOutcomes is the ring size when NewTracker gets zero.
const DefaultRecentOutcomes = 50

// =============================================================================
// TRACKER
// =============================================================================

// Tracker aggregates dispatch outcomes and HTTP request counts. It
// implements dispatch.Recorder and is safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	started   time.Time
	providers map[string]*ProviderStats
	requests  RequestCounters
	outcomes  OutcomeCounters

	recent []dispatch.Outcome
	next   int
	full   bool
}

// ProviderStats aggregates attempts against one provider.
type ProviderStats struct {
	ProviderID       string        `json:"provider_id"`
	Attempts         int           `json:"attempts"`
	Successes        int           `json:"successes"`
	Failures         int           `json:"failures"`
	TransientErrors  int           `json:"transient_errors"`
	TotalLatency     time.Duration `json:"-"`
	AvgLatencyMs     int64         `json:"avg_latency_ms"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	LastError        string        `json:"last_error,omitempty"`
	LastSeen         time.Time     `json:"last_seen"`
}

// RequestCounters counts HTTP responses by class.
type RequestCounters struct {
	Total       int64 `json:"total"`
	Success     int64 `json:"success"`
	ClientError int64 `json:"client_error"`
	ServerError int64 `json:"server_error"`
}

// OutcomeCounters counts dispatches by result.
type OutcomeCounters struct {
	Dispatches int64            `json:"dispatches"`
	Succeeded  int64            `json:"succeeded"`
	Failed     int64            `json:"failed"`
	ByKind     map[string]int64 `json:"by_error_kind,omitempty"`
}

// Snapshot is a point-in-time copy of the tracker.
type Snapshot struct {
	Started   time.Time          `json:"started"`
	Uptime    string             `json:"uptime"`
	Requests  RequestCounters    `json:"requests"`
	Outcomes  OutcomeCounters    `json:"outcomes"`
	Providers []ProviderStats    `json:"providers"`
	Recent    []dispatch.Outcome `json:"recent,omitempty"`
}

// NewTracker creates a tracker keeping the last recent outcomes.
func NewTracker(recent int) *Tracker {
	if recent <= 0 {
		recent = DefaultRecentOutcomes
	}
	return &Tracker{
		started:   time.Now(),
		providers: make(map[string]*ProviderStats),
		outcomes:  OutcomeCounters{ByKind: make(map[string]int64)},
		recent:    make([]dispatch.Outcome, recent),
	}
}

// =============================================================================
// RECORDING
// =============================================================================

// Record implements dispatch.Recorder.
func (t *Tracker) Record(o dispatch.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.outcomes.Dispatches++
	if o.Success {
		t.outcomes.Succeeded++
	} else {
		t.outcomes.Failed++
		if o.ErrorKind != "" {
			t.outcomes.ByKind[o.ErrorKind]++
		}
	}

	last := len(o.Attempts) - 1
	for i, a := range o.Attempts {
		ps := t.provider(a.ProviderID)
		ps.Attempts++
		ps.TotalLatency += a.Latency
		ps.AvgLatencyMs = (ps.TotalLatency / time.Duration(ps.Attempts)).Milliseconds()
		ps.LastSeen = o.Started.Add(o.Latency)
		switch {
		case a.Error == "" && o.Success && i == last:
			ps.Successes++
		case a.Error != "":
			ps.Failures++
			ps.LastError = a.Error
			if a.Transient {
				ps.TransientErrors++
			}
		}
	}

	t.recent[t.next] = o
	t.next = (t.next + 1) % len(t.recent)
	if t.next == 0 {
		t.full = true
	}
}

// RecordUsage adds token usage reported by a provider.
func (t *Tracker) RecordUsage(providerID string, promptTokens, completionTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps := t.provider(providerID)
	ps.PromptTokens += promptTokens
	ps.CompletionTokens += completionTokens
}

// ObserveRequest counts one HTTP response by status.
func (t *Tracker) ObserveRequest(status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests.Total++
	switch {
	case status >= 500:
		t.requests.ServerError++
	case status >= 400:
		t.requests.ClientError++
	default:
		t.requests.Success++
	}
}

// provider returns the stats entry, creating it. Caller holds mu.
func (t *Tracker) provider(id string) *ProviderStats {
	ps, ok := t.providers[id]
	if !ok {
		ps = &ProviderStats{ProviderID: id}
		t.providers[id] = ps
	}
	return ps
}

// =============================================================================
// READING
// =============================================================================

// Snapshot returns a copy of the current state. Providers are sorted by id;
// recent outcomes are newest first.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Started:  t.started,
		Uptime:   time.Since(t.started).Round(time.Second).String(),
		Requests: t.requests,
		Outcomes: OutcomeCounters{
			Dispatches: t.outcomes.Dispatches,
			Succeeded:  t.outcomes.Succeeded,
			Failed:     t.outcomes.Failed,
			ByKind:     make(map[string]int64, len(t.outcomes.ByKind)),
		},
		Providers: make([]ProviderStats, 0, len(t.providers)),
	}
	for k, v := range t.outcomes.ByKind {
		snap.Outcomes.ByKind[k] = v
	}
	for _, ps := range t.providers {
		snap.Providers = append(snap.Providers, *ps)
	}
	sort.Slice(snap.Providers, func(i, j int) bool {
		return snap.Providers[i].ProviderID < snap.Providers[j].ProviderID
	})

	n := t.next
	if t.full {
		n = len(t.recent)
	}
	snap.Recent = make([]dispatch.Outcome, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + len(t.recent)) % len(t.recent)
		snap.Recent = append(snap.Recent, t.recent[idx])
	}
	return snap
}

// SaveSnapshot writes the current snapshot as JSON to path atomically.
func (t *Tracker) SaveSnapshot(path string) error {
	data, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}
