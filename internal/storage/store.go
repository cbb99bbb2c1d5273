// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultListLimit applies when ListOptions.Limit is zero.
	DefaultListLimit = 50

	// MaxListLimit caps ListOptions.Limit.
	MaxListLimit = 500

	// DefaultSearchLimit applies when SearchQuery.Limit is zero.
	DefaultSearchLimit = 20

	// MaxTitleLength caps session titles, in runes.
	MaxTitleLength = 200
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists sessions and their turns.
type Store interface {
	CreateSession(ctx context.Context, title, modelID string) (*model.Session, error)
	AppendTurn(ctx context.Context, sessionID string, turn model.Turn) (*model.Turn, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListTurns(ctx context.Context, sessionID string, opts TurnOptions) ([]model.Turn, error)
	RenameSession(ctx context.Context, id, title string) (*model.Session, error)
	ArchiveSession(ctx context.Context, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) (*model.Session, error)
	SearchTurns(ctx context.Context, q SearchQuery) ([]TurnMatch, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// ListOptions pages through sessions.
type ListOptions struct {
	Limit           int
	Offset          int
	IncludeArchived bool
}

// TurnOptions limits ListTurns to the most recent Limit turns (0 = all).
type TurnOptions struct {
	Limit int
}

// SearchQuery is a case-insensitive substring search over turn text.
type SearchQuery struct {
	Text      string
	SessionID string // optional; empty searches every session
	Limit     int
}

// TurnMatch is a search hit.
type TurnMatch struct {
	Turn         model.Turn `json:"turn"`
	SessionTitle string     `json:"session_title"`
}

// Stats summarizes the store contents.
type Stats struct {
	Sessions         int `json:"sessions"`
	ArchivedSessions int `json:"archived_sessions"`
	Turns            int `json:"turns"`
	SessionsToday    int `json:"sessions_today"`
	TurnsToday       int `json:"turns_today"`
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// DefaultTitle names a session created without a title.
func DefaultTitle(now time.Time) string {
	return "Conversation " + now.Format("2006-01-02 15:04")
}

func normalizeTitle(op, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errs.E(errs.KindInvalidInput, op, "title must not be empty")
	}
	if r := []rune(title); len(r) > MaxTitleLength {
		title = string(r[:MaxTitleLength])
	}
	return title, nil
}

func validateTurn(op string, turn model.Turn) error {
	if !turn.Role.Valid() {
		return errs.E(errs.KindInvalidInput, op, "invalid role %q", turn.Role)
	}
	return nil
}

func normalizeListOptions(opts ListOptions) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

func normalizeSearchQuery(op string, q SearchQuery) (SearchQuery, string, error) {
	folded := foldText(strings.TrimSpace(q.Text))
	if folded == "" {
		return q, "", errs.E(errs.KindInvalidInput, op, "search text must not be empty")
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	return q, folded, nil
}

// foldText case-folds and NFC-normalizes s for substring matching.
func foldText(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// startOfDay returns local midnight for t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func notFound(op, id string) error {
	return errs.E(errs.KindNotFound, op, "session %q not found", id)
}

func archived(op, id string) error {
	return errs.E(errs.KindConflict, op, "session %q is archived", id)
}

// =============================================================================
// KEYED LOCKS
// =============================================================================

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
