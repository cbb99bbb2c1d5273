// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/modelgate/internal/model"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore keeps sessions in process memory. The map lock only guards
// membership; each session carries its own lock, so appends to different
// sessions do not contend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession

	// tick orders mutations: session recency and global turn order.
	tick atomic.Int64
	now  func() time.Time
}

type memSession struct {
	mu      sync.RWMutex
	meta    model.Session
	turns   []memTurn
	touched int64
	deleted bool
}

type memTurn struct {
	turn   model.Turn
	order  int64
	folded string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
		now:      time.Now,
	}
}

func (s *MemoryStore) lookup(id string) *memSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// CreateSession implements Store.
func (s *MemoryStore) CreateSession(ctx context.Context, title, modelID string) (*model.Session, error) {
	now := s.now()
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle(now)
	}
	title, err := normalizeTitle("storage.CreateSession", title)
	if err != nil {
		return nil, err
	}

	rec := &memSession{
		meta: model.Session{
			ID:        uuid.NewString(),
			Title:     title,
			Model:     modelID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		touched: s.tick.Add(1),
	}

	s.mu.Lock()
	s.sessions[rec.meta.ID] = rec
	s.mu.Unlock()

	out := rec.meta
	return &out, nil
}

// AppendTurn implements Store.
func (s *MemoryStore) AppendTurn(ctx context.Context, sessionID string, turn model.Turn) (*model.Turn, error) {
	const op = "storage.AppendTurn"
	if err := validateTurn(op, turn); err != nil {
		return nil, err
	}

	rec := s.lookup(sessionID)
	if rec == nil {
		return nil, notFound(op, sessionID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, notFound(op, sessionID)
	}
	if rec.meta.Archived {
		return nil, archived(op, sessionID)
	}

	now := s.now()
	t := turn.Clone()
	for i := range t.Attachments {
		t.Attachments[i].Payload = nil
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.SessionID = sessionID
	t.Seq = int64(len(rec.turns)) + 1
	t.CreatedAt = now

	tick := s.tick.Add(1)
	rec.turns = append(rec.turns, memTurn{turn: t, order: tick, folded: foldText(t.Text)})
	rec.meta.TurnCount = len(rec.turns)
	rec.meta.UpdatedAt = now
	if t.Role == model.RoleAssistant && t.ModelID != "" {
		rec.meta.Model = t.ModelID
	}
	rec.touched = tick

	out := t.Clone()
	return &out, nil
}

// ListSessions implements Store.
func (s *MemoryStore) ListSessions(ctx context.Context, opts ListOptions) ([]model.Session, error) {
	opts = normalizeListOptions(opts)

	type entry struct {
		meta    model.Session
		touched int64
	}

	s.mu.RLock()
	recs := make([]*memSession, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	entries := make([]entry, 0, len(recs))
	for _, rec := range recs {
		rec.mu.RLock()
		if !rec.deleted && (opts.IncludeArchived || !rec.meta.Archived) {
			entries = append(entries, entry{meta: rec.meta, touched: rec.touched})
		}
		rec.mu.RUnlock()
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].touched > entries[j].touched
	})

	if opts.Offset >= len(entries) {
		return []model.Session{}, nil
	}
	entries = entries[opts.Offset:]
	if len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	out := make([]model.Session, len(entries))
	for i, e := range entries {
		out[i] = e.meta
	}
	return out, nil
}

// GetSession implements Store.
func (s *MemoryStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	rec := s.lookup(id)
	if rec == nil {
		return nil, notFound("storage.GetSession", id)
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if rec.deleted {
		return nil, notFound("storage.GetSession", id)
	}
	return rec.snapshot(0), nil
}

// snapshot copies the session with its last limit turns (0 = all). Caller
// holds rec.mu.
func (rec *memSession) snapshot(limit int) *model.Session {
	out := rec.meta
	turns := rec.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out.Turns = make([]model.Turn, len(turns))
	for i, t := range turns {
		out.Turns[i] = t.turn.Clone()
	}
	return &out
}

// ListTurns implements Store.
func (s *MemoryStore) ListTurns(ctx context.Context, sessionID string, opts TurnOptions) ([]model.Turn, error) {
	rec := s.lookup(sessionID)
	if rec == nil {
		return nil, notFound("storage.ListTurns", sessionID)
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if rec.deleted {
		return nil, notFound("storage.ListTurns", sessionID)
	}
	return rec.snapshot(opts.Limit).Turns, nil
}

// RenameSession implements Store. Renaming to the current title is a no-op.
func (s *MemoryStore) RenameSession(ctx context.Context, id, title string) (*model.Session, error) {
	const op = "storage.RenameSession"
	title, err := normalizeTitle(op, title)
	if err != nil {
		return nil, err
	}
	return s.mutate(op, id, func(rec *memSession) bool {
		if rec.meta.Title == title {
			return false
		}
		rec.meta.Title = title
		return true
	})
}

// ArchiveSession implements Store. Archiving twice is a no-op.
func (s *MemoryStore) ArchiveSession(ctx context.Context, id string) (*model.Session, error) {
	return s.mutate("storage.ArchiveSession", id, func(rec *memSession) bool {
		if rec.meta.Archived {
			return false
		}
		rec.meta.Archived = true
		return true
	})
}

// mutate applies fn under the session lock and bumps recency when fn reports
// a change.
func (s *MemoryStore) mutate(op, id string, fn func(*memSession) bool) (*model.Session, error) {
	rec := s.lookup(id)
	if rec == nil {
		return nil, notFound(op, id)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, notFound(op, id)
	}
	if fn(rec) {
		rec.meta.UpdatedAt = s.now()
		rec.touched = s.tick.Add(1)
	}
	out := rec.meta
	return &out, nil
}

// DeleteSession implements Store.
func (s *MemoryStore) DeleteSession(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	rec, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil, notFound("storage.DeleteSession", id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.deleted = true
	out := rec.meta
	return &out, nil
}

// SearchTurns implements Store.
func (s *MemoryStore) SearchTurns(ctx context.Context, q SearchQuery) ([]TurnMatch, error) {
	const op = "storage.SearchTurns"
	q, folded, err := normalizeSearchQuery(op, q)
	if err != nil {
		return nil, err
	}

	var recs []*memSession
	if q.SessionID != "" {
		rec := s.lookup(q.SessionID)
		if rec == nil {
			return nil, notFound(op, q.SessionID)
		}
		recs = []*memSession{rec}
	} else {
		s.mu.RLock()
		for _, rec := range s.sessions {
			recs = append(recs, rec)
		}
		s.mu.RUnlock()
	}

	type hit struct {
		match TurnMatch
		order int64
	}
	var hits []hit
	for _, rec := range recs {
		rec.mu.RLock()
		if !rec.deleted {
			for _, t := range rec.turns {
				if strings.Contains(t.folded, folded) {
					hits = append(hits, hit{
						match: TurnMatch{Turn: t.turn.Clone(), SessionTitle: rec.meta.Title},
						order: t.order,
					})
				}
			}
		}
		rec.mu.RUnlock()
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].order > hits[j].order })
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]TurnMatch, len(hits))
	for i, h := range hits {
		out[i] = h.match
	}
	return out, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	today := startOfDay(s.now())

	s.mu.RLock()
	recs := make([]*memSession, 0, len(s.sessions))
	for _, rec := range s.sessions {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	var st Stats
	for _, rec := range recs {
		rec.mu.RLock()
		if rec.meta.Archived {
			st.ArchivedSessions++
		} else {
			st.Sessions++
		}
		if !rec.meta.CreatedAt.Before(today) {
			st.SessionsToday++
		}
		st.Turns += len(rec.turns)
		for _, t := range rec.turns {
			if !t.turn.CreatedAt.Before(today) {
				st.TurnsToday++
			}
		}
		rec.mu.RUnlock()
	}
	return st, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
