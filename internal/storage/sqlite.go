// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore persists sessions in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	locks *keyedMutex
	now   func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path. A leading "~/"
// expands to the user's home directory.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection also makes the
	// foreign_keys pragma stick for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO metadata(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(SchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}

	return &SQLiteStore{db: db, path: path, locks: newKeyedMutex(), now: time.Now}, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// unavailable classifies driver errors. Classified errors pass through.
func unavailable(op string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindCanceled, op, err)
	}
	return errs.Wrap(errs.KindStoreUnavailable, op, err)
}

// nextTouch returns the next recency tick. Must run inside the write tx.
func nextTouch(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(touch_seq), 0) + 1 FROM sessions`).Scan(&seq)
	return seq, err
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = `id, title, model, archived, turn_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		sess             model.Session
		archivedFlag     int
		created, updated int64
	)
	if err := row.Scan(&sess.ID, &sess.Title, &sess.Model, &archivedFlag, &sess.TurnCount, &created, &updated); err != nil {
		return nil, err
	}
	sess.Archived = archivedFlag != 0
	sess.CreatedAt = time.Unix(0, created)
	sess.UpdatedAt = time.Unix(0, updated)
	return &sess, nil
}

// CreateSession implements Store.
func (s *SQLiteStore) CreateSession(ctx context.Context, title, modelID string) (*model.Session, error) {
	const op = "storage.CreateSession"
	now := s.now()
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle(now)
	}
	title, err := normalizeTitle(op, title)
	if err != nil {
		return nil, err
	}

	sess := &model.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     modelID,
		CreatedAt: time.Unix(0, now.UnixNano()),
		UpdatedAt: time.Unix(0, now.UnixNano()),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer tx.Rollback()

	touch, err := nextTouch(ctx, tx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, title, model, created_at, updated_at, touch_seq) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Model, now.UnixNano(), now.UnixNano(), touch); err != nil {
		return nil, unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(op, err)
	}
	return sess, nil
}

func (s *SQLiteStore) getSessionRow(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, op, id string) (*model.Session, error) {
	sess, err := scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(op, id)
	}
	if err != nil {
		return nil, unavailable(op, err)
	}
	return sess, nil
}

// ListSessions implements Store.
func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]model.Session, error) {
	const op = "storage.ListSessions"
	opts = normalizeListOptions(opts)

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if !opts.IncludeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY touch_seq DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	out := []model.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

// GetSession implements Store. The session row and its turns are read in one
// transaction so a concurrent append is seen entirely or not at all.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	const op = "storage.GetSession"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer tx.Rollback()

	sess, err := s.getSessionRow(ctx, tx, op, id)
	if err != nil {
		return nil, err
	}
	turns, err := queryTurns(ctx, tx, id, 0)
	if err != nil {
		return nil, unavailable(op, err)
	}
	sess.Turns = turns
	return sess, nil
}

// RenameSession implements Store. Renaming to the current title is a no-op.
func (s *SQLiteStore) RenameSession(ctx context.Context, id, title string) (*model.Session, error) {
	const op = "storage.RenameSession"
	title, err := normalizeTitle(op, title)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, op, id, func(sess *model.Session) (string, []any, bool) {
		if sess.Title == title {
			return "", nil, false
		}
		sess.Title = title
		return `title = ?`, []any{title}, true
	})
}

// ArchiveSession implements Store. Archiving twice is a no-op.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, id string) (*model.Session, error) {
	return s.update(ctx, "storage.ArchiveSession", id, func(sess *model.Session) (string, []any, bool) {
		if sess.Archived {
			return "", nil, false
		}
		sess.Archived = true
		return `archived = 1`, nil, true
	})
}

// update reads the session, lets fn decide the change, and writes it with a
// fresh recency tick. fn returns the SET clause and its args.
func (s *SQLiteStore) update(ctx context.Context, op, id string, fn func(*model.Session) (string, []any, bool)) (*model.Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer tx.Rollback()

	sess, err := s.getSessionRow(ctx, tx, op, id)
	if err != nil {
		return nil, err
	}
	set, args, changed := fn(sess)
	if !changed {
		return sess, nil
	}

	touch, err := nextTouch(ctx, tx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	now := s.now().UnixNano()
	args = append(args, now, touch, id)
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET `+set+`, updated_at = ?, touch_seq = ? WHERE id = ?`, args...); err != nil {
		return nil, unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(op, err)
	}
	sess.UpdatedAt = time.Unix(0, now)
	return sess, nil
}

// DeleteSession implements Store. Turns go with the session through the
// ON DELETE CASCADE constraint, inside one transaction.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (*model.Session, error) {
	const op = "storage.DeleteSession"
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer tx.Rollback()

	sess, err := s.getSessionRow(ctx, tx, op, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return nil, unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(op, err)
	}
	return sess, nil
}

// =============================================================================
// TURNS
// =============================================================================

const turnColumns = `t.id, t.session_id, t.seq, t.role, t.text, t.attachments, t.model_id, t.provider_id, t.created_at`

func scanTurn(row rowScanner, extra ...any) (model.Turn, error) {
	var (
		t       model.Turn
		role    string
		atts    string
		created int64
	)
	dest := append([]any{&t.ID, &t.SessionID, &t.Seq, &role, &t.Text, &atts, &t.ModelID, &t.ProviderID, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Turn{}, err
	}
	t.Role = model.Role(role)
	t.CreatedAt = time.Unix(0, created)
	if atts != "" && atts != "[]" && atts != "null" {
		if err := json.Unmarshal([]byte(atts), &t.Attachments); err != nil {
			return model.Turn{}, fmt.Errorf("corrupt attachments for turn %s: %w", t.ID, err)
		}
	}
	return t, nil
}

// queryTurns returns the session's turns in order, or its last limit turns.
func queryTurns(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, sessionID string, limit int) ([]model.Turn, error) {
	query := `SELECT ` + turnColumns + ` FROM turns t WHERE t.session_id = ? ORDER BY t.seq`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT * FROM (SELECT ` + turnColumns + ` FROM turns t WHERE t.session_id = ? ORDER BY t.seq DESC LIMIT ?) ORDER BY seq`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Turn{}
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendTurn implements Store.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, turn model.Turn) (*model.Turn, error) {
	const op = "storage.AppendTurn"
	if err := validateTurn(op, turn); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer tx.Rollback()

	sess, err := s.getSessionRow(ctx, tx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Archived {
		return nil, archived(op, sessionID)
	}

	t := turn.Clone()
	for i := range t.Attachments {
		t.Attachments[i].Payload = nil
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := s.now()
	t.SessionID = sessionID
	t.Seq = int64(sess.TurnCount) + 1
	t.CreatedAt = time.Unix(0, now.UnixNano())

	atts := []byte("[]")
	if len(t.Attachments) > 0 {
		if atts, err = json.Marshal(t.Attachments); err != nil {
			return nil, errs.Wrap(errs.KindInternal, op, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, seq, role, text, folded, attachments, model_id, provider_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, sessionID, t.Seq, string(t.Role), t.Text, foldText(t.Text), string(atts), t.ModelID, t.ProviderID, now.UnixNano()); err != nil {
		return nil, unavailable(op, err)
	}

	touch, err := nextTouch(ctx, tx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	modelID := sess.Model
	if t.Role == model.RoleAssistant && t.ModelID != "" {
		modelID = t.ModelID
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET turn_count = turn_count + 1, updated_at = ?, touch_seq = ?, model = ? WHERE id = ?`,
		now.UnixNano(), touch, modelID, sessionID); err != nil {
		return nil, unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable(op, err)
	}
	return &t, nil
}

// ListTurns implements Store.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, opts TurnOptions) ([]model.Turn, error) {
	const op = "storage.ListTurns"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer tx.Rollback()

	if _, err := s.getSessionRow(ctx, tx, op, sessionID); err != nil {
		return nil, err
	}
	turns, err := queryTurns(ctx, tx, sessionID, opts.Limit)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return turns, nil
}

// SearchTurns implements Store.
func (s *SQLiteStore) SearchTurns(ctx context.Context, q SearchQuery) ([]TurnMatch, error) {
	const op = "storage.SearchTurns"
	q, folded, err := normalizeSearchQuery(op, q)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + turnColumns + `, s.title FROM turns t JOIN sessions s ON s.id = t.session_id
		WHERE instr(t.folded, ?) > 0`
	args := []any{folded}
	if q.SessionID != "" {
		if _, err := s.getSessionRow(ctx, s.db, op, q.SessionID); err != nil {
			return nil, err
		}
		query += ` AND t.session_id = ?`
		args = append(args, q.SessionID)
	}
	query += ` ORDER BY t.pk DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	out := []TurnMatch{}
	for rows.Next() {
		var m TurnMatch
		t, err := scanTurn(rows, &m.SessionTitle)
		if err != nil {
			return nil, unavailable(op, err)
		}
		m.Turn = t
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

// =============================================================================
// STATS & LIFECYCLE
// =============================================================================

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	const op = "storage.Stats"
	today := startOfDay(s.now()).UnixNano()

	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions WHERE archived = 0),
			(SELECT COUNT(*) FROM sessions WHERE archived = 1),
			(SELECT COUNT(*) FROM turns),
			(SELECT COUNT(*) FROM sessions WHERE created_at >= ?),
			(SELECT COUNT(*) FROM turns WHERE created_at >= ?)`,
		today, today,
	).Scan(&st.Sessions, &st.ArchivedSessions, &st.Turns, &st.SessionsToday, &st.TurnsToday)
	if err != nil {
		return Stats{}, unavailable(op, err)
	}
	return st, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("storage.Ping", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
