// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/export"
	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/registry"
	"github.com/jeranaias/modelgate/internal/storage"
)

// CreateSessionRequest is the body of POST /v1/sessions.
type CreateSessionRequest struct {
	Title string `json:"title,omitempty"`
	Model string `json:"model,omitempty"`
}

// RenameSessionRequest is the body of PATCH /v1/sessions/{id}.
type RenameSessionRequest struct {
	Title string `json:"title"`
}

// SessionsResponse is the body of GET /v1/sessions.
type SessionsResponse struct {
	Sessions []model.Session `json:"sessions"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// TurnsResponse is the body of GET /v1/sessions/{id}/turns.
type TurnsResponse struct {
	SessionID string       `json:"session_id"`
	Turns     []model.Turn `json:"turns"`
}

// SearchResponse is the body of GET /v1/turns/search.
type SearchResponse struct {
	Query   string              `json:"query"`
	Matches []storage.TurnMatch `json:"matches"`
}

// handleCreateSession handles POST /v1/sessions. An empty body is allowed.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	modelID := strings.TrimSpace(req.Model)
	if modelID != "" && modelID != registry.AutoModelID {
		if _, err := s.registry.Lookup(modelID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	sess, err := s.store.CreateSession(r.Context(), req.Title, modelID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+sess.ID)
	s.writeJSON(w, http.StatusCreated, sess)
}

// handleListSessions handles GET /v1/sessions?limit&offset&archived=true.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	const op = "server.ListSessions"
	q := r.URL.Query()

	limit, err := intParam(op, q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := intParam(op, q.Get("offset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var archived bool
	if v := q.Get("archived"); v != "" {
		if archived, err = strconv.ParseBool(v); err != nil {
			s.writeError(w, r, errs.E(errs.KindInvalidInput, op, "archived must be a boolean"))
			return
		}
	}

	sessions, err := s.store.ListSessions(r.Context(), storage.ListOptions{
		Limit:           limit,
		Offset:          offset,
		IncludeArchived: archived,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	s.writeJSON(w, http.StatusOK, SessionsResponse{Sessions: sessions, Limit: limit, Offset: offset})
}

// handleGetSession handles GET /v1/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sess.Turns == nil {
		sess.Turns = []model.Turn{}
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// handleRenameSession handles PATCH /v1/sessions/{id}.
func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req RenameSessionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.store.RenameSession(r.Context(), r.PathValue("id"), req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// handleArchiveSession handles POST /v1/sessions/{id}/archive.
func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.ArchiveSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// handleDeleteSession handles DELETE /v1/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.DeleteSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

// handleListTurns handles GET /v1/sessions/{id}/turns?limit.
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam("server.ListTurns", r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	turns, err := s.store.ListTurns(r.Context(), id, storage.TurnOptions{Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	s.writeJSON(w, http.StatusOK, TurnsResponse{SessionID: id, Turns: turns})
}

// handleExportSession handles GET /v1/sessions/{id}/export?format=markdown|json.
// The transcript is sent as an attachment download.
func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	exp, err := export.For(r.URL.Query().Get("format"), nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	content, err := exp.Export(sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", exp.MimeType())
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": export.Filename(sess, exp)}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		s.logger.DebugContext(r.Context(), "EXPORT_WRITE_FAILED", "session_id", sess.ID, "error", err)
	}
}

// handleSearchTurns handles GET /v1/turns/search?q&session_id&limit.
func (s *Server) handleSearchTurns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam("server.SearchTurns", q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	matches, err := s.store.SearchTurns(r.Context(), storage.SearchQuery{
		Text:      q.Get("q"),
		SessionID: q.Get("session_id"),
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []storage.TurnMatch{}
	}
	s.writeJSON(w, http.StatusOK, SearchResponse{Query: q.Get("q"), Matches: matches})
}

// intParam parses an optional non-negative integer query parameter.
func intParam(op, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.E(errs.KindInvalidInput, op, "invalid integer parameter %q", raw)
	}
	return n, nil
}
