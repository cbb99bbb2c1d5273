// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/modelgate/internal/chat"
	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/registry"
	"github.com/jeranaias/modelgate/internal/storage"
	"github.com/jeranaias/modelgate/internal/telemetry"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the listen address when Options.Addr is empty.
	DefaultAddr = "127.0.0.1:8080"

	// DefaultMaxBodyBytes caps request bodies when Options.MaxBodyBytes is zero.
	DefaultMaxBodyBytes = 32 * 1024 * 1024

	// healthTimeout bounds the store ping of GET /health.
	healthTimeout = 2 * time.Second
)

// ============================================================================
// SERVER
// ============================================================================

// Options configures the listener and the middleware chain.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64

	// RateLimitRPS <= 0 disables per-IP rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	CORSOrigins []string
	Auth        *AuthConfig
	Version     string
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Chat     *chat.Service
	Store    storage.Store
	Registry *registry.Registry
	Tracker  *telemetry.Tracker
	Logger   *slog.Logger
}

// Server is the modelgate HTTP API.
type Server struct {
	opts     Options
	chat     *chat.Service
	store    storage.Store
	registry *registry.Registry
	tracker  *telemetry.Tracker
	logger   *slog.Logger

	mux     *http.ServeMux
	handler http.Handler
	limiter *RateLimiter
	server  *http.Server
	started time.Time
}

// NewServer creates a Server. Nothing listens until Start or Serve.
func NewServer(opts Options, deps Deps) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = telemetry.NewTracker(0)
	}

	s := &Server{
		opts:     opts,
		chat:     deps.Chat,
		store:    deps.Store,
		registry: deps.Registry,
		tracker:  tracker,
		logger:   logger,
		mux:      http.NewServeMux(),
		started:  time.Now(),
	}
	if opts.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}

	s.setupRoutes()
	s.handler = Chain(
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		RequestIDMiddleware(),
		LoggingMiddleware(logger, tracker),
		RateLimitMiddleware(s.limiter, logger),
		CORSMiddleware(NewCORSConfig(opts.CORSOrigins)),
		AuthMiddleware(opts.Auth, logger),
	)(s.mux)

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Handler returns the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/chat", s.handleChat)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)

	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("PATCH /v1/sessions/{id}", s.handleRenameSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/archive", s.handleArchiveSession)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}/turns", s.handleListTurns)
	s.mux.HandleFunc("GET /v1/sessions/{id}/export", s.handleExportSession)
	s.mux.HandleFunc("GET /v1/turns/search", s.handleSearchTurns)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
}

// ============================================================================
// CHAT
// ============================================================================

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	SessionID    string      `json:"session_id,omitempty"`
	Turns        []TurnInput `json:"turns"`
	Model        string      `json:"model,omitempty"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	Temperature  *float64    `json:"temperature,omitempty"`
	EnableSearch *bool       `json:"enable_search,omitempty"`
	MaxTokens    *int        `json:"max_tokens,omitempty"`
}

// TurnInput is one turn of a ChatRequest.
type TurnInput struct {
	Role        string            `json:"role"`
	Text        string            `json:"text"`
	Attachments []AttachmentInput `json:"attachments,omitempty"`
}

// AttachmentInput is an encoded attachment. Modality is optional; when set it
// must match the content.
type AttachmentInput struct {
	Modality string `json:"modality,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data"`
	FileName string `json:"file_name,omitempty"`
}

// ChatResponse is the body of a successful POST /v1/chat.
type ChatResponse struct {
	*chat.Response
	LatencyMs int64 `json:"latency_ms"`
}

func (r ChatRequest) toChat() chat.Request {
	turns := make([]model.Turn, len(r.Turns))
	for i, t := range r.Turns {
		turn := model.Turn{
			Role: model.Role(strings.ToLower(strings.TrimSpace(t.Role))),
			Text: t.Text,
		}
		for _, a := range t.Attachments {
			turn.Attachments = append(turn.Attachments, model.Attachment{
				Declared: a.Modality,
				MIMEType: a.MIMEType,
				Data:     a.Data,
				FileName: a.FileName,
			})
		}
		turns[i] = turn
	}
	return chat.Request{
		SessionID:    strings.TrimSpace(r.SessionID),
		Turns:        turns,
		Model:        r.Model,
		SystemPrompt: r.SystemPrompt,
		Temperature:  r.Temperature,
		EnableSearch: r.EnableSearch,
		MaxTokens:    r.MaxTokens,
	}
}

// handleChat handles POST /v1/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.chat.Chat(r.Context(), req.toChat())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ChatResponse{Response: resp, LatencyMs: resp.Latency.Milliseconds()})
}

// ============================================================================
// MODELS
// ============================================================================

// ModelInfo describes a registered model.
type ModelInfo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Provider      string   `json:"provider"`
	ProviderKind  string   `json:"provider_kind"`
	Modalities    []string `json:"modalities"`
	Default       bool     `json:"default"`
	Description   string   `json:"description,omitempty"`
	ContextWindow int      `json:"context_window,omitempty"`
}

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// handleModels handles GET /v1/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	out := make([]ModelInfo, len(list))
	for i, d := range list {
		out[i] = ModelInfo{
			ID:            d.ID,
			Name:          d.Name,
			Provider:      d.ProviderID,
			ProviderKind:  d.Kind.String(),
			Modalities:    d.Modalities.Strings(),
			Default:       d.Default,
			Description:   d.Description,
			ContextWindow: d.ContextWindow,
		}
	}
	s.writeJSON(w, http.StatusOK, ModelsResponse{Models: out})
}

// ============================================================================
// HEALTH & STATS
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Models        int    `json:"models"`
	Store         string `json:"store"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth handles GET /health. An unreachable store degrades the
// status but the endpoint still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       s.opts.Version,
		Models:        s.registry.Len(),
		Store:         "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		telemetry.LoggerFrom(r.Context(), s.logger).WarnContext(r.Context(), "HEALTH_STORE_UNAVAILABLE", "error", err.Error())
		health.Store = "unavailable"
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	telemetry.Snapshot
	Store         *storage.Stats `json:"store,omitempty"`
	StoreError    string         `json:"store_error,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Snapshot:      s.tracker.Snapshot(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if st, err := s.store.Stats(r.Context()); err != nil {
		resp.StoreError = err.Error()
	} else {
		resp.Store = &st
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "server.Start", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("SERVER_START",
		"addr", ln.Addr().String(),
		"version", s.opts.Version,
		"models", s.registry.Len(),
		"auth", s.opts.Auth.Enabled(),
		"rate_limit_rps", s.opts.RateLimitRPS)

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("SERVER_SHUTDOWN", "uptime_seconds", int64(time.Since(s.started).Seconds()))
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a JSON body bounded by MaxBodyBytes.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	const op = "server.decode"

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errs.E(errs.KindPayloadTooLarge, op, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return errs.E(errs.KindInvalidInput, op, "invalid JSON body: %v", err)
	}
	return nil
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.logger.Debug("RESPONSE_WRITE_FAILED", "error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
