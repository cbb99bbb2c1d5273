// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/modelgate/internal/chat"
	"github.com/jeranaias/modelgate/internal/dispatch"
	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/normalize"
	"github.com/jeranaias/modelgate/internal/registry"
	"github.com/jeranaias/modelgate/internal/router"
	"github.com/jeranaias/modelgate/internal/search"
	"github.com/jeranaias/modelgate/internal/storage"
	"github.com/jeranaias/modelgate/internal/telemetry"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

type stubProvider struct {
	reply func(ctx context.Context, req dispatch.Request) (*dispatch.Response, error)
}

func (p stubProvider) Complete(ctx context.Context, req dispatch.Request) (*dispatch.Response, error) {
	return p.reply(ctx, req)
}

func echoProvider(prefix string) stubProvider {
	return stubProvider{reply: func(ctx context.Context, req dispatch.Request) (*dispatch.Response, error) {
		last := req.Turns[len(req.Turns)-1]
		return &dispatch.Response{Text: prefix + last.Text, PromptTokens: 3, CompletionTokens: 4}, nil
	}}
}

type pingFailStore struct {
	storage.Store
}

func (pingFailStore) Ping(ctx context.Context) error {
	return errs.E(errs.KindStoreUnavailable, "storage.Ping", "database is locked")
}

type fixture struct {
	server  *Server
	store   storage.Store
	tracker *telemetry.Tracker
}

type fixtureOptions struct {
	opts  Options
	store storage.Store
	alpha dispatch.Provider
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()

	reg, err := registry.Load(
		[]registry.ProviderSpec{
			{ID: "alpha", Kind: "openai", BaseURL: "http://alpha.invalid/v1"},
			{ID: "beta", Kind: "ollama", BaseURL: "http://beta.invalid"},
		},
		[]registry.ModelSpec{
			{ID: "text-model", Name: "Text", Provider: "alpha", Modalities: []string{"text"}, Default: true},
			{ID: "vision-model", Name: "Vision", Provider: "beta", Modalities: []string{"text", "image"}, Default: true},
		},
	)
	require.NoError(t, err)

	store := fo.store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	alpha := fo.alpha
	if alpha == nil {
		alpha = echoProvider("alpha: ")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := telemetry.NewTracker(10)
	executor := dispatch.NewExecutor(dispatch.Config{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, map[string]dispatch.Provider{
		"alpha": alpha,
		"beta":  echoProvider("beta: "),
	}, tracker, logger)

	svc := chat.New(chat.Config{DefaultTemperature: 0.7}, chat.Deps{
		Normalizer: normalize.New(normalize.Config{}, nil),
		Router:     router.New(reg),
		Decider:    search.NewDecider(nil, nil, search.Config{}, logger),
		Dispatcher: executor,
		Store:      store,
		Usage:      tracker,
		Logger:     logger,
	})

	fo.opts.Version = "test"
	srv := NewServer(fo.opts, Deps{
		Chat:     svc,
		Store:    store,
		Registry: reg,
		Tracker:  tracker,
		Logger:   logger,
	})
	t.Cleanup(func() {
		if srv.limiter != nil {
			srv.limiter.Stop()
		}
	})
	return &fixture{server: srv, store: store, tracker: tracker}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func textChat(text string) ChatRequest {
	return ChatRequest{Turns: []TurnInput{{Role: "user", Text: text}}}
}

// =============================================================================
// CHAT
// =============================================================================

func TestHandleChat_Success(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodPost, "/v1/chat", textChat("hello there"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "alpha: hello there", resp["answer"])
	assert.Equal(t, "text-model", resp["model_id"])
	assert.Equal(t, "alpha", resp["provider_id"])
	assert.Equal(t, false, resp["search_performed"])
	assert.Equal(t, true, resp["persisted"])
	assert.EqualValues(t, 1, resp["attempts"])
	assert.NotEmpty(t, resp["session_id"])
	assert.NotEmpty(t, resp["turn_id"])
	assert.Contains(t, resp, "latency_ms")
	assert.Contains(t, resp, "usage")

	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	snap := f.tracker.Snapshot()
	assert.EqualValues(t, 1, snap.Requests.Total)
	assert.EqualValues(t, 1, snap.Outcomes.Succeeded)
}

func TestHandleChat_ContinuesSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	first := decodeBody[chat.Response](t, f.do(t, http.MethodPost, "/v1/chat", textChat("one")))
	req := textChat("two")
	req.SessionID = first.SessionID
	rec := f.do(t, http.MethodPost, "/v1/chat", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sess, err := f.store.GetSession(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, sess.TurnCount)
}

func TestHandleChat_ErrorStatus(t *testing.T) {
	png := base64.StdEncoding.EncodeToString(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...))

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantKind   string
	}{
		{"malformed json", `{"turns": [`, http.StatusBadRequest, "invalid_input"},
		{"no turns", ChatRequest{}, http.StatusBadRequest, "invalid_input"},
		{"assistant last", ChatRequest{Turns: []TurnInput{{Role: "assistant", Text: "hi"}}}, http.StatusBadRequest, "invalid_input"},
		{"bad base64", ChatRequest{Turns: []TurnInput{{Role: "user", Attachments: []AttachmentInput{{MIMEType: "image/png", Data: "!!!not base64!!!"}}}}}, http.StatusBadRequest, "invalid_encoding"},
		{"unknown model", ChatRequest{Model: "gpt-7", Turns: []TurnInput{{Role: "user", Text: "hi"}}}, http.StatusNotFound, "unknown_model"},
		{"image to text-only model", ChatRequest{Model: "text-model", Turns: []TurnInput{{Role: "user", Text: "what?", Attachments: []AttachmentInput{{MIMEType: "image/png", Data: png}}}}}, http.StatusUnprocessableEntity, "incapable_model"},
		{"unknown session", ChatRequest{SessionID: "nope", Turns: []TurnInput{{Role: "user", Text: "hi"}}}, http.StatusNotFound, "not_found"},
	}

	f := newFixture(t, fixtureOptions{})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/chat", tc.body)
			assert.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			body := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tc.wantKind, body.Error.Kind)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestHandleChat_BodyTooLarge(t *testing.T) {
	f := newFixture(t, fixtureOptions{opts: Options{MaxBodyBytes: 256}})

	rec := f.do(t, http.MethodPost, "/v1/chat", textChat(strings.Repeat("x", 1024)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", decodeBody[ErrorResponse](t, rec).Error.Kind)
}

func TestHandleChat_DispatchExhausted(t *testing.T) {
	down := stubProvider{reply: func(ctx context.Context, req dispatch.Request) (*dispatch.Response, error) {
		return nil, dispatch.Transient(errors.New("upstream 503"))
	}}
	f := newFixture(t, fixtureOptions{alpha: down})

	req := textChat("hi")
	req.Model = "text-model"
	rec := f.do(t, http.MethodPost, "/v1/chat", req)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())

	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "dispatch_exhausted", body.Error.Kind)
	require.Len(t, body.Error.Candidates, 1)
	assert.Equal(t, "text-model", body.Error.Candidates[0].ModelID)
	assert.Equal(t, 3, body.Error.Candidates[0].Attempts)
	assert.Len(t, body.Error.Candidates[0].LatenciesMs, 3)

	snap := f.tracker.Snapshot()
	assert.EqualValues(t, 1, snap.Outcomes.Failed)
	assert.EqualValues(t, 1, snap.Requests.ServerError)
}

func TestHandleChat_ClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hangup := stubProvider{reply: func(pctx context.Context, req dispatch.Request) (*dispatch.Response, error) {
		cancel()
		<-pctx.Done()
		return nil, pctx.Err()
	}}
	f := newFixture(t, fixtureOptions{alpha: hangup})

	raw, err := json.Marshal(ChatRequest{Model: "text-model", Turns: []TurnInput{{Role: "user", Text: "hi"}}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(raw)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, StatusClientClosedRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "canceled", decodeBody[ErrorResponse](t, rec).Error.Kind)

	snap := f.tracker.Snapshot()
	assert.EqualValues(t, 1, snap.Requests.ClientError)
	assert.EqualValues(t, 0, snap.Requests.ServerError)
}

// =============================================================================
// MODELS, HEALTH, STATS
// =============================================================================

func TestHandleModels(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodGet, "/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[ModelsResponse](t, rec)
	require.Len(t, resp.Models, 2)
	assert.Equal(t, "text-model", resp.Models[0].ID)
	assert.Equal(t, "alpha", resp.Models[0].Provider)
	assert.Equal(t, []string{"text"}, resp.Models[0].Modalities)
	assert.Equal(t, "ollama", resp.Models[1].ProviderKind)
	assert.True(t, resp.Models[1].Default)
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Store)
	assert.Equal(t, 2, health.Models)
	assert.Equal(t, "test", health.Version)
}

func TestHandleHealth_StoreDown(t *testing.T) {
	f := newFixture(t, fixtureOptions{store: pingFailStore{Store: storage.NewMemoryStore()}})

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "unavailable", health.Store)
}

func TestHandleStats(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.do(t, http.MethodPost, "/v1/chat", textChat("count me"))

	rec := f.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody[StatsResponse](t, rec)
	require.NotNil(t, stats.Store)
	assert.Equal(t, 1, stats.Store.Sessions)
	assert.Equal(t, 2, stats.Store.Turns)
	require.Len(t, stats.Providers, 1)
	assert.Equal(t, "alpha", stats.Providers[0].ProviderID)
	assert.Equal(t, 3, stats.Providers[0].PromptTokens)
	assert.EqualValues(t, 1, stats.Outcomes.Dispatches)
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSessions_Lifecycle(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Title: "Trip planning", Model: "vision-model"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[map[string]any](t, rec)
	id := created["id"].(string)
	assert.Equal(t, "/v1/sessions/"+id, rec.Header().Get("Location"))
	assert.Equal(t, "vision-model", created["model"])

	chatReq := textChat("pack light")
	chatReq.SessionID = id
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/chat", chatReq).Code)

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[map[string]any](t, rec)
	assert.Len(t, got["turns"], 2)

	rec = f.do(t, http.MethodPatch, "/v1/sessions/"+id, RenameSessionRequest{Title: "Lisbon trip"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Lisbon trip", decodeBody[map[string]any](t, rec)["title"])

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+id+"/turns?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	turns := decodeBody[TurnsResponse](t, rec)
	assert.Equal(t, id, turns.SessionID)
	require.Len(t, turns.Turns, 1)
	assert.Equal(t, model.RoleAssistant, turns.Turns[0].Role)

	rec = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["archived"])

	listed := decodeBody[SessionsResponse](t, f.do(t, http.MethodGet, "/v1/sessions", nil))
	assert.Empty(t, listed.Sessions, "archived sessions are hidden by default")
	listed = decodeBody[SessionsResponse](t, f.do(t, http.MethodGet, "/v1/sessions?archived=true", nil))
	assert.Len(t, listed.Sessions, 1)

	rec = f.do(t, http.MethodPost, "/v1/chat", chatReq)
	assert.Equal(t, http.StatusConflict, rec.Code, "archived sessions reject new turns")

	rec = f.do(t, http.MethodDelete, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody[map[string]any](t, rec)["id"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/sessions/"+id, nil).Code)
}

func TestSessions_CreateWithEmptyBody(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(decodeBody[map[string]any](t, rec)["title"].(string), "Conversation "))
}

func TestSessions_CreateUnknownModel(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Model: "gpt-7"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_model", decodeBody[ErrorResponse](t, rec).Error.Kind)
}

func TestSessions_DeleteNonexistent(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.do(t, http.MethodPost, "/v1/sessions", CreateSessionRequest{Title: "keep me"})

	rec := f.do(t, http.MethodDelete, "/v1/sessions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Error.Kind)

	st, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Sessions)
}

func TestSessions_BadQueryParams(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	for _, path := range []string{
		"/v1/sessions?limit=abc",
		"/v1/sessions?offset=-1",
		"/v1/sessions?archived=maybe",
		"/v1/turns/search?q=x&limit=-5",
		"/v1/turns/search",
	} {
		rec := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestSearchTurns(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	first := decodeBody[chat.Response](t, f.do(t, http.MethodPost, "/v1/chat", textChat("Where is the Eiffel Tower?")))
	f.do(t, http.MethodPost, "/v1/chat", textChat("unrelated question"))

	rec := f.do(t, http.MethodGet, "/v1/turns/search?q=eiffel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SearchResponse](t, rec)
	require.Len(t, resp.Matches, 2, "user turn and echoed answer")
	for _, m := range resp.Matches {
		assert.Equal(t, first.SessionID, m.Turn.SessionID)
	}

	rec = f.do(t, http.MethodGet, "/v1/turns/search?q=eiffel&session_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	first := decodeBody[chat.Response](t, f.do(t, http.MethodPost, "/v1/chat", textChat("Plan a day in Porto")))

	rec := f.do(t, http.MethodGet, "/v1/sessions/"+first.SessionID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/markdown"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".md")
	assert.Contains(t, rec.Body.String(), "Plan a day in Porto")
	assert.Contains(t, rec.Body.String(), "alpha: Plan a day in Porto")

	rec = f.do(t, http.MethodGet, "/v1/sessions/"+first.SessionID+"/export?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	doc := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "modelgate", doc["generator"])

	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodGet, "/v1/sessions/"+first.SessionID+"/export?format=pdf", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodGet, "/v1/sessions/missing/export", nil).Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAuthMiddleware_BearerToken(t *testing.T) {
	f := newFixture(t, fixtureOptions{opts: Options{Auth: &AuthConfig{BearerToken: "s3cret"}}})

	rec := f.do(t, http.MethodGet, "/v1/models", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeBody[ErrorResponse](t, rec).Error.Kind)

	rec = f.do(t, http.MethodGet, "/v1/models", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/models", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_IPAllowlist(t *testing.T) {
	// httptest requests come from 192.0.2.1
	f := newFixture(t, fixtureOptions{opts: Options{Auth: &AuthConfig{AllowedIPs: []string{"10.0.0.0/8"}}}})
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/health", nil).Code)

	f = newFixture(t, fixtureOptions{opts: Options{Auth: &AuthConfig{AllowedIPs: []string{"192.0.2.1"}}}})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t, fixtureOptions{opts: Options{RateLimitRPS: 0.01, RateLimitBurst: 2}})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code)

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody[ErrorResponse](t, rec).Error.Kind)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader), "rejected requests still carry a request id")
}

func TestRateLimiter_PerIP(t *testing.T) {
	rl := NewRateLimiter(0.01, 1)
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Equal(t, 0, rl.Remaining("10.0.0.1"))
	assert.Equal(t, 1, rl.Remaining("10.0.0.3"))
}

func TestCORSMiddleware(t *testing.T) {
	f := newFixture(t, fixtureOptions{opts: Options{CORSOrigins: []string{"https://app.example.com", "*.example.org"}}})

	rec := f.do(t, http.MethodOptions, "/v1/chat", nil,
		"Origin", "https://app.example.com",
		"Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	rec = f.do(t, http.MethodGet, "/health", nil, "Origin", "https://docs.example.org")
	assert.Equal(t, "https://docs.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, http.MethodGet, "/health", nil, "Origin", "https://evil.example.net")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDMiddleware(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	rec := f.do(t, http.MethodGet, "/health", nil, RequestIDHeader, "client-req-42")
	assert.Equal(t, "client-req-42", rec.Header().Get(RequestIDHeader))

	rec = f.do(t, http.MethodGet, "/health", nil, RequestIDHeader, "bad id\nwith newline")
	got := rec.Header().Get(RequestIDHeader)
	assert.NotEqual(t, "bad id\nwith newline", got)
	assert.Len(t, got, 36)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeBody[ErrorResponse](t, rec).Error.Kind)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v2/everything", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPut, "/v1/chat", nil).Code)
}

// =============================================================================
// HELPERS
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind errs.Kind
		want int
	}{
		{errs.KindInvalidInput, 400},
		{errs.KindInvalidEncoding, 400},
		{errs.KindPayloadTooLarge, 413},
		{errs.KindUnknownModel, 404},
		{errs.KindNotFound, 404},
		{errs.KindIncapableModel, 422},
		{errs.KindNoCapableModel, 422},
		{errs.KindConflict, 409},
		{errs.KindDispatchExhausted, 502},
		{errs.KindStoreUnavailable, 503},
		{errs.KindTimeout, 504},
		{errs.KindCanceled, 499},
		{errs.KindInternal, 500},
		{errs.KindSearchUnavailable, 500},
	}
	for _, tc := range tests {
		if got := StatusFor(tc.kind); got != tc.want {
			t.Errorf("StatusFor(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestValidateBearerToken(t *testing.T) {
	tests := []struct {
		token, expected string
		want            bool
	}{
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"", "abc", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		if got := ValidateBearerToken(tc.token, tc.expected); got != tc.want {
			t.Errorf("ValidateBearerToken(%q, %q) = %v, want %v", tc.token, tc.expected, got, tc.want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"direct", "203.0.113.7:5555", nil, "203.0.113.7"},
		{"untrusted peer cannot spoof", "203.0.113.7:5555", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.7"},
		{"trusted proxy forwards", "10.1.2.3:80", map[string]string{"X-Forwarded-For": "198.51.100.9, 10.1.2.3"}, "198.51.100.9"},
		{"trusted proxy real ip", "127.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.10"}, "198.51.100.10"},
		{"trusted proxy garbage header", "127.0.0.1:80", map[string]string{"X-Forwarded-For": "not-an-ip"}, "127.0.0.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, GetClientIP(r))
		})
	}
}
