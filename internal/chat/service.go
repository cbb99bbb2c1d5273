// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/jeranaias/modelgate/internal/dispatch"
	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/normalize"
	"github.com/jeranaias/modelgate/internal/registry"
	"github.com/jeranaias/modelgate/internal/router"
	"github.com/jeranaias/modelgate/internal/search"
	"github.com/jeranaias/modelgate/internal/storage"
	"github.com/jeranaias/modelgate/internal/telemetry"
	"github.com/jeranaias/modelgate/internal/util"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	DefaultRequestTimeout = 120 * time.Second
	DefaultMaxTurns       = 100
	DefaultTitleRunes     = 50
	DefaultTemperature    = 0.7

	// persistTimeout bounds storing an answer that has already been produced.
	persistTimeout = 5 * time.Second
)

// Config configures a Service.
type Config struct {
	RequestTimeout     time.Duration
	MaxTurns           int
	HistoryWindow      int
	TitleRunes         int
	SystemPrompt       string
	DefaultTemperature float64
	DefaultMaxTokens   int
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.HistoryWindow < 0 {
		c.HistoryWindow = 0
	}
	if c.TitleRunes <= 0 {
		c.TitleRunes = DefaultTitleRunes
	}
	return c
}

// Dispatcher runs a request against an ordered candidate list.
// *dispatch.Executor implements it.
type Dispatcher interface {
	Execute(ctx context.Context, candidates []registry.ModelDescriptor, req dispatch.Request) (*dispatch.Result, error)
}

// UsageRecorder receives token usage per provider.
type UsageRecorder interface {
	RecordUsage(providerID string, promptTokens, completionTokens int)
}

// Deps are the collaborators of a Service. Decider and Usage are optional.
type Deps struct {
	Normalizer *normalize.Normalizer
	Router     *router.Router
	Decider    *search.Decider
	Dispatcher Dispatcher
	Store      storage.Store
	Usage      UsageRecorder
	Logger     *slog.Logger
}

// =============================================================================
// SERVICE
// =============================================================================

// Service runs chat requests. It is safe for concurrent use.
type Service struct {
	cfg        Config
	normalizer *normalize.Normalizer
	router     *router.Router
	decider    *search.Decider
	dispatcher Dispatcher
	store      storage.Store
	usage      UsageRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Service.
func New(cfg Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg.withDefaults(),
		normalizer: deps.Normalizer,
		router:     deps.Router,
		decider:    deps.Decider,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		usage:      deps.Usage,
		logger:     logger,
		now:        time.Now,
	}
}

// Chat runs the full request flow:
//
//  1. apply the request deadline
//  2. validate
//  3. prepend stored history for single-turn continuations
//  4. normalize attachments and compute required modalities
//  5. route
//  6. resolve or create the session
//  7. store the user turn
//  8. search augmentation
//  9. dispatch
//  10. compose and store the answer
//
// Steps 6 and 7 degrade to an unpersisted answer when the store is
// unreachable. Deadline expiry at any step yields errs.KindTimeout.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	const op = "chat.Chat"
	start := s.now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	logger := telemetry.LoggerFrom(ctx, s.logger)

	temperature, maxTokens, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	turns, err := s.withHistory(ctx, logger, req)
	if err != nil {
		return nil, deadline(ctx, op, err)
	}

	normalized, err := s.normalizer.NormalizeAll(ctx, turns)
	if err != nil {
		return nil, deadline(ctx, op, err)
	}
	required := normalize.RequiredModalities(normalized)

	decision, err := s.router.Resolve(req.Model, required)
	if err != nil {
		logger.InfoContext(ctx, "ROUTE_REJECTED",
			"requested", req.Model,
			"required", required.String(),
			"error", err.Error())
		return nil, err
	}
	logger.DebugContext(ctx, "ROUTE_RESOLVED", "decision", decision.String(), "reason", decision.Reason)
	if err := ctx.Err(); err != nil {
		return nil, deadline(ctx, op, err)
	}

	latest := normalized[len(normalized)-1]
	sessionID, persisted, err := s.storeUserTurn(ctx, logger, req, decision.Primary().ID, latest)
	if err != nil {
		return nil, deadline(ctx, op, err)
	}

	var aug search.Augmentation
	if s.decider != nil {
		aug = s.decider.Augment(ctx, req.EnableSearch, searchQuery(latest))
	}
	if err := ctx.Err(); err != nil {
		return nil, deadline(ctx, op, err)
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.cfg.SystemPrompt
	}
	result, err := s.dispatcher.Execute(ctx, decision.Candidates, dispatch.Request{
		RequestID:     telemetry.RequestIDFrom(ctx),
		SystemPrompt:  systemPrompt,
		SearchContext: aug.Context,
		Turns:         normalized,
		Temperature:   temperature,
		MaxTokens:     maxTokens,
	})
	if err != nil {
		var exhausted *dispatch.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, errs.Wrap(errs.KindDispatchExhausted, op, err)
		}
		return nil, deadline(ctx, op, err)
	}

	if s.usage != nil {
		s.usage.RecordUsage(result.Model.ProviderID, result.Response.PromptTokens, result.Response.CompletionTokens)
	}

	resp := compose(result, decision, aug)
	resp.SessionID = sessionID
	resp.Persisted = persisted
	if persisted {
		s.storeAnswer(ctx, logger, resp)
	}
	resp.Latency = s.now().Sub(start)

	logger.InfoContext(ctx, "CHAT_COMPLETE",
		"session_id", resp.SessionID,
		"model", resp.ModelID,
		"provider", resp.ProviderID,
		"attempts", resp.Attempts,
		"search", resp.SearchPerformed,
		"persisted", resp.Persisted,
		"latency_ms", resp.Latency.Milliseconds())
	return resp, nil
}

// =============================================================================
// STEPS
// =============================================================================

// validate checks the request shape and resolves the sampling parameters.
func (s *Service) validate(req Request) (float64, int, error) {
	const op = "chat.validate"

	if len(req.Turns) == 0 {
		return 0, 0, errs.E(errs.KindInvalidInput, op, "at least one turn is required")
	}
	if len(req.Turns) > s.cfg.MaxTurns {
		return 0, 0, errs.E(errs.KindInvalidInput, op, "too many turns: %d (max %d)", len(req.Turns), s.cfg.MaxTurns)
	}
	for i, t := range req.Turns {
		if !t.Role.Valid() {
			return 0, 0, errs.E(errs.KindInvalidInput, op, "turn %d: invalid role %q", i, t.Role)
		}
	}
	last := req.Turns[len(req.Turns)-1]
	if last.Role != model.RoleUser {
		return 0, 0, errs.E(errs.KindInvalidInput, op, "last turn must have role %q", model.RoleUser)
	}
	if last.Text == "" && len(last.Attachments) == 0 {
		return 0, 0, errs.E(errs.KindInvalidInput, op, "last turn is empty")
	}

	temperature := s.cfg.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < 0 || temperature > 2 {
		return 0, 0, errs.E(errs.KindInvalidInput, op, "temperature must be between 0 and 2, got %g", temperature)
	}

	maxTokens := s.cfg.DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens < 0 {
		return 0, 0, errs.E(errs.KindInvalidInput, op, "max_tokens cannot be negative")
	}
	return temperature, maxTokens, nil
}

// withHistory prepends up to HistoryWindow stored turns when a session is
// continued with a single turn. History replays text only; routing follows
// the modalities of the turns actually sent.
func (s *Service) withHistory(ctx context.Context, logger *slog.Logger, req Request) ([]model.Turn, error) {
	turns := cloneTurns(req.Turns)
	if req.SessionID == "" || len(req.Turns) != 1 || s.cfg.HistoryWindow == 0 || s.store == nil {
		return turns, nil
	}

	stored, err := s.store.ListTurns(ctx, req.SessionID, storage.TurnOptions{Limit: s.cfg.HistoryWindow})
	if err != nil {
		if errs.KindOf(err) == errs.KindStoreUnavailable {
			logger.WarnContext(ctx, "HISTORY_UNAVAILABLE", "session_id", req.SessionID, "error", err.Error())
			return turns, nil
		}
		return nil, err
	}

	history := make([]model.Turn, 0, len(stored)+1)
	for _, t := range stored {
		if t.Text == "" {
			continue
		}
		history = append(history, model.Turn{Role: t.Role, Text: t.Text})
	}
	return append(history, turns...), nil
}

// storeUserTurn resolves the session and appends the latest user turn. A
// missing or archived session is an error; an unreachable store is not.
func (s *Service) storeUserTurn(ctx context.Context, logger *slog.Logger, req Request, modelID string, turn model.Turn) (string, bool, error) {
	if s.store == nil {
		return req.SessionID, false, nil
	}

	sessionID := req.SessionID
	if sessionID == "" {
		title := util.Headline(firstUserText(req.Turns), s.cfg.TitleRunes)
		sess, err := s.store.CreateSession(ctx, title, modelID)
		if err != nil {
			if errs.KindOf(err) == errs.KindStoreUnavailable {
				logger.WarnContext(ctx, "STORE_UNAVAILABLE", "step", "create_session", "error", err.Error())
				return "", false, nil
			}
			return "", false, err
		}
		sessionID = sess.ID
		logger.InfoContext(ctx, "SESSION_CREATED", "session_id", sessionID, "title", sess.Title)
	}

	if _, err := s.store.AppendTurn(ctx, sessionID, turn); err != nil {
		switch errs.KindOf(err) {
		case errs.KindNotFound, errs.KindConflict, errs.KindInvalidInput:
			return "", false, err
		}
		logger.WarnContext(ctx, "STORE_APPEND_FAILED",
			"session_id", sessionID,
			"role", turn.Role,
			"error", err.Error())
		return sessionID, false, nil
	}
	return sessionID, true, nil
}

// storeAnswer appends the assistant turn. The answer already exists, so the
// write gets its own short deadline instead of the request's.
func (s *Service) storeAnswer(ctx context.Context, logger *slog.Logger, resp *Response) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	stored, err := s.store.AppendTurn(pctx, resp.SessionID, model.Turn{
		Role:       model.RoleAssistant,
		Text:       resp.Answer,
		ModelID:    resp.ModelID,
		ProviderID: resp.ProviderID,
	})
	if err != nil {
		logger.WarnContext(ctx, "STORE_APPEND_FAILED",
			"session_id", resp.SessionID,
			"role", model.RoleAssistant,
			"error", err.Error())
		resp.Persisted = false
		return
	}
	resp.TurnID = stored.ID
}

// =============================================================================
// HELPERS
// =============================================================================

// deadline reclassifies err when the request context has ended.
func deadline(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		if errs.KindOf(err) == errs.KindTimeout {
			return err
		}
		return errs.Wrap(errs.KindTimeout, op, err)
	case errors.Is(ctx.Err(), context.Canceled):
		if errs.KindOf(err) == errs.KindCanceled {
			return err
		}
		return errs.Wrap(errs.KindCanceled, op, err)
	}
	return err
}

func cloneTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

// searchQuery is the turn text, or for an attachment-only turn the
// attachment file names without extensions.
func searchQuery(turn model.Turn) string {
	if strings.TrimSpace(turn.Text) != "" {
		return turn.Text
	}
	var names []string
	for _, a := range turn.Attachments {
		name := strings.TrimSuffix(a.FileName, path.Ext(a.FileName))
		name = strings.Join(strings.FieldsFunc(name, func(r rune) bool {
			return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
		}), " ")
		if name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, " ")
}

func firstUserText(turns []model.Turn) string {
	for _, t := range turns {
		if t.Role == model.RoleUser && t.Text != "" {
			return t.Text
		}
	}
	return ""
}
