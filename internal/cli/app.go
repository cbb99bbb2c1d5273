// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - builds the gateway from a loaded configuration.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/jeranaias/modelgate/internal/chat"
	"github.com/jeranaias/modelgate/internal/cloud"
	"github.com/jeranaias/modelgate/internal/config"
	"github.com/jeranaias/modelgate/internal/dispatch"
	"github.com/jeranaias/modelgate/internal/normalize"
	"github.com/jeranaias/modelgate/internal/ollama"
	"github.com/jeranaias/modelgate/internal/registry"
	"github.com/jeranaias/modelgate/internal/router"
	"github.com/jeranaias/modelgate/internal/search"
	"github.com/jeranaias/modelgate/internal/server"
	"github.com/jeranaias/modelgate/internal/storage"
	"github.com/jeranaias/modelgate/internal/telemetry"
)

// =============================================================================
// CONFIG
// =============================================================================

// loadConfig loads --config when given, otherwise the default search path.
func loadConfig(args Args) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		if err = config.LoadDotEnv(".env"); err == nil {
			cfg, err = config.LoadFromPath(args.ConfigPath)
		}
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &configError{err: err}
	}
	if args.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// discardLogger keeps provider clients quiet outside serve.
var discardLogger = slog.New(slog.DiscardHandler)

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return telemetry.NewLogger(telemetry.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}, w)
}

// =============================================================================
// APP
// =============================================================================

// app is a fully wired gateway.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	tracker  *telemetry.Tracker
	store    storage.Store
	chat     *chat.Service
	server   *server.Server
}

// newApp wires every component. The caller owns Close.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	reg, err := registry.Load(cfg.ProviderSpecs(), cfg.ModelSpecs())
	if err != nil {
		return nil, &configError{err: err}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tracker := telemetry.NewTracker(0)
	executor := buildExecutor(cfg, buildProviders(cfg, logger), tracker, logger)

	svc := chat.New(chat.Config{
		RequestTimeout:     cfg.Chat.RequestTimeout(),
		MaxTurns:           cfg.Chat.MaxTurns,
		HistoryWindow:      cfg.Chat.HistoryWindow,
		TitleRunes:         cfg.Chat.TitleRunes,
		SystemPrompt:       cfg.Chat.SystemPrompt,
		DefaultTemperature: cfg.Chat.Temperature(),
		DefaultMaxTokens:   cfg.Chat.DefaultMaxTokens,
	}, chat.Deps{
		Normalizer: buildNormalizer(cfg, logger),
		Router:     router.New(reg),
		Decider:    buildDecider(cfg, logger),
		Dispatcher: executor,
		Store:      store,
		Usage:      tracker,
		Logger:     logger,
	})

	srv := server.NewServer(server.Options{
		Addr:           cfg.Server.Addr,
		ReadTimeout:    cfg.Server.ReadTimeout(),
		WriteTimeout:   cfg.Server.WriteTimeout(),
		IdleTimeout:    cfg.Server.IdleTimeout(),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Auth: &server.AuthConfig{
			BearerToken: cfg.Auth.BearerToken,
			AllowedIPs:  cfg.Auth.AllowedIPs,
		},
		Version: Version,
	}, server.Deps{
		Chat:     svc,
		Store:    store,
		Registry: reg,
		Tracker:  tracker,
		Logger:   logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		tracker:  tracker,
		store:    store,
		chat:     svc,
		server:   srv,
	}, nil
}

// Close releases the store.
func (a *app) Close() error {
	return a.store.Close()
}

// =============================================================================
// COMPONENTS
// =============================================================================

// openStore opens the configured conversation store.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite", "":
		return storage.OpenSQLite(ctx, cfg.Storage.Path)
	default:
		return nil, &configError{err: fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)}
	}
}

// newProviderClient builds the adapter for one provider entry.
func newProviderClient(pc config.ProviderConfig, logger *slog.Logger) dispatch.Provider {
	if strings.EqualFold(pc.Kind, "ollama") {
		return ollama.NewClient(pc.ID, pc.BaseURL)
	}
	c := cloud.NewClient(pc.ID, pc.BaseURL, pc.ResolveAPIKey()).WithLogger(logger)
	for k, v := range pc.Headers {
		c.WithHeader(k, v)
	}
	return c
}

// buildProviders creates one adapter per provider. A cloud provider without
// a key is still registered: its calls fail permanently and dispatch fails
// over to the next candidate.
func buildProviders(cfg *config.Config, logger *slog.Logger) map[string]dispatch.Provider {
	providers := make(map[string]dispatch.Provider, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p := newProviderClient(pc, logger)
		if c, ok := p.(*cloud.Client); ok {
			if !c.IsConfigured() {
				logger.Warn("PROVIDER_KEY_MISSING", "provider", pc.ID, "api_key_env", pc.APIKeyEnv)
			} else {
				logger.Debug("PROVIDER_READY", "provider", pc.ID, "key", c.KeyFingerprint())
			}
		}
		providers[pc.ID] = p
	}
	return providers
}

// buildExecutor creates the dispatch executor with per-provider limiters.
func buildExecutor(cfg *config.Config, providers map[string]dispatch.Provider, rec dispatch.Recorder, logger *slog.Logger) *dispatch.Executor {
	exec := dispatch.NewExecutor(dispatch.Config{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout(),
		BaseBackoff:    cfg.Dispatch.BackoffBase(),
		MaxBackoff:     cfg.Dispatch.BackoffMax(),
		Jitter:         cfg.Dispatch.Jitter,
	}, providers, rec, logger)

	for _, pc := range cfg.Providers {
		if pc.RateLimitRPS <= 0 {
			continue
		}
		burst := pc.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		exec.WithLimiter(pc.ID, rate.NewLimiter(rate.Limit(pc.RateLimitRPS), burst))
	}
	return exec
}

// buildNormalizer enables video only when ffmpeg and ffprobe are installed.
func buildNormalizer(cfg *config.Config, logger *slog.Logger) *normalize.Normalizer {
	ncfg := normalize.Config{
		MaxPayloadBytes: cfg.Normalize.MaxPayloadBytes,
		MaxFrames:       cfg.Normalize.MaxFrames,
		Concurrency:     cfg.Normalize.Concurrency,
	}
	ffmpeg := normalize.NewFFmpegExtractor(cfg.Normalize.FFmpegPath, cfg.Normalize.FFprobePath)
	if !ffmpeg.Available() {
		logger.Warn("FFMPEG_UNAVAILABLE", "detail", "video attachments will be rejected")
		return normalize.New(ncfg, nil)
	}
	return normalize.New(ncfg, ffmpeg)
}

// buildDecider wires SearXNG and the freshness heuristic. With search
// disabled there is no backend; an explicit search flag then only yields
// search_performed=false.
func buildDecider(cfg *config.Config, logger *slog.Logger) *search.Decider {
	scfg := search.Config{
		BudgetChars: cfg.Search.BudgetChars,
		MaxSnippets: cfg.Search.MaxSnippets,
		Timeout:     cfg.Search.Timeout(),
	}
	if cfg.Search.Disabled {
		return search.NewDecider(nil, nil, scfg, logger)
	}
	return search.NewDecider(
		search.NewSearXNG(cfg.Search.Endpoint, cfg.Search.Timeout()),
		search.NewFreshnessPredicate(cfg.Search.Cues),
		scfg,
		logger,
	)
}
