// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - environment checks for a gateway deployment.
//
// Checks, in order:
//  1. Configuration  - file parses and validates
//  2. Model catalog  - registry loads; modalities nothing accepts
//  3. Store          - database opens and answers a ping
//  4. Video frames   - ffmpeg and ffprobe are on PATH
//  5. Web search     - SearXNG answers a query
//  6. Providers      - each provider lists its models
//  7. Authentication - non-loopback listeners have a bearer token
//
// Exit code 1 when any check fails; warnings do not fail.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jeranaias/modelgate/internal/config"
	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/normalize"
	"github.com/jeranaias/modelgate/internal/registry"
	"github.com/jeranaias/modelgate/internal/search"
)

// ErrChecksFailed is returned when at least one check failed.
var ErrChecksFailed = errors.New("one or more checks failed")

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus is the result of a health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarn
	CheckFail
)

// String returns the status name.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Symbol returns the styled marker for the status.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return SuccessStyle.Render("[OK]")
	case CheckWarn:
		return WarningStyle.Render("[!!]")
	default:
		return ErrorStyle.Render("[FAIL]")
	}
}

// HealthCheck is one check result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Fix     string      `json:"fix,omitempty"`
}

// Render formats the check for a terminal.
func (c HealthCheck) Render() string {
	out := fmt.Sprintf("%s %-18s %s", c.Status.Symbol(), c.Name, c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		out += "\n" + DimStyle.Render("     -> "+c.Fix)
	}
	return out
}

// =============================================================================
// DOCTOR
// =============================================================================

// HandleDoctor handles the "doctor" command.
func HandleDoctor(ctx context.Context, args Args, w io.Writer) error {
	checks := runChecks(ctx, args)

	failed := false
	for _, c := range checks {
		if c.Status == CheckFail {
			failed = true
		}
	}

	if args.JSON {
		if failed {
			NewJSONErrorResponse(CmdDoctor.String(), ErrChecksFailed, checks).Print(w)
			return ErrChecksFailed
		}
		return NewJSONResponse(CmdDoctor.String(), checks).Print(w)
	}

	fmt.Fprintln(w, TitleStyle.Render("modelgate doctor"))
	for _, c := range checks {
		fmt.Fprintln(w, c.Render())
	}
	fmt.Fprintln(w)
	if failed {
		return ErrChecksFailed
	}
	fmt.Fprintln(w, SuccessStyle.Render("All checks passed."))
	return nil
}

// runChecks runs every check. A configuration failure stops early since
// nothing else can be checked.
func runChecks(ctx context.Context, args Args) []HealthCheck {
	cfg, err := loadConfig(args)
	if err != nil {
		return []HealthCheck{{
			Name:    "Configuration",
			Status:  CheckFail,
			Message: err.Error(),
			Fix:     "modelgate config validate",
		}}
	}

	checks := []HealthCheck{{Name: "Configuration", Status: CheckPass, Message: "valid"}}
	checks = append(checks, checkCatalog(cfg))
	checks = append(checks, checkStore(ctx, cfg))
	checks = append(checks, checkFFmpeg(cfg))
	checks = append(checks, checkSearch(ctx, cfg))
	checks = append(checks, checkProviders(ctx, cfg)...)
	checks = append(checks, checkAuth(cfg))
	return checks
}

func checkCatalog(cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Model catalog"}
	reg, err := registry.Load(cfg.ProviderSpecs(), cfg.ModelSpecs())
	if err != nil {
		c.Status, c.Message = CheckFail, err.Error()
		return c
	}

	var uncovered []string
	for _, m := range []model.Modality{model.ModalityText, model.ModalityImage, model.ModalityAudio, model.ModalityVideo} {
		if _, err := reg.DefaultFor(model.NewModalitySet(m)); err != nil {
			uncovered = append(uncovered, m.String())
		}
	}
	c.Message = fmt.Sprintf("%d models from %d providers", reg.Len(), len(reg.Providers()))
	if len(uncovered) > 0 {
		c.Status = CheckWarn
		c.Message += "; nothing accepts " + strings.Join(uncovered, ", ")
		c.Fix = "add a [[models]] entry with those modalities"
	}
	return c
}

func checkStore(ctx context.Context, cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Store"}
	store, err := openStore(ctx, cfg)
	if err != nil {
		c.Status, c.Message = CheckFail, err.Error()
		c.Fix = "check storage.path is writable"
		return c
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		c.Status, c.Message = CheckFail, err.Error()
		return c
	}
	st, err := store.Stats(ctx)
	if err != nil {
		c.Status, c.Message = CheckFail, err.Error()
		return c
	}

	if strings.EqualFold(cfg.Storage.Backend, "memory") {
		c.Status = CheckWarn
		c.Message = "in-memory; conversations are lost on restart"
		c.Fix = "set storage.backend = \"sqlite\""
		return c
	}
	c.Message = fmt.Sprintf("sqlite %s (%d sessions, %d turns)", cfg.Storage.Path, st.Sessions, st.Turns)
	return c
}

func checkFFmpeg(cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Video frames"}
	if normalize.NewFFmpegExtractor(cfg.Normalize.FFmpegPath, cfg.Normalize.FFprobePath).Available() {
		c.Message = "ffmpeg and ffprobe found"
		return c
	}
	c.Status = CheckWarn
	c.Message = "ffmpeg/ffprobe not found; video attachments are rejected"
	c.Fix = "install ffmpeg or set normalize.ffmpeg_path"
	return c
}

func checkSearch(ctx context.Context, cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Web search"}
	if cfg.Search.Disabled {
		c.Status, c.Message = CheckWarn, "disabled"
		return c
	}

	sctx, cancel := context.WithTimeout(ctx, cfg.Search.Timeout())
	defer cancel()
	res, err := search.NewSearXNG(cfg.Search.Endpoint, cfg.Search.Timeout()).Search(sctx, "modelgate")
	if err != nil {
		c.Status = CheckWarn
		c.Message = "unreachable: " + err.Error()
		c.Fix = "start SearXNG with the json format enabled, or set search.disabled = true"
		return c
	}
	c.Message = fmt.Sprintf("%s (%d results)", cfg.Search.Endpoint, len(res.Snippets))
	return c
}

// checkProviders warns per unreachable provider and fails only when none
// is usable, since dispatch fails over between them.
func checkProviders(ctx context.Context, cfg *config.Config) []HealthCheck {
	var checks []HealthCheck
	ok := 0
	for _, pc := range cfg.Providers {
		c := HealthCheck{Name: "Provider " + pc.ID}
		ids, err := probeProvider(ctx, pc)
		switch {
		case err != nil:
			c.Status = CheckWarn
			c.Message = err.Error()
			if strings.EqualFold(pc.Kind, "ollama") {
				c.Fix = "ollama serve"
			} else if pc.APIKeyEnv != "" {
				c.Fix = "export " + pc.APIKeyEnv + "=..."
			}
		default:
			ok++
			c.Message = fmt.Sprintf("%s (%d models listed)", pc.BaseURL, len(ids))
		}
		checks = append(checks, c)
	}
	if ok == 0 {
		checks = append(checks, HealthCheck{
			Name:    "Providers",
			Status:  CheckFail,
			Message: "no provider is reachable; every chat request will fail",
		})
	}
	return checks
}

func checkAuth(cfg *config.Config) HealthCheck {
	c := HealthCheck{Name: "Authentication"}
	if cfg.Auth.BearerToken != "" {
		c.Message = "bearer token required"
		return c
	}
	if isLoopback(cfg.Server.Addr) {
		c.Message = "none (listening on loopback only)"
		return c
	}
	c.Status = CheckWarn
	c.Message = "API exposed on " + cfg.Server.Addr + " without a bearer token"
	c.Fix = "set auth.bearer_token or MODELGATE_BEARER_TOKEN"
	return c
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
