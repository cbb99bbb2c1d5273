// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/registry"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxAttempts is the number of tries per candidate.
	DefaultMaxAttempts = 3

	// DefaultAttemptTimeout bounds a single provider call.
	DefaultAttemptTimeout = 60 * time.Second

	// DefaultBaseBackoff is the delay before the second attempt.
	DefaultBaseBackoff = 500 * time.Millisecond

	// DefaultMaxBackoff caps the delay between attempts.
	DefaultMaxBackoff = 10 * time.Second

	// DefaultJitter randomizes half of each delay.
	DefaultJitter = 0.5

	tracerName = "github.com/jeranaias/modelgate/internal/dispatch"
)

// ErrAttemptTimeout wraps a provider error caused by the per-attempt deadline.
var ErrAttemptTimeout = errors.New("attempt timed out")

// Config tunes the retry loop.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration

	// Jitter is the randomized fraction of each backoff delay, in [0, 1].
	Jitter float64
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = DefaultJitter
	}
	return c
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs the retry/failover loop. It is safe for concurrent use once
// configured.
type Executor struct {
	cfg       Config
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	recorder  Recorder
	logger    *slog.Logger
	tracer    trace.Tracer

	// Replaced in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

// NewExecutor creates an Executor. providers is keyed by provider id.
func NewExecutor(cfg Config, providers map[string]Provider, recorder Recorder, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = RecorderFunc(func(Outcome) {})
	}
	return &Executor{
		cfg:       cfg.withDefaults(),
		providers: providers,
		limiters:  make(map[string]*rate.Limiter),
		recorder:  recorder,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		sleep:     sleepContext,
		random:    rand.Float64,
	}
}

// WithLimiter throttles calls to providerID. Call before serving requests.
func (e *Executor) WithLimiter(providerID string, l *rate.Limiter) *Executor {
	e.limiters[providerID] = l
	return e
}

// WithTracer replaces the OpenTelemetry tracer.
func (e *Executor) WithTracer(t trace.Tracer) *Executor {
	e.tracer = t
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute tries candidates in order. It returns the first successful
// response, an *ExhaustedError when every candidate failed, or a Timeout /
// Canceled error when ctx ends first. An Outcome is recorded in every case.
func (e *Executor) Execute(ctx context.Context, candidates []registry.ModelDescriptor, req Request) (*Result, error) {
	const op = "dispatch.Execute"

	ctx, span := e.tracer.Start(ctx, "dispatch.Execute",
		trace.WithAttributes(attribute.Int("modelgate.candidates", len(candidates))))
	defer span.End()

	outcome := Outcome{RequestID: req.RequestID, Started: time.Now()}
	defer func() {
		outcome.Latency = time.Since(outcome.Started)
		e.recorder.Record(outcome)
	}()

	if len(candidates) == 0 {
		outcome.ErrorKind = errs.KindNoCapableModel.String()
		span.SetStatus(codes.Error, "no candidates")
		return nil, errs.E(errs.KindNoCapableModel, op, "no candidates to dispatch")
	}

	abort := func(report CandidateReport) (*Result, error) {
		outcome.Candidates = append(outcome.Candidates, report)
		kind := errs.KindTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = errs.KindCanceled
		}
		outcome.ErrorKind = kind.String()
		span.SetStatus(codes.Error, kind.String())
		e.logger.WarnContext(ctx, "DISPATCH_ABORTED",
			"request_id", req.RequestID,
			"reason", kind.String(),
			"attempts", len(outcome.Attempts))
		cause := ctx.Err()
		if cause == nil {
			cause = context.DeadlineExceeded
		}
		return nil, errs.Wrap(kind, op, cause)
	}

	for ci, cand := range candidates {
		report := CandidateReport{ModelID: cand.ID, ProviderID: cand.ProviderID}

		provider, ok := e.providers[cand.ProviderID]
		if !ok {
			report.LastError = fmt.Sprintf("provider %q not configured", cand.ProviderID)
			outcome.Candidates = append(outcome.Candidates, report)
			e.logger.ErrorContext(ctx, "DISPATCH_NO_PROVIDER", "provider", cand.ProviderID, "model", cand.ID)
			continue
		}

		for n := 1; n <= e.cfg.MaxAttempts; n++ {
			if err := e.wait(ctx, cand.ProviderID); err != nil {
				return abort(report)
			}

			attemptReq := req
			attemptReq.Model = cand
			resp, latency, err := e.attempt(ctx, provider, attemptReq, n)

			report.Attempts++
			report.Latencies = append(report.Latencies, latency)
			att := Attempt{ModelID: cand.ID, ProviderID: cand.ProviderID, Number: n, Latency: latency}

			if err == nil {
				outcome.Attempts = append(outcome.Attempts, att)
				outcome.Candidates = append(outcome.Candidates, report)
				outcome.Success = true
				outcome.ModelID = cand.ID
				outcome.ProviderID = cand.ProviderID
				span.SetAttributes(attribute.String("modelgate.model", cand.ID), attribute.Int("modelgate.attempts", len(outcome.Attempts)))
				e.logger.InfoContext(ctx, "DISPATCH_COMPLETE",
					"request_id", req.RequestID,
					"provider", cand.ProviderID,
					"model", cand.ID,
					"attempts", len(outcome.Attempts),
					"latency_ms", latency.Milliseconds())
				return &Result{Response: resp, Model: cand, Outcome: outcome}, nil
			}

			if ctx.Err() != nil {
				att.Error = err.Error()
				outcome.Attempts = append(outcome.Attempts, att)
				return abort(report)
			}

			transient := errors.Is(err, ErrAttemptTimeout) || IsTransient(err)
			att.Transient = transient
			att.Error = err.Error()
			report.LastError = err.Error()
			outcome.Attempts = append(outcome.Attempts, att)

			e.logger.WarnContext(ctx, "DISPATCH_ATTEMPT_FAILED",
				"request_id", req.RequestID,
				"provider", cand.ProviderID,
				"model", cand.ID,
				"attempt", n,
				"transient", transient,
				"latency_ms", latency.Milliseconds(),
				"error", err.Error())

			if !transient || n == e.cfg.MaxAttempts {
				break
			}
			if err := e.sleep(ctx, e.backoff(n)); err != nil {
				return abort(report)
			}
		}

		outcome.Candidates = append(outcome.Candidates, report)
		if ci+1 < len(candidates) {
			e.logger.WarnContext(ctx, "DISPATCH_FAILOVER",
				"request_id", req.RequestID,
				"from", cand.ID,
				"to", candidates[ci+1].ID)
		}
	}

	outcome.ErrorKind = errs.KindDispatchExhausted.String()
	span.SetStatus(codes.Error, "exhausted")
	e.logger.ErrorContext(ctx, "DISPATCH_EXHAUSTED",
		"request_id", req.RequestID,
		"candidates", len(candidates),
		"attempts", len(outcome.Attempts))
	reports := make([]CandidateReport, len(outcome.Candidates))
	copy(reports, outcome.Candidates)
	return nil, &ExhaustedError{Candidates: reports}
}

// attempt makes one provider call under its own deadline.
func (e *Executor) attempt(ctx context.Context, p Provider, req Request, n int) (*Response, time.Duration, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	actx, span := e.tracer.Start(actx, "dispatch.Attempt", trace.WithAttributes(
		attribute.String("modelgate.provider", req.Model.ProviderID),
		attribute.String("modelgate.provider_kind", req.Model.Kind.String()),
		attribute.String("modelgate.model", req.Model.ID),
		attribute.Int("modelgate.attempt", n),
	))
	defer span.End()

	start := time.Now()
	resp, err := p.Complete(actx, req)
	latency := time.Since(start)

	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrAttemptTimeout, e.cfg.AttemptTimeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt failed")
		return nil, latency, err
	}
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", resp.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.CompletionTokens),
	)
	return resp, latency, nil
}

// wait blocks on the provider's rate limiter, if any.
func (e *Executor) wait(ctx context.Context, providerID string) error {
	l, ok := e.limiters[providerID]
	if !ok {
		return ctx.Err()
	}
	return l.Wait(ctx)
}

// backoff returns the delay after failed attempt n (1-based): exponential in
// n, capped, with the configured fraction randomized.
func (e *Executor) backoff(n int) time.Duration {
	d := e.cfg.BaseBackoff
	for i := 1; i < n && d < e.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	fixed := time.Duration(float64(d) * (1 - e.cfg.Jitter))
	spread := time.Duration(float64(d) * e.cfg.Jitter * e.random())
	return fixed + spread
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
