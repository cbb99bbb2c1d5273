// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch sends a request to an ordered list of candidate models,
// retrying transient failures with exponential backoff and jitter and failing
// over to the next candidate once a candidate's retries are spent.
//
// # Key Types
//
//   - Executor: runs the retry/failover loop
//   - Provider: one backend protocol (see internal/cloud and internal/ollama)
//   - Outcome: the record of every attempt, always handed to a Recorder
//   - ExhaustedError: returned when every candidate failed
//
// # Usage
//
//	exec := dispatch.NewExecutor(dispatch.Config{MaxAttempts: 3}, providers, recorder, logger)
//	res, err := exec.Execute(ctx, decision.Candidates, req)
//
// # Retry Policy
//
// Per-attempt timeouts, HTTP 429, HTTP 5xx and network timeouts are transient.
// Anything else ends the current candidate immediately. Cancellation of the
// caller's context stops everything, including a pending backoff sleep.
package dispatch
