// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides logging and dispatch analytics for modelgate.
//
// # Key Types
//
//   - LogConfig: handler format and level for NewLogger
//   - Tracker: dispatch.Recorder that aggregates outcomes per provider
//   - Snapshot: point-in-time copy of the tracker, served by GET /stats
//
// # Usage
//
//	logger := telemetry.NewLogger(telemetry.LogConfig{Level: "info", Format: "json"}, os.Stderr)
//	tracker := telemetry.NewTracker(100)
//	exec := dispatch.NewExecutor(cfg, providers, tracker, logger)
//
// Request-scoped values travel on the context:
//
//	ctx = telemetry.WithRequestID(ctx, id)
//	telemetry.LoggerFrom(ctx, logger).Info("REQUEST_COMPLETE", "status", 200)
//
// # Privacy
//
// Only counts, latencies, ids and error strings are kept. Prompt and answer
// text never reach the tracker.
package telemetry
