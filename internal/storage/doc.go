// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session and turn persistence.
//
// Two implementations of Store are provided: MemoryStore for tests and
// ephemeral deployments, and SQLiteStore for durable storage.
//
// # Key Types
//
//   - Store: persistence interface used by the chat service and HTTP API
//   - MemoryStore: in-process store with per-session locks
//   - SQLiteStore: modernc.org/sqlite backed store with cascade deletes
//   - Stats: counters for the stats endpoint
//
// # Usage
//
//	store, err := storage.OpenSQLite(ctx, "~/.modelgate/modelgate.db")
//	sess, err := store.CreateSession(ctx, "", "auto")
//	turn, err := store.AppendTurn(ctx, sess.ID, model.Turn{Role: model.RoleUser, Text: "hi"})
//
// # Concurrency
//
// Appends to the same session are serialized; appends to different sessions
// may proceed in parallel. Readers see either all or none of an append, and a
// deleted session disappears together with its turns.
package storage
