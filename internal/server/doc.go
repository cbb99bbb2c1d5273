// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes modelgate over JSON/HTTP.
//
// Endpoints:
//   - POST   /v1/chat                    - Route, dispatch and persist one chat turn
//   - GET    /v1/models                  - Registry snapshot
//   - POST   /v1/sessions                - Create a session
//   - GET    /v1/sessions                - List sessions, most recent first
//   - GET    /v1/sessions/{id}           - Session with its turns
//   - PATCH  /v1/sessions/{id}           - Rename
//   - POST   /v1/sessions/{id}/archive   - Archive
//   - DELETE /v1/sessions/{id}           - Delete, returns the removed session
//   - GET    /v1/sessions/{id}/turns     - Ordered turns
//   - GET    /v1/sessions/{id}/export    - Markdown or JSON transcript download
//   - GET    /v1/turns/search            - Substring search over turn text
//   - GET    /health                     - Liveness and store reachability
//   - GET    /stats                      - Request and dispatch counters
//
// Errors are returned as {"error":{"kind","message","candidates?"}} with the
// HTTP status derived from the error kind.
package server
