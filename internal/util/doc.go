// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across modelgate packages.
//
// # Key Functions
//
//   - TruncateRunes: UTF-8 safe truncation
//   - Headline: single-line, whitespace-collapsed prefix of a text
//   - MaskSecret: redacts API keys for display
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	title := util.Headline(firstUserText, 50)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
