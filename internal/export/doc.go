// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders a stored session as a downloadable transcript.
//
// # Supported Formats
//
//   - markdown: human-readable transcript with a YAML front matter block
//   - json: the session and its turns, attachment bodies stripped
//
// # Usage
//
//	exp, err := export.For("markdown", nil)
//	content, err := exp.Export(session)
//	name := export.Filename(session, exp)
package export
