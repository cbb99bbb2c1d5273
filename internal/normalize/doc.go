// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package normalize turns raw turns into canonical turns: every attachment is
// decoded, size-checked, classified into a modality, and given a content
// digest. Video attachments are reduced to a bounded set of still frames by a
// pluggable FrameExtractor.
//
// # Key Types
//
//   - Normalizer: validates and decodes turns
//   - FrameExtractor: decodes selected video frames (FFmpegExtractor ships by default)
//
// # Usage
//
//	n := normalize.New(normalize.Config{MaxPayloadBytes: 20 << 20, MaxFrames: 8}, normalize.NewFFmpegExtractor("", ""))
//	turns, err := n.NormalizeAll(ctx, req.Turns)
//	required := normalize.RequiredModalities(turns)
package normalize
