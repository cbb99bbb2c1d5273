// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenAI-compatible chat completions client.
//
// SiliconFlow, Groq and OpenRouter all speak the same /chat/completions
// dialect, so one Client serves every provider of kind "openai". The client
// makes exactly one HTTP call per Complete; retries and failover belong to
// the dispatch executor, which reads Temporary() on the returned errors.
//
// # Content mapping
//
//   - text: a "text" content part
//   - image: an "image_url" part carrying a data: URL
//   - audio: an "input_audio" part with base64 data and a format
//   - video: each sampled frame as an "image_url" part
//
// Turns without attachments are sent as plain string content.
//
// # Usage
//
//	client := cloud.NewClient("siliconflow", "https://api.siliconflow.cn/v1", apiKey)
//	resp, err := client.Complete(ctx, dispatch.Request{Model: desc, Turns: turns})
//
// API keys are never logged; use KeyFingerprint for diagnostics.
package cloud
