// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for a local Ollama server.
//
// The client serves models of provider kind "ollama" through the
// non-streaming /api/chat endpoint. Images and sampled video frames travel
// as base64 strings in the message's images field. Ollama has no audio
// input, so audio attachments are rejected before any request is made.
//
// # Key Types
//
//   - Client: implements dispatch.Provider
//   - ClientError: classified failure with Temporary() for the executor
//
// # Usage
//
//	client := ollama.NewClient("ollama", "http://127.0.0.1:11434")
//	if err := client.CheckRunning(ctx); err != nil {
//	    logger.Warn("OLLAMA_UNAVAILABLE", "error", err)
//	}
//	resp, err := client.Complete(ctx, dispatch.Request{Model: desc, Turns: turns})
package ollama
