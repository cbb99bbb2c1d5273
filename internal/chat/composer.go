// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/modelgate/internal/dispatch"
	"github.com/jeranaias/modelgate/internal/router"
	"github.com/jeranaias/modelgate/internal/search"
)

// compose combines the provider answer with its provenance. Session fields
// are filled by the caller.
func compose(result *dispatch.Result, decision router.Decision, aug search.Augmentation) *Response {
	resp := &Response{
		Answer:          result.Response.Text,
		ModelID:         result.Model.ID,
		ProviderID:      result.Model.ProviderID,
		SearchPerformed: aug.Performed,
		Attempts:        result.Outcome.AttemptCount(),
		Candidates:      decision.CandidateIDs(),
		Usage: Usage{
			PromptTokens:     result.Response.PromptTokens,
			CompletionTokens: result.Response.CompletionTokens,
			TotalTokens:      result.Response.PromptTokens + result.Response.CompletionTokens,
		},
	}
	if aug.Performed {
		for _, sn := range aug.Snippets {
			resp.Sources = append(resp.Sources, Source{Title: sn.Title, URL: sn.Source})
		}
	}
	return resp
}
