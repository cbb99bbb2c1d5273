// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"net/http"

	"github.com/jeranaias/modelgate/internal/dispatch"
	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/telemetry"
)

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Kind       string          `json:"kind"`
	Message    string          `json:"message"`
	Candidates []CandidateView `json:"candidates,omitempty"`
}

// CandidateView reports the attempts made against one candidate of an
// exhausted dispatch.
type CandidateView struct {
	ModelID     string  `json:"model_id"`
	ProviderID  string  `json:"provider_id"`
	Attempts    int     `json:"attempts"`
	LatenciesMs []int64 `json:"latencies_ms"`
	LastError   string  `json:"last_error,omitempty"`
}

// StatusClientClosedRequest reports a request the client abandoned before a
// response was ready (nginx's 499).
const StatusClientClosedRequest = 499

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidInput, errs.KindInvalidEncoding:
		return http.StatusBadRequest
	case errs.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case errs.KindUnknownModel, errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindIncapableModel, errs.KindNoCapableModel:
		return http.StatusUnprocessableEntity
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindDispatchExhausted:
		return http.StatusBadGateway
	case errs.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as the error envelope. Internal errors are logged in
// full and reported generically.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := StatusFor(kind)
	detail := ErrorDetail{Kind: kind.String(), Message: err.Error()}

	logger := telemetry.LoggerFrom(r.Context(), s.logger)
	if status >= http.StatusInternalServerError && kind == errs.KindInternal {
		logger.ErrorContext(r.Context(), "REQUEST_FAILED",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error())
		detail.Message = "internal error"
	} else {
		logger.DebugContext(r.Context(), "REQUEST_REJECTED",
			"kind", detail.Kind,
			"status", status,
			"error", err.Error())
	}

	var exhausted *dispatch.ExhaustedError
	if errors.As(err, &exhausted) {
		detail.Candidates = candidateViews(exhausted.Candidates)
	}

	s.writeJSON(w, status, ErrorResponse{Error: detail})
}

// writeErrorKind writes an envelope for failures that do not come from the
// domain packages (auth, rate limiting).
func writeErrorKind(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Kind: kind, Message: message}})
}

func candidateViews(reports []dispatch.CandidateReport) []CandidateView {
	out := make([]CandidateView, len(reports))
	for i, c := range reports {
		ms := make([]int64, len(c.Latencies))
		for j, l := range c.Latencies {
			ms[j] = l.Milliseconds()
		}
		out[i] = CandidateView{
			ModelID:     c.ModelID,
			ProviderID:  c.ProviderID,
			Attempts:    c.Attempts,
			LatenciesMs: ms,
			LastError:   c.LastError,
		}
	}
	return out
}
