// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/modelgate/internal/dispatch"
	"github.com/jeranaias/modelgate/internal/model"
)

// DefaultBaseURL uses an explicit IPv4 address to avoid IPv6 resolution of
// localhost on some platforms.
const DefaultBaseURL = "http://127.0.0.1:11434"

// maxResponseSize bounds decoded response bodies.
const maxResponseSize = 10 * 1024 * 1024

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeUnsupported
	ErrTypeServer
	ErrTypeInvalidResponse
)

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Status  int
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Temporary reports whether a retry may help. A server that is starting or
// overloaded recovers; a missing model or unsupported input does not.
func (e *ClientError) Temporary() bool {
	switch e.Type {
	case ErrTypeNotRunning, ErrTypeTimeout, ErrTypeServer:
		return true
	}
	return false
}

// Is matches the package sentinels by type.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Cause == nil && t.Status == 0 && e.Type == t.Type
}

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrAudio         = &ClientError{Type: ErrTypeUnsupported, Message: "Ollama does not accept audio input"}
)

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API. Safe for concurrent use.
type Client struct {
	id         string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the provider id. An empty baseURL uses
// DefaultBaseURL.
func NewClient(id, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		id:         id,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// ID returns the provider id.
func (c *Client) ID() string {
	return c.id
}

// CheckRunning verifies that Ollama is reachable.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, err)
	}
	drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeServer,
			Status:  resp.StatusCode,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}
	return nil
}

// ListModels retrieves all locally available models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// Complete sends a non-streaming chat request. It implements
// dispatch.Provider.
func (c *Client) Complete(ctx context.Context, req dispatch.Request) (*dispatch.Response, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return nil, err
	}

	body := ChatRequest{
		Model:    req.Model.ID,
		Messages: messages,
		Stream:   false,
		Options: &Options{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
			NumCtx:      req.Model.ContextWindow,
		},
	}

	var result ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", body, &result); err != nil {
		return nil, err
	}

	return &dispatch.Response{
		Text:             result.Message.Content,
		PromptTokens:     result.PromptEvalCount,
		CompletionTokens: result.EvalCount,
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &ClientError{Type: ErrTypeUnknown, Message: "failed to marshal request", Cause: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &ClientError{Type: ErrTypeServer, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		var ollamaErr OllamaError
		if json.Unmarshal(raw, &ollamaErr) == nil && ollamaErr.Error != "" {
			msg = ollamaErr.Error
		}
		typ := ErrTypeInvalidResponse
		switch {
		case resp.StatusCode == http.StatusNotFound:
			typ = ErrTypeModelNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			typ = ErrTypeServer
		}
		return &ClientError{Type: typ, Status: resp.StatusCode, Message: fmt.Sprintf("%s: %s", c.id, msg)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// transportError classifies a failed round trip. The caller's own
// cancellation is returned as-is.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
}

// buildMessages maps the request onto Ollama messages.
func buildMessages(req dispatch.Request) ([]Message, error) {
	messages := make([]Message, 0, len(req.Turns)+1)
	if sys := req.Instructions(); sys != "" {
		messages = append(messages, Message{Role: "system", Content: sys})
	}

	for _, turn := range req.Turns {
		msg := Message{Role: string(turn.Role), Content: turn.Text}
		for _, a := range turn.Attachments {
			switch a.Modality {
			case model.ModalityImage:
				msg.Images = append(msg.Images, encodedImage(a))
			case model.ModalityVideo:
				if a.Payload == nil || len(a.Payload.Frames) == 0 {
					return nil, &ClientError{Type: ErrTypeUnsupported, Message: "video without sampled frames"}
				}
				for _, f := range a.Payload.Frames {
					msg.Images = append(msg.Images, base64.StdEncoding.EncodeToString(f.Data))
				}
			case model.ModalityAudio:
				return nil, ErrAudio
			case model.ModalityText:
				if a.Payload != nil {
					msg.Content = joinText(msg.Content, string(a.Payload.Data))
				}
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func encodedImage(a model.Attachment) string {
	if a.Payload != nil {
		return base64.StdEncoding.EncodeToString(a.Payload.Data)
	}
	if strings.HasPrefix(a.Data, "data:") {
		if _, rest, ok := strings.Cut(a.Data, ","); ok {
			return rest
		}
	}
	return a.Data
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.Type == ErrTypeModelNotFound
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.Type == ErrTypeNotRunning
}

// drainAndClose lets the transport reuse the connection.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
