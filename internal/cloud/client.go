// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/modelgate/internal/dispatch"
)

// Configuration constants for OpenAI-compatible endpoints.
const (
	// DefaultTimeout bounds a request when the caller's context has no deadline.
	DefaultTimeout = 120 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "modelgate/1.0"
)

// sharedTransport pools connections across every cloud client.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// Error variables for common provider failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("provider API key not configured")

	// ErrEmptyResponse indicates a 200 response with no choices.
	ErrEmptyResponse = errors.New("provider returned no choices")

	// ErrUnsupportedContent indicates an attachment the wire format cannot carry.
	ErrUnsupportedContent = errors.New("unsupported attachment")
)

// =============================================================================
// ERRORS
// =============================================================================

// APIError is a non-2xx response from the provider.
type APIError struct {
	Provider string
	Status   int
	Code     string
	Message  string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Provider, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Provider, e.Status, e.Message)
}

// Temporary reports whether the request may succeed if repeated: rate
// limiting and server-side failures.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// apiErrorResponse is the OpenAI error envelope. Some providers send code as
// a number, so it is decoded loosely.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to one OpenAI-compatible endpoint. Safe for concurrent use.
type Client struct {
	id         string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	headers    map[string]string
}

// NewClient creates a client for the provider id at baseURL (including the
// version segment, e.g. ".../v1").
func NewClient(id, baseURL, apiKey string) *Client {
	return &Client{
		id:         id,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Transport: sharedTransport, Timeout: DefaultTimeout},
		logger:     slog.Default(),
		headers:    make(map[string]string),
	}
}

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// WithHeader adds a static header to every request, e.g. OpenRouter's
// HTTP-Referer and X-Title.
func (c *Client) WithHeader(key, value string) *Client {
	c.headers[key] = value
	return c
}

// ID returns the provider id.
func (c *Client) ID() string {
	return c.id
}

// IsConfigured returns true if the client has an API key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// Complete sends one chat completion request. It implements dispatch.Provider.
func (c *Client) Complete(ctx context.Context, req dispatch.Request) (*dispatch.Response, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("%s: %w", c.id, ErrNotConfigured)
	}

	messages, err := buildMessages(req)
	if err != nil {
		return nil, err
	}

	body := chatRequest{
		Model:       req.Model.ID,
		Messages:    messages,
		Stream:      false,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var chatResp chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", body, &chatResp); err != nil {
		return nil, err
	}
	if len(chatResp.Choices) == 0 {
		return nil, dispatch.Transient(fmt.Errorf("%s: %w", c.id, ErrEmptyResponse))
	}

	return &dispatch.Response{
		Text:             chatResp.Choices[0].Message.Content,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

// ModelInfo is an entry of the provider's model listing.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ListModels retrieves the models the endpoint serves.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var resp struct {
		Data []ModelInfo `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// do performs one request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return dispatch.Transient(fmt.Errorf("%s: request failed: %w", c.id, err))
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "PROVIDER_RESPONSE",
		"provider", c.id,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	raw, err := readResponse(resp)
	if err != nil {
		return dispatch.Transient(fmt.Errorf("%s: %w", c.id, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", c.id, err)
	}
	return nil
}

// readResponse reads the body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

func (c *Client) errorFromResponse(status int, body []byte) *APIError {
	apiErr := &APIError{Provider: c.id, Status: status}

	var env apiErrorResponse
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Message = env.Error.Message
		if apiErr.Message == "" {
			apiErr.Message = env.Message
		}
		apiErr.Code = strings.Trim(string(env.Error.Code), `"`)
		if apiErr.Code == "null" {
			apiErr.Code = ""
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		if len(apiErr.Message) > 512 {
			apiErr.Message = apiErr.Message[:512]
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
