// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/modelgate/internal/dispatch"
	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/registry"
)

func llavaRequest(turns ...model.Turn) dispatch.Request {
	return dispatch.Request{
		Model: registry.ModelDescriptor{ID: "llava", ProviderID: "ollama", Kind: registry.KindOllama, ContextWindow: 4096},
		Turns: turns,
	}
}

// =============================================================================
// COMPLETE
// =============================================================================

func TestComplete_SendsImagesAndFrames(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"model":"llava","message":{"role":"assistant","content":"a cat"},"done":true,"prompt_eval_count":40,"eval_count":2}`)
	}))
	defer srv.Close()

	turn := model.Turn{
		Role: model.RoleUser,
		Text: "what is this",
		Attachments: []model.Attachment{
			{Modality: model.ModalityImage, Payload: &model.Payload{Data: []byte("img")}},
			{Modality: model.ModalityVideo, Payload: &model.Payload{Frames: []model.Frame{{Data: []byte{1}}, {Data: []byte{2}}}}},
		},
	}
	req := llavaRequest(turn)
	req.SystemPrompt = "short answers"
	req.Temperature = 0.7
	req.MaxTokens = 100

	resp, err := NewClient("ollama", srv.URL).Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "a cat", resp.Text)
	assert.Equal(t, 40, resp.PromptTokens)
	assert.Equal(t, 2, resp.CompletionTokens)

	assert.Equal(t, "llava", got.Model)
	assert.False(t, got.Stream)
	require.NotNil(t, got.Options)
	assert.InDelta(t, 0.7, got.Options.Temperature, 1e-9)
	assert.Equal(t, 100, got.Options.NumPredict)
	assert.Equal(t, 4096, got.Options.NumCtx)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, []string{"aW1n", "AQ==", "Ag=="}, got.Messages[1].Images)
}

func TestComplete_AudioRejectedWithoutRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	turn := model.Turn{Role: model.RoleUser, Attachments: []model.Attachment{{Modality: model.ModalityAudio}}}
	_, err := NewClient("ollama", srv.URL).Complete(context.Background(), llavaRequest(turn))
	require.ErrorIs(t, err, ErrAudio)
	assert.False(t, dispatch.IsTransient(err))
	assert.Zero(t, calls.Load())
}

func TestComplete_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		notFound  bool
	}{
		{"model missing", http.StatusNotFound, `{"error":"model 'llava' not found"}`, false, true},
		{"overloaded", http.StatusServiceUnavailable, `{"error":"server busy"}`, true, false},
		{"bad request", http.StatusBadRequest, `nope`, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := NewClient("ollama", srv.URL).Complete(context.Background(), llavaRequest(model.Turn{Role: model.RoleUser, Text: "x"}))
			require.Error(t, err)
			if got := dispatch.IsTransient(err); got != tc.transient {
				t.Errorf("IsTransient() = %v, want %v (%v)", got, tc.transient, err)
			}
			if got := IsModelNotFound(err); got != tc.notFound {
				t.Errorf("IsModelNotFound() = %v, want %v", got, tc.notFound)
			}
		})
	}
}

func TestComplete_NotRunningIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient("ollama", url).Complete(context.Background(), llavaRequest(model.Turn{Role: model.RoleUser, Text: "x"}))
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
	assert.True(t, errors.Is(err, ErrNotRunning))
	assert.True(t, dispatch.IsTransient(err))
}

func TestComplete_CallerCancellationPassesThrough(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient("ollama", srv.URL).Complete(ctx, llavaRequest(model.Turn{Role: model.RoleUser, Text: "x"}))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, dispatch.IsTransient(err))
}

// =============================================================================
// HEALTH & MODELS
// =============================================================================

func TestCheckRunningAndListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, "Ollama is running")
		case "/api/tags":
			io.WriteString(w, `{"models":[{"name":"llava:latest","size":4700000000}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient("ollama", srv.URL+"/")
	require.NoError(t, c.CheckRunning(context.Background()))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llava:latest", models[0].Name)
	assert.Equal(t, "4.4 GB", models[0].FormatSize())
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{2 * 1024 * 1024 * 1024, "2.0 GB"},
	}
	for _, tc := range tests {
		m := &ModelInfo{Size: tc.size}
		if got := m.FormatSize(); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}
