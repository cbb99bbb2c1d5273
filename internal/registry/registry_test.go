// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
)

var (
	textSet   = model.NewModalitySet(model.ModalityText)
	visionSet = model.NewModalitySet(model.ModalityText, model.ModalityImage)
)

func testProviders() []ProviderSpec {
	return []ProviderSpec{
		{ID: "siliconflow", Kind: "openai"},
		{ID: "groq", Kind: "openai"},
		{ID: "local", Kind: "ollama"},
	}
}

func testModels() []ModelSpec {
	return []ModelSpec{
		{ID: "deepseek", Provider: "siliconflow", Modalities: []string{"text"}, Default: true},
		{ID: "qwen", Provider: "siliconflow", Modalities: []string{"text"}},
		{ID: "scout", Provider: "groq", Modalities: []string{"text", "image"}},
		{ID: "llava", Provider: "local", Modalities: []string{"text", "image"}},
	}
}

func mustLoad(t *testing.T) *Registry {
	t.Helper()
	reg, err := Load(testProviders(), testModels())
	require.NoError(t, err)
	return reg
}

func TestLoad_ResolvesProviderKinds(t *testing.T) {
	reg := mustLoad(t)
	require.Equal(t, 4, reg.Len())

	d, err := reg.Lookup("llava")
	require.NoError(t, err)
	assert.Equal(t, KindOllama, d.Kind)
	assert.Equal(t, "llava", d.Name, "name falls back to id")
	assert.True(t, d.SupportsImage())

	d, err = reg.Lookup("scout")
	require.NoError(t, err)
	assert.Equal(t, KindOpenAI, d.Kind)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		models []ModelSpec
	}{
		{"duplicate id", []ModelSpec{
			{ID: "a", Provider: "groq", Modalities: []string{"text"}},
			{ID: "a", Provider: "groq", Modalities: []string{"text"}},
		}},
		{"unknown provider", []ModelSpec{{ID: "a", Provider: "nope", Modalities: []string{"text"}}}},
		{"no modalities", []ModelSpec{{ID: "a", Provider: "groq"}}},
		{"bad modality", []ModelSpec{{ID: "a", Provider: "groq", Modalities: []string{"smell"}}}},
		{"reserved id", []ModelSpec{{ID: "auto", Provider: "groq", Modalities: []string{"text"}}}},
		{"empty id", []ModelSpec{{ID: " ", Provider: "groq", Modalities: []string{"text"}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(testProviders(), tc.models)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrInvalidInput))
		})
	}

	_, err := Load([]ProviderSpec{{ID: "x", Kind: "grpc"}}, nil)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}

func TestLookup_Unknown(t *testing.T) {
	reg := mustLoad(t)
	_, err := reg.Lookup("gpt-9")
	assert.True(t, errors.Is(err, errs.ErrUnknownModel))
}

func TestDefaultFor(t *testing.T) {
	reg := mustLoad(t)

	d, err := reg.DefaultFor(textSet)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", d.ID, "flagged default wins")

	d, err = reg.DefaultFor(visionSet)
	require.NoError(t, err)
	assert.Equal(t, "scout", d.ID, "first covering model in declaration order")

	_, err = reg.DefaultFor(model.NewModalitySet(model.ModalityAudio))
	assert.True(t, errors.Is(err, errs.ErrNoCapableModel))
}

func TestList_DeclarationOrderAndCopy(t *testing.T) {
	reg := mustLoad(t)
	list := reg.List()
	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"deepseek", "qwen", "scout", "llava"}, ids)

	list[0].ID = "mutated"
	again := reg.List()
	assert.Equal(t, "deepseek", again[0].ID)
}
