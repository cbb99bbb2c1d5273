// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MODALITY TESTS
// =============================================================================

func TestParseModality(t *testing.T) {
	tests := []struct {
		in      string
		want    Modality
		wantErr bool
	}{
		{"text", ModalityText, false},
		{"IMAGE", ModalityImage, false},
		{" audio ", ModalityAudio, false},
		{"video", ModalityVideo, false},
		{"hologram", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseModality(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestModalitySet_Covers(t *testing.T) {
	textOnly := NewModalitySet(ModalityText)
	vision := NewModalitySet(ModalityText, ModalityImage)

	assert.True(t, vision.Covers(textOnly))
	assert.False(t, textOnly.Covers(vision))
	assert.True(t, vision.Covers(0))
	assert.Equal(t, NewModalitySet(ModalityImage), textOnly.Missing(vision))
}

func TestModalitySet_CanonicalOrder(t *testing.T) {
	s := NewModalitySet(ModalityVideo, ModalityText, ModalityImage)
	assert.Equal(t, []string{"text", "image", "video"}, s.Strings())
	assert.Equal(t, "{text,image,video}", s.String())
}

func TestModalitySet_JSON(t *testing.T) {
	s := NewModalitySet(ModalityText, ModalityAudio)
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["text","audio"]`, string(b))

	var back ModalitySet
	require.NoError(t, json.Unmarshal([]byte(`["audio","text"]`), &back))
	assert.Equal(t, s, back)

	require.Error(t, json.Unmarshal([]byte(`["smell"]`), &back))
}

// =============================================================================
// TURN TESTS
// =============================================================================

func TestTurn_Modalities(t *testing.T) {
	turn := Turn{
		Role: RoleUser,
		Text: "what is this?",
		Attachments: []Attachment{
			{Modality: ModalityImage},
			{Modality: ModalityVideo},
		},
	}
	assert.Equal(t, NewModalitySet(ModalityText, ModalityImage, ModalityVideo), turn.Modalities())

	imageOnly := Turn{Role: RoleUser, Attachments: []Attachment{{Modality: ModalityImage}}}
	assert.Equal(t, NewModalitySet(ModalityImage), imageOnly.Modalities())
}

func TestTurn_CloneDoesNotAliasAttachments(t *testing.T) {
	orig := Turn{Attachments: []Attachment{{FileName: "a.png"}}}
	cp := orig.Clone()
	cp.Attachments[0].FileName = "b.png"
	assert.Equal(t, "a.png", orig.Attachments[0].FileName)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())
}
