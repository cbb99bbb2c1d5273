// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// fakeExtractor reports a fixed frame count and returns one stub frame per
// requested index.
type fakeExtractor struct {
	total     int
	requested []int
	extra     int
}

func (f *fakeExtractor) FrameCount(context.Context, []byte, string) (int, error) {
	return f.total, nil
}

func (f *fakeExtractor) Frames(_ context.Context, _ []byte, _ string, indices []int) ([]model.Frame, error) {
	f.requested = append([]int(nil), indices...)
	out := make([]model.Frame, 0, len(indices)+f.extra)
	for _, i := range indices {
		out = append(out, model.Frame{Index: i, MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}})
	}
	for i := 0; i < f.extra; i++ {
		out = append(out, model.Frame{Index: -1})
	}
	return out, nil
}

func userTurn(text string, atts ...model.Attachment) model.Turn {
	return model.Turn{Role: model.RoleUser, Text: text, Attachments: atts}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestNormalize_RejectsInvalidTurns(t *testing.T) {
	n := New(Config{}, nil)
	ctx := context.Background()

	_, err := n.Normalize(ctx, model.Turn{Role: "system", Text: "hi"})
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))

	_, err = n.Normalize(ctx, userTurn("   "))
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}

func TestNormalize_TextOnlyPassesThrough(t *testing.T) {
	n := New(Config{}, nil)
	out, err := n.Normalize(context.Background(), userTurn("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, model.NewModalitySet(model.ModalityText), RequiredModalities([]model.Turn{out}))
}

// =============================================================================
// DECODING
// =============================================================================

func TestNormalize_ImageAttachment(t *testing.T) {
	n := New(Config{}, nil)
	in := userTurn("what is this?", model.Attachment{MIMEType: "image/png", Data: b64(pngHeader), FileName: "cat.png"})

	out, err := n.Normalize(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Attachments, 1)

	a := out.Attachments[0]
	assert.Equal(t, model.ModalityImage, a.Modality)
	assert.Equal(t, "cat.png", a.FileName)
	assert.Equal(t, len(pngHeader), a.Size)
	require.NotNil(t, a.Payload)
	assert.True(t, strings.HasPrefix(a.Payload.Digest, "sha256:"))
	assert.Equal(t, pngHeader, a.Payload.Data)

	assert.Nil(t, in.Attachments[0].Payload, "input turn must not be modified")
}

func TestNormalize_DataURLAndSniffing(t *testing.T) {
	n := New(Config{}, nil)

	out, err := n.Normalize(context.Background(), userTurn("", model.Attachment{
		Data: "data:image/png;base64," + b64(pngHeader),
	}))
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.Attachments[0].MIMEType)

	out, err = n.Normalize(context.Background(), userTurn("", model.Attachment{
		MIMEType: "application/octet-stream",
		Data:     b64(pngHeader),
	}))
	require.NoError(t, err)
	assert.Equal(t, model.ModalityImage, out.Attachments[0].Modality, "generic MIME falls back to sniffing")
}

func TestNormalize_UnpaddedBase64(t *testing.T) {
	n := New(Config{}, nil)
	raw := base64.RawStdEncoding.EncodeToString(pngHeader)
	out, err := n.Normalize(context.Background(), userTurn("", model.Attachment{MIMEType: "image/png", Data: raw}))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, out.Attachments[0].Payload.Data)
}

func TestNormalize_InvalidEncoding(t *testing.T) {
	n := New(Config{}, nil)
	for _, data := range []string{"not base64!!", "", "data:image/png,rawbytes"} {
		_, err := n.Normalize(context.Background(), userTurn("x", model.Attachment{MIMEType: "image/png", Data: data}))
		require.Error(t, err, data)
		assert.True(t, errors.Is(err, errs.ErrInvalidEncoding), "%q: %v", data, err)
	}
}

func TestNormalize_PayloadTooLarge(t *testing.T) {
	n := New(Config{MaxPayloadBytes: 1024}, nil)

	big := make([]byte, 4096)
	copy(big, pngHeader)
	_, err := n.Normalize(context.Background(), userTurn("x", model.Attachment{MIMEType: "image/png", Data: b64(big)}))
	assert.True(t, errors.Is(err, errs.ErrPayloadTooLarge))

	// One byte over the ceiling is caught by the exact post-decode check.
	over := make([]byte, 1025)
	copy(over, pngHeader)
	_, err = n.Normalize(context.Background(), userTurn("x", model.Attachment{MIMEType: "image/png", Data: b64(over)}))
	assert.True(t, errors.Is(err, errs.ErrPayloadTooLarge))

	exact := make([]byte, 1024)
	copy(exact, pngHeader)
	_, err = n.Normalize(context.Background(), userTurn("x", model.Attachment{MIMEType: "image/png", Data: b64(exact)}))
	assert.NoError(t, err)
}

func TestNormalize_LineWrappedAtCeiling(t *testing.T) {
	n := New(Config{MaxPayloadBytes: 1000}, nil)

	exact := make([]byte, 1000)
	copy(exact, pngHeader)
	flat := b64(exact)

	var wrapped strings.Builder
	for i := 0; i < len(flat); i += 76 {
		end := min(i+76, len(flat))
		wrapped.WriteString(flat[i:end])
		wrapped.WriteString("\r\n")
	}

	got, err := n.Normalize(context.Background(), userTurn("x", model.Attachment{MIMEType: "image/png", Data: wrapped.String()}))
	require.NoError(t, err)
	assert.Equal(t, 1000, got.Attachments[0].Size)

	over := make([]byte, 1001)
	copy(over, pngHeader)
	_, err = n.Normalize(context.Background(), userTurn("x", model.Attachment{MIMEType: "image/png", Data: b64(over) + "\r\n"}))
	assert.True(t, errors.Is(err, errs.ErrPayloadTooLarge))
}

func TestSignificantLen(t *testing.T) {
	assert.Equal(t, 8, significantLen("QUJD\r\nREVG"))
	assert.Equal(t, 4, significantLen("QUJD"))
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestNormalize_ClassifiesByMIME(t *testing.T) {
	tests := []struct {
		mime string
		want model.Modality
	}{
		{"image/jpeg", model.ModalityImage},
		{"audio/mpeg", model.ModalityAudio},
		{"audio/wav; codecs=1", model.ModalityAudio},
		{"text/markdown", model.ModalityText},
	}
	n := New(Config{}, nil)
	for _, tc := range tests {
		t.Run(tc.mime, func(t *testing.T) {
			out, err := n.Normalize(context.Background(), userTurn("", model.Attachment{MIMEType: tc.mime, Data: b64([]byte("payload"))}))
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Attachments[0].Modality)
		})
	}
}

func TestNormalize_TagMismatch(t *testing.T) {
	n := New(Config{}, nil)
	_, err := n.Normalize(context.Background(), userTurn("", model.Attachment{
		Declared: "audio", MIMEType: "image/png", Data: b64(pngHeader),
	}))
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}

func TestNormalize_UnsupportedType(t *testing.T) {
	n := New(Config{}, nil)
	_, err := n.Normalize(context.Background(), userTurn("", model.Attachment{
		MIMEType: "application/zip", Data: b64([]byte{0x50, 0x4b, 0x03, 0x04, 0x00}),
	}))
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}

// =============================================================================
// VIDEO
// =============================================================================

func TestSampleIndices(t *testing.T) {
	tests := []struct {
		total, max int
		want       []int
	}{
		{0, 8, nil},
		{5, 8, []int{0, 1, 2, 3, 4}},
		{8, 8, []int{0, 1, 2, 3, 4, 5, 6, 7}},
		{100, 4, []int{0, 25, 50, 75}},
		{10, 3, []int{0, 4, 8}},
		{10, 0, nil},
	}
	for _, tc := range tests {
		got := SampleIndices(tc.total, tc.max)
		assert.Equal(t, tc.want, got, "total=%d max=%d", tc.total, tc.max)
		assert.LessOrEqual(t, len(got), tc.max)
	}
}

func TestNormalize_VideoFramesBounded(t *testing.T) {
	ext := &fakeExtractor{total: 240}
	n := New(Config{MaxFrames: 6}, ext)

	out, err := n.Normalize(context.Background(), userTurn("summarize", model.Attachment{
		MIMEType: "video/mp4", Data: b64([]byte("fake mp4 bytes")),
	}))
	require.NoError(t, err)

	a := out.Attachments[0]
	assert.Equal(t, model.ModalityVideo, a.Modality)
	assert.Len(t, a.Payload.Frames, 6)
	assert.Equal(t, []int{0, 40, 80, 120, 160, 200}, ext.requested)

	// Same input, same frames.
	again, err := n.Normalize(context.Background(), userTurn("summarize", model.Attachment{
		MIMEType: "video/mp4", Data: b64([]byte("fake mp4 bytes")),
	}))
	require.NoError(t, err)
	assert.Equal(t, a.Payload.Frames, again.Attachments[0].Payload.Frames)
}

func TestNormalize_VideoExtractorOverflowRejected(t *testing.T) {
	n := New(Config{MaxFrames: 2}, &fakeExtractor{total: 10, extra: 1})
	_, err := n.Normalize(context.Background(), userTurn("", model.Attachment{MIMEType: "video/mp4", Data: b64([]byte("v"))}))
	require.Error(t, err)
}

func TestNormalize_VideoWithoutExtractor(t *testing.T) {
	n := New(Config{}, nil)
	_, err := n.Normalize(context.Background(), userTurn("", model.Attachment{MIMEType: "video/mp4", Data: b64([]byte("v"))}))
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
}

func TestRequiredModalities_AcrossTurns(t *testing.T) {
	turns := []model.Turn{
		{Role: model.RoleUser, Attachments: []model.Attachment{{Modality: model.ModalityImage}}},
		{Role: model.RoleAssistant, Text: "a cat"},
		{Role: model.RoleUser, Text: "and this?", Attachments: []model.Attachment{{Modality: model.ModalityAudio}}},
	}
	assert.Equal(t,
		model.NewModalitySet(model.ModalityText, model.ModalityImage, model.ModalityAudio),
		RequiredModalities(turns))
}

func TestNormalizeAll_ReportsTurnIndex(t *testing.T) {
	n := New(Config{}, nil)
	_, err := n.NormalizeAll(context.Background(), []model.Turn{userTurn("ok"), {Role: model.RoleUser}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn 1")
}
