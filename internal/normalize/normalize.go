// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package normalize

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxPayloadBytes is the decoded size ceiling per attachment.
	DefaultMaxPayloadBytes = 20 * 1024 * 1024

	// DefaultMaxFrames bounds the frames sampled from one video.
	DefaultMaxFrames = 8

	// DefaultConcurrency bounds attachments decoded in parallel per turn.
	DefaultConcurrency = 4
)

// Config configures a Normalizer.
type Config struct {
	MaxPayloadBytes int
	MaxFrames       int
	Concurrency     int
}

// Normalizer validates and decodes turns. It is safe for concurrent use.
type Normalizer struct {
	cfg       Config
	extractor FrameExtractor
}

// New creates a Normalizer. A nil extractor disables video attachments.
func New(cfg Config, extractor FrameExtractor) *Normalizer {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = DefaultMaxFrames
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Normalizer{cfg: cfg, extractor: extractor}
}

// MaxFrames returns the configured frame bound.
func (n *Normalizer) MaxFrames() int {
	return n.cfg.MaxFrames
}

// =============================================================================
// TURNS
// =============================================================================

// NormalizeAll normalizes turns in order.
func (n *Normalizer) NormalizeAll(ctx context.Context, turns []model.Turn) ([]model.Turn, error) {
	out := make([]model.Turn, len(turns))
	for i, t := range turns {
		nt, err := n.Normalize(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
		out[i] = nt
	}
	return out, nil
}

// Normalize validates one turn and decodes its attachments. The input turn is
// not modified.
func (n *Normalizer) Normalize(ctx context.Context, turn model.Turn) (model.Turn, error) {
	const op = "normalize.Normalize"

	if !turn.Role.Valid() {
		return model.Turn{}, errs.E(errs.KindInvalidInput, op, "invalid role %q: must be user or assistant", turn.Role)
	}
	if strings.TrimSpace(turn.Text) == "" && len(turn.Attachments) == 0 {
		return model.Turn{}, errs.E(errs.KindInvalidInput, op, "turn has neither text nor attachments")
	}

	out := turn.Clone()
	if len(out.Attachments) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.Concurrency)
	for i := range out.Attachments {
		g.Go(func() error {
			a, err := n.attachment(gctx, out.Attachments[i])
			if err != nil {
				return fmt.Errorf("attachment %d: %w", i, err)
			}
			out.Attachments[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Turn{}, err
	}
	return out, nil
}

// RequiredModalities returns the union of the modalities carried by turns.
func RequiredModalities(turns []model.Turn) model.ModalitySet {
	var s model.ModalitySet
	for _, t := range turns {
		s = s.Union(t.Modalities())
	}
	return s
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func (n *Normalizer) attachment(ctx context.Context, a model.Attachment) (model.Attachment, error) {
	const op = "normalize.attachment"

	if err := ctx.Err(); err != nil {
		return model.Attachment{}, err
	}

	encoded, urlMIME, err := splitDataURL(a.Data)
	if err != nil {
		return model.Attachment{}, err
	}
	declared := cleanMIME(a.MIMEType)
	if declared == "" {
		declared = urlMIME
	}

	data, err := n.decode(encoded)
	if err != nil {
		return model.Attachment{}, err
	}

	mimeType, modality, err := classify(declared, data)
	if err != nil {
		return model.Attachment{}, err
	}
	if a.Declared != "" {
		tagged, err := model.ParseModality(a.Declared)
		if err != nil {
			return model.Attachment{}, &errs.Error{Kind: errs.KindInvalidInput, Op: op, Err: err}
		}
		if tagged != modality {
			return model.Attachment{}, errs.E(errs.KindInvalidInput, op,
				"attachment tagged %s but content is %s (%s)", tagged, modality, mimeType)
		}
	}

	sum := sha256.Sum256(data)
	payload := &model.Payload{
		Digest:   "sha256:" + hex.EncodeToString(sum[:]),
		MIMEType: mimeType,
		Size:     len(data),
		Data:     data,
	}

	if modality == model.ModalityVideo {
		frames, err := n.frames(ctx, data, mimeType)
		if err != nil {
			return model.Attachment{}, err
		}
		payload.Frames = frames
	}

	a.Modality = modality
	a.MIMEType = mimeType
	a.Size = len(data)
	a.Payload = payload
	return a, nil
}

// decode enforces the size ceiling before and after decoding so oversized
// payloads are rejected without allocating the decoded buffer.
func (n *Normalizer) decode(encoded string) ([]byte, error) {
	const op = "normalize.decode"

	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errs.E(errs.KindInvalidEncoding, op, "empty payload")
	}
	// DecodedLen over-estimates by at most two bytes of padding. Line breaks
	// are skipped by the decoder, so they do not count.
	if base64.StdEncoding.DecodedLen(significantLen(encoded))-2 > n.cfg.MaxPayloadBytes {
		return nil, errs.E(errs.KindPayloadTooLarge, op, "payload exceeds %d bytes", n.cfg.MaxPayloadBytes)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if rawErr != nil {
			return nil, &errs.Error{Kind: errs.KindInvalidEncoding, Op: op, Message: "malformed base64", Err: err}
		}
	}
	if len(data) == 0 {
		return nil, errs.E(errs.KindInvalidEncoding, op, "empty payload")
	}
	if len(data) > n.cfg.MaxPayloadBytes {
		return nil, errs.E(errs.KindPayloadTooLarge, op, "payload of %d bytes exceeds %d", len(data), n.cfg.MaxPayloadBytes)
	}
	return data, nil
}

// significantLen counts the characters of s the base64 decoder consumes.
func significantLen(s string) int {
	return len(s) - strings.Count(s, "\n") - strings.Count(s, "\r")
}

func (n *Normalizer) frames(ctx context.Context, video []byte, mimeType string) ([]model.Frame, error) {
	const op = "normalize.frames"

	if n.extractor == nil {
		return nil, errs.E(errs.KindInvalidInput, op, "video attachments are not supported: no frame extractor configured")
	}
	total, err := n.extractor.FrameCount(ctx, video, mimeType)
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindInvalidInput, Op: op, Message: "cannot read video", Err: err}
	}
	indices := SampleIndices(total, n.cfg.MaxFrames)
	if len(indices) == 0 {
		return nil, errs.E(errs.KindInvalidInput, op, "video has no frames")
	}
	frames, err := n.extractor.Frames(ctx, video, mimeType, indices)
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindInvalidInput, Op: op, Message: "frame extraction failed", Err: err}
	}
	if len(frames) > n.cfg.MaxFrames {
		return nil, errs.E(errs.KindInternal, op, "extractor returned %d frames, bound is %d", len(frames), n.cfg.MaxFrames)
	}
	return frames, nil
}

// SampleIndices picks at most max frame indices out of total with a fixed
// stride of ceil(total/max), starting at frame 0.
func SampleIndices(total, max int) []int {
	if total <= 0 || max <= 0 {
		return nil
	}
	stride := (total + max - 1) / max
	out := make([]int, 0, max)
	for i := 0; i < total && len(out) < max; i += stride {
		out = append(out, i)
	}
	return out
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// splitDataURL strips a "data:<mime>;base64," prefix.
func splitDataURL(s string) (payload, mimeType string, err error) {
	if !strings.HasPrefix(s, "data:") {
		return s, "", nil
	}
	header, payload, ok := strings.Cut(s, ",")
	if !ok {
		return "", "", errs.E(errs.KindInvalidEncoding, "normalize.splitDataURL", "data URL without payload")
	}
	meta := strings.TrimPrefix(header, "data:")
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", errs.E(errs.KindInvalidEncoding, "normalize.splitDataURL", "data URL is not base64 encoded")
	}
	return payload, cleanMIME(strings.TrimSuffix(meta, ";base64")), nil
}

func cleanMIME(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	return strings.ToLower(s)
}

// classify maps a MIME type to a modality, sniffing the content when the
// declared type is missing or generic.
func classify(declared string, data []byte) (string, model.Modality, error) {
	if m, ok := modalityOf(declared); ok {
		return declared, m, nil
	}
	sniffed := cleanMIME(http.DetectContentType(data))
	if m, ok := modalityOf(sniffed); ok {
		return sniffed, m, nil
	}
	if declared == "" {
		declared = sniffed
	}
	return "", 0, errs.E(errs.KindInvalidInput, "normalize.classify", "unsupported attachment type %q", declared)
}

func modalityOf(mimeType string) (model.Modality, bool) {
	major, _, _ := strings.Cut(mimeType, "/")
	switch major {
	case "image":
		return model.ModalityImage, true
	case "audio":
		return model.ModalityAudio, true
	case "video":
		return model.ModalityVideo, true
	case "text":
		return model.ModalityText, true
	}
	switch mimeType {
	case "application/ogg":
		return model.ModalityAudio, true
	case "application/json":
		return model.ModalityText, true
	}
	return 0, false
}
