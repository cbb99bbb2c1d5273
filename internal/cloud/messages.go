// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jeranaias/modelgate/internal/dispatch"
	"github.com/jeranaias/modelgate/internal/model"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage holds either a string or a []contentPart in Content.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ImageURL   *imageURL   `json:"image_url,omitempty"`
	InputAudio *inputAudio `json:"input_audio,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type inputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// =============================================================================
// MAPPING
// =============================================================================

// buildMessages maps the request onto the chat completions message list.
func buildMessages(req dispatch.Request) ([]chatMessage, error) {
	messages := make([]chatMessage, 0, len(req.Turns)+1)
	if sys := req.Instructions(); sys != "" {
		messages = append(messages, chatMessage{Role: "system", Content: sys})
	}

	for i, turn := range req.Turns {
		if len(turn.Attachments) == 0 {
			messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Text})
			continue
		}

		parts := make([]contentPart, 0, len(turn.Attachments)+1)
		if turn.Text != "" {
			parts = append(parts, contentPart{Type: "text", Text: turn.Text})
		}
		for j, a := range turn.Attachments {
			ps, err := attachmentParts(a)
			if err != nil {
				return nil, fmt.Errorf("turn %d attachment %d: %w", i, j, err)
			}
			parts = append(parts, ps...)
		}
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: parts})
	}
	return messages, nil
}

func attachmentParts(a model.Attachment) ([]contentPart, error) {
	switch a.Modality {
	case model.ModalityImage:
		return []contentPart{imagePart(a.MIMEType, payloadBytes(a), a.Data)}, nil

	case model.ModalityAudio:
		data := a.Data
		if a.Payload != nil {
			data = base64.StdEncoding.EncodeToString(a.Payload.Data)
		} else if _, rest, ok := strings.Cut(data, ","); ok && strings.HasPrefix(data, "data:") {
			data = rest
		}
		return []contentPart{{
			Type:       "input_audio",
			InputAudio: &inputAudio{Data: data, Format: audioFormat(a.MIMEType)},
		}}, nil

	case model.ModalityVideo:
		if a.Payload == nil || len(a.Payload.Frames) == 0 {
			return nil, fmt.Errorf("%w: video without sampled frames", ErrUnsupportedContent)
		}
		parts := make([]contentPart, 0, len(a.Payload.Frames))
		for _, f := range a.Payload.Frames {
			parts = append(parts, imagePart(f.MIMEType, f.Data, ""))
		}
		return parts, nil

	case model.ModalityText:
		if a.Payload != nil {
			return []contentPart{{Type: "text", Text: string(a.Payload.Data)}}, nil
		}
		b, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: text attachment is not base64", ErrUnsupportedContent)
		}
		return []contentPart{{Type: "text", Text: string(b)}}, nil
	}
	return nil, fmt.Errorf("%w: modality %s", ErrUnsupportedContent, a.Modality)
}

func payloadBytes(a model.Attachment) []byte {
	if a.Payload == nil {
		return nil
	}
	return a.Payload.Data
}

// imagePart builds an image_url part. When raw is nil the original encoded
// data is used, wrapped in a data: URL if it is not one already.
func imagePart(mime string, raw []byte, encoded string) contentPart {
	if mime == "" {
		mime = "image/jpeg"
	}
	var url string
	switch {
	case raw != nil:
		url = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
	case strings.HasPrefix(encoded, "data:"):
		url = encoded
	default:
		url = "data:" + mime + ";base64," + encoded
	}
	return contentPart{Type: "image_url", ImageURL: &imageURL{URL: url}}
}

// audioFormat maps a MIME type onto the input_audio format names.
func audioFormat(mime string) string {
	mime = strings.ToLower(mime)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch mime {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "", "application/octet-stream":
		return "wav"
	}
	if _, sub, ok := strings.Cut(mime, "/"); ok {
		return strings.TrimPrefix(sub, "x-")
	}
	return mime
}
