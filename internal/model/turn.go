// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// ATTACHMENT
// =============================================================================

// Attachment is an uploaded payload. Data holds the base64 encoding as
// received (optionally a data: URL). Declared is the client-supplied modality
// tag, possibly empty; Modality and Payload are filled by the normalizer.
type Attachment struct {
	Declared string   `json:"-"`
	Modality Modality `json:"modality"`
	MIMEType string   `json:"mime_type,omitempty"`
	Data     string   `json:"data,omitempty"`
	FileName string   `json:"file_name,omitempty"`
	Size     int      `json:"size,omitempty"`

	Payload *Payload `json:"-"`
}

// Payload is the decoded content of an attachment.
type Payload struct {
	// Digest is the content handle, "sha256:<hex>".
	Digest   string
	MIMEType string
	Size     int
	Data     []byte

	// Frames holds the sampled still images of a video, in frame order.
	Frames []Frame
}

// Frame is a single decoded video frame.
type Frame struct {
	Index    int
	MIMEType string
	Data     []byte
}

// =============================================================================
// TURN
// =============================================================================

// Turn is a single message in a session. Turns are immutable once appended.
type Turn struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id,omitempty"`
	Seq         int64        `json:"seq"`
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Set on assistant turns.
	ModelID    string `json:"model_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Modalities returns the modalities carried by the turn: text when the turn
// has text, plus the modality of every attachment.
func (t Turn) Modalities() ModalitySet {
	var s ModalitySet
	if t.Text != "" {
		s = s.With(ModalityText)
	}
	for _, a := range t.Attachments {
		s = s.With(a.Modality)
	}
	return s
}

// Clone returns a deep copy of the turn's slices. Payload bytes are shared,
// they are never mutated after normalization.
func (t Turn) Clone() Turn {
	out := t
	if t.Attachments != nil {
		out.Attachments = make([]Attachment, len(t.Attachments))
		copy(out.Attachments, t.Attachments)
	}
	return out
}

// =============================================================================
// SESSION
// =============================================================================

// Session is an ordered, append-only conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	Archived  bool      `json:"archived"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Turns is populated by GetSession only.
	Turns []Turn `json:"turns,omitempty"`
}
