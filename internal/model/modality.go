// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// MODALITY
// =============================================================================

// Modality is a kind of content.
type Modality int

const (
	ModalityText Modality = iota
	ModalityImage
	ModalityAudio
	ModalityVideo
)

// AllModalities lists every modality in canonical order.
var AllModalities = []Modality{ModalityText, ModalityImage, ModalityAudio, ModalityVideo}

// String returns the lowercase modality name.
func (m Modality) String() string {
	switch m {
	case ModalityText:
		return "text"
	case ModalityImage:
		return "image"
	case ModalityAudio:
		return "audio"
	case ModalityVideo:
		return "video"
	default:
		return fmt.Sprintf("modality(%d)", int(m))
	}
}

// ParseModality parses a modality name, case-insensitively.
func ParseModality(s string) (Modality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return ModalityText, nil
	case "image":
		return ModalityImage, nil
	case "audio":
		return ModalityAudio, nil
	case "video":
		return ModalityVideo, nil
	default:
		return 0, fmt.Errorf("unknown modality %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Modality) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Modality) UnmarshalText(b []byte) error {
	parsed, err := ParseModality(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// MODALITY SET
// =============================================================================

// ModalitySet is a set of modalities. The zero value is the empty set.
type ModalitySet uint8

// NewModalitySet returns a set containing ms.
func NewModalitySet(ms ...Modality) ModalitySet {
	var s ModalitySet
	for _, m := range ms {
		s = s.With(m)
	}
	return s
}

// ParseModalitySet parses a list of modality names.
func ParseModalitySet(names []string) (ModalitySet, error) {
	var s ModalitySet
	for _, name := range names {
		m, err := ParseModality(name)
		if err != nil {
			return 0, err
		}
		s = s.With(m)
	}
	return s, nil
}

// With returns s with m added.
func (s ModalitySet) With(m Modality) ModalitySet {
	return s | 1<<uint(m)
}

// Has reports whether m is in s.
func (s ModalitySet) Has(m Modality) bool {
	return s&(1<<uint(m)) != 0
}

// Covers reports whether s is a superset of other.
func (s ModalitySet) Covers(other ModalitySet) bool {
	return s&other == other
}

// Union returns the union of s and other.
func (s ModalitySet) Union(other ModalitySet) ModalitySet {
	return s | other
}

// Missing returns the modalities in want that s lacks.
func (s ModalitySet) Missing(want ModalitySet) ModalitySet {
	return want &^ s
}

// IsEmpty reports whether s has no members.
func (s ModalitySet) IsEmpty() bool {
	return s == 0
}

// Slice returns the members of s in canonical order.
func (s ModalitySet) Slice() []Modality {
	out := make([]Modality, 0, len(AllModalities))
	for _, m := range AllModalities {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// Strings returns the member names in canonical order.
func (s ModalitySet) Strings() []string {
	ms := s.Slice()
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}

// String formats the set as "{text,image}".
func (s ModalitySet) String() string {
	return "{" + strings.Join(s.Strings(), ",") + "}"
}

// MarshalJSON encodes the set as an array of names.
func (s ModalitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes an array of names.
func (s *ModalitySet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	parsed, err := ParseModalitySet(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
