// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/modelgate/internal/model"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports sessions to JSON. The document always carries every
// turn; Options only controls the export stamp. Attachment bodies are
// stripped, their metadata kept.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// jsonDocument is the exported document.
type jsonDocument struct {
	Generator  string        `json:"generator"`
	ExportedAt time.Time     `json:"exported_at"`
	Session    model.Session `json:"session"`
}

// Export converts a session to indented JSON.
func (e *JSONExporter) Export(sess *model.Session) ([]byte, error) {
	if err := validate("export.JSON", sess); err != nil {
		return nil, err
	}

	doc := jsonDocument{
		Generator:  "modelgate",
		ExportedAt: e.options.now().UTC(),
		Session:    *sess,
	}
	doc.Session.Turns = make([]model.Turn, len(sess.Turns))
	for i, t := range sess.Turns {
		t = t.Clone()
		for j := range t.Attachments {
			t.Attachments[j].Data = ""
		}
		doc.Session.Turns[i] = t
	}

	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
