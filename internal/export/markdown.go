// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/modelgate/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports sessions to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a session to Markdown. A session without turns still
// renders its header.
func (e *MarkdownExporter) Export(sess *model.Session) ([]byte, error) {
	if err := validate("export.Markdown", sess); err != nil {
		return nil, err
	}

	var sb strings.Builder
	exported := e.options.now()

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(sess.Title))
		fmt.Fprintf(&sb, "session: %s\n", sess.ID)
		if sess.Model != "" {
			fmt.Fprintf(&sb, "model: %s\n", sess.Model)
		}
		fmt.Fprintf(&sb, "date: %s\n", sess.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "turns: %d\n", len(sess.Turns))
		if sess.Archived {
			sb.WriteString("archived: true\n")
		}
		fmt.Fprintf(&sb, "exported: %s\n", exported.Format(time.RFC3339))
		sb.WriteString("generator: modelgate\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(sess.Title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		if sess.Model != "" {
			fmt.Fprintf(&sb, "- **Model**: %s\n", sess.Model)
		}
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(sess.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(sess.UpdatedAt))
		fmt.Fprintf(&sb, "- **Turns**: %d\n", len(sess.Turns))
		if models := modelsUsed(sess.Turns); len(models) > 0 {
			fmt.Fprintf(&sb, "- **Answered By**: %s\n", strings.Join(models, ", "))
		}
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")
	if len(sess.Turns) == 0 {
		sb.WriteString("*No turns yet.*\n\n")
	}

	for i := range sess.Turns {
		turn := &sess.Turns[i]
		label := formatRoleLabel(turn.Role)
		if e.options.IncludeTimestamps && !turn.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(turn.CreatedAt))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		if text := strings.TrimSpace(turn.Text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
		if att := formatAttachments(turn.Attachments); att != "" {
			sb.WriteString(att)
			sb.WriteString("\n")
		}
		if turn.Role == model.RoleAssistant && e.options.IncludeMetadata && turn.ModelID != "" {
			fmt.Fprintf(&sb, "<sub>Model: %s", turn.ModelID)
			if turn.ProviderID != "" {
				fmt.Fprintf(&sb, " via %s", turn.ProviderID)
			}
			sb.WriteString("</sub>\n\n")
		}

		if i < len(sess.Turns)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from modelgate on %s*\n", exported.Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown; charset=utf-8"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func formatRoleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "[User]"
	case model.RoleAssistant:
		return "[Assistant]"
	case "":
		return "Unknown"
	default:
		r := []rune(string(role))
		return strings.ToUpper(string(r[0])) + string(r[1:])
	}
}

// formatAttachments lists attachments by name and kind. Bodies are never
// written into the transcript.
func formatAttachments(atts []model.Attachment) string {
	if len(atts) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, a := range atts {
		name := a.FileName
		if name == "" {
			name = fmt.Sprintf("attachment %d", i+1)
		}
		fmt.Fprintf(&sb, "- *%s*: `%s`", a.Modality, name)
		var details []string
		if a.MIMEType != "" {
			details = append(details, a.MIMEType)
		}
		if a.Size > 0 {
			details = append(details, formatBytes(a.Size))
		}
		if len(details) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(details, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// modelsUsed returns the distinct assistant models in first-use order.
func modelsUsed(turns []model.Turn) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range turns {
		if t.Role != model.RoleAssistant || t.ModelID == "" || seen[t.ModelID] {
			continue
		}
		seen[t.ModelID] = true
		out = append(out, t.ModelID)
	}
	return out
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	)
	return r.Replace(s)
}

// escapeYAML quotes a scalar when it holds YAML syntax.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `"`, `\"`)
		s = strings.ReplaceAll(s, "\n", `\n`)
		s = strings.ReplaceAll(s, "\r", `\r`)
		return `"` + s + `"`
	}
	return s
}
