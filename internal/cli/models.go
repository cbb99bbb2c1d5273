// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeranaias/modelgate/internal/cloud"
	"github.com/jeranaias/modelgate/internal/config"
	"github.com/jeranaias/modelgate/internal/model"
	"github.com/jeranaias/modelgate/internal/ollama"
	"github.com/jeranaias/modelgate/internal/registry"
)

// probeTimeout bounds one provider listing call.
const probeTimeout = 5 * time.Second

// Probe statuses shown by "models --probe".
const (
	statusServed      = "served"
	statusNotListed   = "not listed"
	statusUnreachable = "unreachable"
)

// ModelRow is one catalog entry as printed by the models command.
type ModelRow struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Provider   string   `json:"provider"`
	Kind       string   `json:"provider_kind"`
	Modalities []string `json:"modalities"`
	Default    bool     `json:"default"`
	Status     string   `json:"status,omitempty"`
	Size       string   `json:"size,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

// listedModel is one entry of a provider's own model listing. Size is only
// known for local models.
type listedModel struct {
	ID   string
	Size string
}

// HandleModels handles the "models" command.
func HandleModels(ctx context.Context, args Args, w io.Writer) error {
	p := NewArgParser(args.Raw)

	var filter model.ModalitySet
	if m := p.Flag("modality"); m != "" {
		mod, err := model.ParseModality(m)
		if err != nil {
			return usageErrorf("--modality: %v", err)
		}
		filter = model.NewModalitySet(mod)
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	reg, err := registry.Load(cfg.ProviderSpecs(), cfg.ModelSpecs())
	if err != nil {
		return &configError{err: err}
	}

	rows := catalogRows(reg, filter)
	if p.BoolFlag("probe") {
		probeRows(ctx, cfg, rows)
	}

	if args.JSON {
		return NewJSONResponse(CmdModels.String(), rows).Print(w)
	}
	renderModels(w, rows, p.BoolFlag("probe"))
	return nil
}

// catalogRows lists the registry in routing order, keeping models that
// cover filter.
func catalogRows(reg *registry.Registry, filter model.ModalitySet) []ModelRow {
	var rows []ModelRow
	for _, d := range reg.List() {
		if !d.Supports(filter) {
			continue
		}
		rows = append(rows, ModelRow{
			ID:         d.ID,
			Name:       d.Name,
			Provider:   d.ProviderID,
			Kind:       d.Kind.String(),
			Modalities: d.Modalities.Strings(),
			Default:    d.Default,
		})
	}
	return rows
}

// probeRows asks each provider once for its model listing and marks rows.
func probeRows(ctx context.Context, cfg *config.Config, rows []ModelRow) {
	type listing struct {
		models []listedModel
		err    error
	}
	listings := make(map[string]listing)

	for i := range rows {
		r := &rows[i]
		l, ok := listings[r.Provider]
		if !ok {
			pc, _ := cfg.Provider(r.Provider)
			models, err := probeProvider(ctx, pc)
			l = listing{models: models, err: err}
			listings[r.Provider] = l
		}
		if l.err != nil {
			r.Status = statusUnreachable
			r.Detail = l.err.Error()
			continue
		}
		if m, found := findListed(l.models, r.ID); found {
			r.Status = statusServed
			r.Size = m.Size
		} else {
			r.Status = statusNotListed
		}
	}
}

// probeProvider returns the models a provider reports serving.
func probeProvider(ctx context.Context, pc config.ProviderConfig) ([]listedModel, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch c := newProviderClient(pc, discardLogger).(type) {
	case *ollama.Client:
		models, err := c.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]listedModel, len(models))
		for i := range models {
			out[i] = listedModel{ID: models[i].Name, Size: models[i].FormatSize()}
		}
		return out, nil
	case *cloud.Client:
		if !c.IsConfigured() {
			return nil, fmt.Errorf("API key not set (export %s)", pc.APIKeyEnv)
		}
		models, err := c.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]listedModel, len(models))
		for i, m := range models {
			out[i] = listedModel{ID: m.ID}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("provider %q: cannot list models", pc.ID)
	}
}

// findListed returns the listing entry serving the catalog id.
func findListed(models []listedModel, id string) (listedModel, bool) {
	for _, m := range models {
		if servedAs(m.ID, id) {
			return m, true
		}
	}
	return listedModel{}, false
}

// servedAs reports whether a listed name serves the catalog id. Ollama lists
// tagged names, so "llava" matches "llava:latest".
func servedAs(listed, id string) bool {
	return strings.EqualFold(listed, id) || strings.HasPrefix(strings.ToLower(listed), strings.ToLower(id)+":")
}

func renderModels(w io.Writer, rows []ModelRow, probed bool) {
	if len(rows) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models match."))
		return
	}

	t := &table{headers: []string{"MODEL", "PROVIDER", "MODALITIES", "DEFAULT"}}
	if probed {
		t.headers = append(t.headers, "STATUS", "SIZE")
	}
	for _, r := range rows {
		def := ""
		if r.Default {
			def = "yes"
		}
		cells := []string{r.ID, r.Provider + " (" + r.Kind + ")", strings.Join(r.Modalities, ","), def}
		if probed {
			cells = append(cells, statusCell(r.Status), r.Size)
		}
		t.add(cells...)
	}
	t.render(w)
}

func statusCell(status string) string {
	switch status {
	case statusServed:
		return SuccessStyle.Render(status)
	case statusNotListed:
		return WarningStyle.Render(status)
	default:
		return ErrorStyle.Render(status)
	}
}
