// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"strings"

	"github.com/jeranaias/modelgate/internal/errs"
	"github.com/jeranaias/modelgate/internal/model"
)

// Registry is the immutable model catalog. All methods are safe for
// concurrent use.
type Registry struct {
	models    []ModelDescriptor
	byID      map[string]int
	providers []ProviderSpec
}

// Load validates the specs and builds a registry. Models keep their
// declaration order.
func Load(providers []ProviderSpec, models []ModelSpec) (*Registry, error) {
	const op = "registry.Load"

	kinds := make(map[string]ProviderKind, len(providers))
	provs := make([]ProviderSpec, 0, len(providers))
	for _, p := range providers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, errs.E(errs.KindInvalidInput, op, "provider with empty id")
		}
		if _, dup := kinds[id]; dup {
			return nil, errs.E(errs.KindInvalidInput, op, "duplicate provider %q", id)
		}
		kind, err := ParseProviderKind(p.Kind)
		if err != nil {
			return nil, &errs.Error{Kind: errs.KindInvalidInput, Op: op, Message: "provider " + id, Err: err}
		}
		kinds[id] = kind
		p.ID = id
		provs = append(provs, p)
	}

	reg := &Registry{
		models:    make([]ModelDescriptor, 0, len(models)),
		byID:      make(map[string]int, len(models)),
		providers: provs,
	}
	for _, m := range models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, errs.E(errs.KindInvalidInput, op, "model with empty id")
		}
		if id == AutoModelID {
			return nil, errs.E(errs.KindInvalidInput, op, "model id %q is reserved", AutoModelID)
		}
		if _, dup := reg.byID[id]; dup {
			return nil, errs.E(errs.KindInvalidInput, op, "duplicate model %q", id)
		}
		kind, ok := kinds[m.Provider]
		if !ok {
			return nil, errs.E(errs.KindInvalidInput, op, "model %q references unknown provider %q", id, m.Provider)
		}
		set, err := model.ParseModalitySet(m.Modalities)
		if err != nil {
			return nil, &errs.Error{Kind: errs.KindInvalidInput, Op: op, Message: "model " + id, Err: err}
		}
		if set.IsEmpty() {
			return nil, errs.E(errs.KindInvalidInput, op, "model %q declares no modalities", id)
		}
		name := m.Name
		if name == "" {
			name = id
		}
		reg.byID[id] = len(reg.models)
		reg.models = append(reg.models, ModelDescriptor{
			ID:            id,
			Name:          name,
			ProviderID:    m.Provider,
			Kind:          kind,
			Modalities:    set,
			Default:       m.Default,
			Description:   m.Description,
			ContextWindow: m.ContextWindow,
		})
	}
	return reg, nil
}

// AutoModelID requests capability-based selection instead of a named model.
const AutoModelID = "auto"

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (ModelDescriptor, error) {
	i, ok := r.byID[id]
	if !ok {
		return ModelDescriptor{}, errs.E(errs.KindUnknownModel, "registry.Lookup", "unknown model %q", id)
	}
	return r.models[i], nil
}

// DefaultFor returns the preferred model covering required: the first model,
// in declaration order, flagged default and covering the set; failing that,
// the first covering model in declaration order.
func (r *Registry) DefaultFor(required model.ModalitySet) (ModelDescriptor, error) {
	first := -1
	for i, d := range r.models {
		if !d.Supports(required) {
			continue
		}
		if d.Default {
			return d, nil
		}
		if first < 0 {
			first = i
		}
	}
	if first < 0 {
		return ModelDescriptor{}, errs.E(errs.KindNoCapableModel, "registry.DefaultFor", "no model supports %s", required)
	}
	return r.models[first], nil
}

// List returns all descriptors in declaration order.
func (r *Registry) List() []ModelDescriptor {
	out := make([]ModelDescriptor, len(r.models))
	copy(out, r.models)
	return out
}

// Providers returns the provider specs in declaration order.
func (r *Registry) Providers() []ProviderSpec {
	out := make([]ProviderSpec, len(r.providers))
	copy(out, r.providers)
	return out
}

// Len returns the number of models.
func (r *Registry) Len() int {
	return len(r.models)
}
