// Package sources turns data-driven source definitions into webhook source
// configs. The mapping policy of each source (required fields, stripped
// fields, batch splitting, response override) lives entirely in its
// definition.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/mattjoyce/callhook/internal/config"
	"github.com/mattjoyce/callhook/internal/webhook"
)

// Merge overlays defs onto base. A definition with a known name overrides the
// non-empty fields of the base entry; unknown names are appended.
func Merge(base, defs []config.SourceDef) []config.SourceDef {
	out := make([]config.SourceDef, len(base))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Name] = i
	}

	for _, d := range defs {
		i, ok := index[d.Name]
		if !ok {
			index[d.Name] = len(out)
			out = append(out, d)
			continue
		}
		out[i] = overlay(out[i], d)
	}
	return out
}

func overlay(dst, src config.SourceDef) config.SourceDef {
	if src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.Icon != "" {
		dst.Icon = src.Icon
	}
	if src.Categories != nil {
		dst.Categories = src.Categories
	}
	if src.DefaultPath != "" {
		dst.DefaultPath = src.DefaultPath
	}
	if src.RequiredFields != nil {
		dst.RequiredFields = src.RequiredFields
	}
	if src.StripFields != nil {
		dst.StripFields = src.StripFields
	}
	if src.SplitField != "" {
		dst.SplitField = src.SplitField
	}
	if src.Response != nil {
		dst.Response = src.Response
	}
	return dst
}

// Build creates the source config for def.
func Build(def config.SourceDef) webhook.SourceConfig {
	displayName := def.DisplayName
	if displayName == "" {
		displayName = def.Name
	}

	cfg := webhook.SourceConfig{
		Name:        def.Name,
		DisplayName: displayName,
		Description: def.Description,
		Icon:        def.Icon,
		Categories:  def.Categories,
		DefaultPath: def.DefaultPath,
		Validate:    validator(def),
		Transform:   transformer(def),
	}
	if def.Response != nil {
		body := maps.Clone(def.Response)
		cfg.BuildResponse = func(json.RawMessage, *webhook.Execution) any {
			return maps.Clone(body)
		}
	}
	return cfg
}

// Register builds every definition and registers it. Later definitions with
// the same name replace earlier ones.
func Register(reg *webhook.Registry, defs []config.SourceDef) error {
	for _, def := range defs {
		if err := reg.Register(Build(def)); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the registry contents with the built-in catalog merged with
// the definitions from cfg. Sources dropped from cfg disappear on reload.
func Load(reg *webhook.Registry, cfg *config.Config) error {
	defs := Merge(Builtins(), cfg.Sources)
	cfgs := make([]webhook.SourceConfig, 0, len(defs))
	for _, def := range defs {
		cfgs = append(cfgs, Build(def))
	}
	return reg.Replace(cfgs)
}

// validator accepts a JSON object carrying every required field. With a split
// field, that field must hold an array of objects.
func validator(def config.SourceDef) webhook.ValidateFunc {
	required := append([]string(nil), def.RequiredFields...)
	split := def.SplitField

	return func(body json.RawMessage) bool {
		if split != "" {
			items, err := splitItems(body, split)
			if err != nil {
				return false
			}
			for _, item := range items {
				if !hasFields(item, required) {
					return false
				}
			}
			return true
		}
		return hasFields(body, required)
	}
}

func hasFields(raw json.RawMessage, required []string) bool {
	fields, err := webhook.DecodeFields(raw)
	if err != nil {
		return false
	}
	for _, name := range required {
		if !fields.Has(name) {
			return false
		}
	}
	return true
}

// transformer emits one event per payload, or one per split element, with
// the strip fields removed.
func transformer(def config.SourceDef) webhook.TransformFunc {
	strip := append([]string(nil), def.StripFields...)
	split := def.SplitField

	return func(ctx context.Context, body json.RawMessage, _ *webhook.Execution) ([]webhook.Event, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raws := []json.RawMessage{body}
		if split != "" {
			items, err := splitItems(body, split)
			if err != nil {
				return nil, err
			}
			raws = items
		}

		items := make([]webhook.Fields, 0, len(raws))
		for i, raw := range raws {
			fields, err := webhook.DecodeFields(raw)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, fields.Without(strip...))
		}
		return webhook.NewEvents(items), nil
	}
}

// splitItems returns the raw elements of the array stored under field.
func splitItems(body json.RawMessage, field string) ([]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	raw, ok := top[field]
	if !ok {
		return nil, fmt.Errorf("split field %q missing", field)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("split field %q: %w", field, err)
	}
	for i, item := range items {
		if !bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) {
			return nil, fmt.Errorf("split field %q: element %d is not an object", field, i)
		}
	}
	return items, nil
}
