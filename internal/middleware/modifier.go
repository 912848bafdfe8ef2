// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package middleware

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/media"
)

// ModifierConfig configures a Modifier stage. Only keys present in the config
// bag are rewritten, so an explicit empty string clears a field while an
// absent key leaves it alone.
type ModifierConfig struct {
	Platform    *string   `koanf:"platform"`
	Title       *string   `koanf:"title"`
	Description *string   `koanf:"description"`
	Tags        *[]string `koanf:"tags"`
	Categories  *[]string `koanf:"categories"`
}

// Modifier rewrites metadata fields. Title and description values support
// placeholders expanded per item: {title}, {tags}, {randtag}, {randhashtags},
// {categories}, {randcategory}.
type Modifier struct {
	Base
	cfg ModifierConfig
}

// NewModifier is the registry factory for "metadata".
func NewModifier(name string, cfg map[string]any) (Middleware, error) {
	var c ModifierConfig
	if err := config.DecodeBag(cfg, &c); err != nil {
		return nil, fmt.Errorf("metadata %s: %w", name, err)
	}
	if c.Platform == nil && c.Title == nil && c.Description == nil && c.Tags == nil && c.Categories == nil {
		return nil, fmt.Errorf("metadata %s: no fields to modify", name)
	}
	return &Modifier{Base: NewBase(name), cfg: c}, nil
}

// ProcessOne rewrites the configured fields on a copy of the metadata.
// Orphaned files pass through.
func (m *Modifier) ProcessOne(item media.Item) (media.Item, bool) {
	if item.Orphan() {
		return item, true
	}

	meta := item.Meta.Clone()
	if m.cfg.Platform != nil {
		meta.Platform = media.Platform(*m.cfg.Platform)
	}
	if m.cfg.Tags != nil {
		meta.Tags = append([]string(nil), (*m.cfg.Tags)...)
	}
	if m.cfg.Categories != nil {
		meta.Categories = append([]string(nil), (*m.cfg.Categories)...)
	}
	if m.cfg.Title != nil {
		meta.Title = expand(*m.cfg.Title, item.Meta, meta)
	}
	if m.cfg.Description != nil {
		meta.Description = expand(*m.cfg.Description, item.Meta, meta)
	}

	item.Meta = meta
	return item, true
}

// ProcessMany applies ProcessOne across the batch.
func (m *Modifier) ProcessMany(items []media.Item) []media.Item {
	return Apply(m, items)
}

// expand substitutes template placeholders using the original metadata for
// {title} and the rewritten metadata for tag/category pools.
func expand(tmpl string, orig, meta *media.Metadata) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	replacements := []struct{ key, value string }{
		{"{title}", orig.Title},
		{"{description}", orig.Description},
		{"{tags}", strings.Join(meta.Tags, " ")},
		{"{randtag}", pick(meta.Tags)},
		{"{randhashtags}", hashtags(meta.Tags)},
		{"{categories}", strings.Join(meta.Categories, " ")},
		{"{randcategory}", pick(meta.Categories)},
	}
	out := tmpl
	for _, r := range replacements {
		out = strings.ReplaceAll(out, r.key, r.value)
	}
	return out
}

func pick(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[rand.IntN(len(values))]
}

// hashtags returns up to ten shuffled tags prefixed with '#'.
func hashtags(tags []string) string {
	shuffled := append([]string(nil), tags...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if len(shuffled) > 10 {
		shuffled = shuffled[:10]
	}
	for i, tag := range shuffled {
		shuffled[i] = "#" + tag
	}
	return strings.Join(shuffled, " ")
}
