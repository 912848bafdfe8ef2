// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package middleware

import (
	"strings"
	"testing"

	"github.com/tomtom215/mediaflux/internal/media"
)

func TestModifierRequiresAtLeastOneField(t *testing.T) {
	if _, err := NewModifier("empty", nil); err == nil {
		t.Error("factory should reject a config with nothing to modify")
	}
}

func TestModifierRewritesConfiguredFields(t *testing.T) {
	env := newTestEnv(t)

	m, err := NewModifier("rewrite", map[string]any{
		"platform": "other",
		"title":    "reposted: {title}",
		"tags":     []string{"repost", "daily"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Prepare(env); err != nil {
		t.Fatal(err)
	}

	it := newTestItem(t, env, &media.Metadata{
		ID:          "v1",
		Platform:    media.PlatformYouTube,
		Title:       "original",
		Description: "kept as is",
	})
	out := m.ProcessMany([]media.Item{it})
	if len(out) != 1 {
		t.Fatalf("got %d items", len(out))
	}

	meta := out[0].Meta
	if meta.Platform != media.PlatformOther {
		t.Errorf("Platform = %v", meta.Platform)
	}
	if meta.Title != "reposted: original" {
		t.Errorf("Title = %q", meta.Title)
	}
	if len(meta.Tags) != 2 || meta.Tags[0] != "repost" {
		t.Errorf("Tags = %v", meta.Tags)
	}
	if meta.Description != "kept as is" {
		t.Errorf("absent key rewrote Description to %q", meta.Description)
	}
	// The input metadata must be untouched; modification works on a copy.
	if it.Meta.Title != "original" {
		t.Errorf("input metadata mutated: %q", it.Meta.Title)
	}
	media.CloseAll(out)
}

func TestModifierExplicitEmptyClearsField(t *testing.T) {
	env := newTestEnv(t)

	m, err := NewModifier("clear", map[string]any{"description": ""})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Prepare(env); err != nil {
		t.Fatal(err)
	}

	it := newTestItem(t, env, &media.Metadata{ID: "v1", Description: "wordy"})
	out := m.ProcessMany([]media.Item{it})
	if out[0].Meta.Description != "" {
		t.Errorf("Description = %q, want empty", out[0].Meta.Description)
	}
	media.CloseAll(out)
}

func TestModifierTemplates(t *testing.T) {
	env := newTestEnv(t)

	m, err := NewModifier("tpl", map[string]any{
		"tags":        []string{"cats", "dogs"},
		"description": "{tags} | {randtag} | {randhashtags}",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Prepare(env); err != nil {
		t.Fatal(err)
	}

	it := newTestItem(t, env, &media.Metadata{ID: "v1"})
	out := m.ProcessMany([]media.Item{it})
	desc := out[0].Meta.Description

	parts := strings.Split(desc, " | ")
	if len(parts) != 3 {
		t.Fatalf("Description = %q", desc)
	}
	if parts[0] != "cats dogs" {
		t.Errorf("{tags} = %q", parts[0])
	}
	if parts[1] != "cats" && parts[1] != "dogs" {
		t.Errorf("{randtag} = %q", parts[1])
	}
	if !strings.Contains(parts[2], "#cats") || !strings.Contains(parts[2], "#dogs") {
		t.Errorf("{randhashtags} = %q", parts[2])
	}
	media.CloseAll(out)
}

func TestModifierPassesOrphans(t *testing.T) {
	env := newTestEnv(t)

	m, err := NewModifier("tpl", map[string]any{"title": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Prepare(env); err != nil {
		t.Fatal(err)
	}

	orphan := newTestItem(t, env, nil)
	out := m.ProcessMany([]media.Item{orphan})
	if len(out) != 1 || !out[0].Orphan() {
		t.Error("orphan did not pass through untouched")
	}
	media.CloseAll(out)
}
