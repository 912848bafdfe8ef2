// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/mediaflux/internal/scratch"
)

func TestMetadataEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b *Metadata
		want bool
	}{
		{
			"same identity different content",
			&Metadata{ID: "x1", Platform: PlatformYouTube, Title: "a"},
			&Metadata{ID: "x1", Platform: PlatformYouTube, Title: "b"},
			true,
		},
		{
			"different id",
			&Metadata{ID: "x1", Platform: PlatformYouTube},
			&Metadata{ID: "x2", Platform: PlatformYouTube},
			false,
		},
		{
			"different platform",
			&Metadata{ID: "x1", Platform: PlatformYouTube},
			&Metadata{ID: "x1", Platform: PlatformReddit},
			false,
		},
		{"both nil", nil, nil, true},
		{"one nil", &Metadata{ID: "x1"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetadataClone(t *testing.T) {
	orig := &Metadata{
		ID:       "id",
		Platform: PlatformRSS,
		Tags:     []string{"one", "two"},
		Extra:    map[string]any{"k": "v"},
	}
	clone := orig.Clone()
	clone.Tags[0] = "changed"
	clone.Extra["k"] = "changed"

	if orig.Tags[0] != "one" {
		t.Error("clone shares tag slice with original")
	}
	if orig.Extra["k"] != "v" {
		t.Error("clone shares extra map with original")
	}
	if !clone.Equal(orig) {
		t.Error("clone changed identity")
	}
}

func TestPlatformFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want Platform
	}{
		{"https://www.youtube.com/watch?v=abc", PlatformYouTube},
		{"https://youtu.be/abc", PlatformYouTube},
		{"https://www.tiktok.com/@user/video/1", PlatformTikTok},
		{"https://old.reddit.com/r/pics", PlatformReddit},
		{"https://x.com/user/status/1", PlatformTwitter},
		{"https://example.com/feed.xml", PlatformUnknown},
	}
	for _, tt := range tests {
		if got := PlatformFromURL(tt.url); got != tt.want {
			t.Errorf("PlatformFromURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestTypeFromMIME(t *testing.T) {
	tests := []struct {
		mime string
		want Type
	}{
		{"image/jpeg", TypePhoto},
		{"image/png", TypePhoto},
		{"video/mp4", TypeVideo},
		{"audio/mpeg", TypeUnknown},
		{"", TypeUnknown},
	}
	for _, tt := range tests {
		if got := TypeFromMIME(tt.mime); got != tt.want {
			t.Errorf("TypeFromMIME(%q) = %v, want %v", tt.mime, got, tt.want)
		}
	}
}

func TestTypeFromFileSniffsContent(t *testing.T) {
	// Smallest valid PNG header; content sniffing must win over the bogus
	// extension.
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	path := filepath.Join(t.TempDir(), "not-a-video.mp4")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := TypeFromFile(path); got != TypePhoto {
		t.Errorf("TypeFromFile = %v, want %v", got, TypePhoto)
	}
}

func TestSplit(t *testing.T) {
	mgr, err := scratch.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	newItem := func(meta *Metadata) Item {
		f, err := mgr.Allocate(scratch.Options{})
		if err != nil {
			t.Fatal(err)
		}
		return Item{File: f, Meta: meta}
	}

	items := []Item{
		newItem(&Metadata{ID: "1"}),
		newItem(nil),
		newItem(&Metadata{ID: "2"}),
		newItem(nil),
	}
	valid, orphans := Split(items)
	if len(valid) != 2 || len(orphans) != 2 {
		t.Fatalf("Split = %d valid, %d orphans, want 2/2", len(valid), len(orphans))
	}
	if valid[0].Meta.ID != "1" || valid[1].Meta.ID != "2" {
		t.Error("valid partition lost order")
	}

	CloseAll(items)
	for _, it := range items {
		if !it.File.Closed() {
			t.Error("CloseAll left a file open")
		}
	}
	// CloseAll over already closed items is a no-op.
	CloseAll(items)
}
