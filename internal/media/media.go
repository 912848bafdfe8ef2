// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package media defines the metadata model carried alongside scratch files
// through the pipeline.
package media

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
)

// Platform identifies the source platform a piece of media came from.
type Platform string

const (
	PlatformUnknown   Platform = "unknown"
	PlatformOther     Platform = "other"
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformReddit    Platform = "reddit"
	PlatformDiscord   Platform = "discord"
	PlatformTwitter   Platform = "twitter"
	PlatformRSS       Platform = "rss"
)

// PlatformFromURL maps a source URL to a platform.
func PlatformFromURL(url string) Platform {
	switch {
	case strings.Contains(url, "youtube.com"), strings.Contains(url, "youtu.be"):
		return PlatformYouTube
	case strings.Contains(url, "tiktok.com"):
		return PlatformTikTok
	case strings.Contains(url, "instagram.com"):
		return PlatformInstagram
	case strings.Contains(url, "reddit.com"):
		return PlatformReddit
	case strings.Contains(url, "twitter.com"), strings.Contains(url, "x.com"):
		return PlatformTwitter
	default:
		return PlatformUnknown
	}
}

// Type is the coarse media classifier.
type Type string

const (
	TypeUnknown Type = "unknown"
	TypeOther   Type = "other"
	TypePhoto   Type = "photo"
	TypeVideo   Type = "video"
)

// TypeFromMIME classifies a MIME type string.
func TypeFromMIME(mimeType string) Type {
	switch {
	case mimeType == "":
		return TypeUnknown
	case strings.HasPrefix(mimeType, "image"):
		return TypePhoto
	case strings.HasPrefix(mimeType, "video"):
		return TypeVideo
	default:
		return TypeUnknown
	}
}

// TypeFromFile classifies a file, sniffing content first and falling back to
// the extension when the file cannot be read.
func TypeFromFile(path string) Type {
	if mt, err := mimetype.DetectFile(path); err == nil {
		return TypeFromMIME(mt.String())
	}
	return TypeFromMIME(mime.TypeByExtension(filepath.Ext(path)))
}

// Metadata describes a piece of media. Values are immutable by convention:
// middleware that rewrites fields builds a new Metadata rather than mutating
// a shared one.
type Metadata struct {
	ID          string         `json:"id"`
	Platform    Platform       `json:"platform"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Categories  []string       `json:"categories,omitempty"`
	Type        Type           `json:"type"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Equal reports identity equality: two metadata values describe the same
// media iff their (ID, Platform) match. This is the identity used for dedup
// and logging, not a deep comparison.
func (m *Metadata) Equal(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.ID == other.ID && m.Platform == other.Platform
}

// Clone returns a copy with independent slices and Extra map.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Tags = append([]string(nil), m.Tags...)
	out.Categories = append([]string(nil), m.Categories...)
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// MarshalExtra serializes the source-specific data bag.
func (m *Metadata) MarshalExtra() ([]byte, error) {
	if m.Extra == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m.Extra)
	if err != nil {
		return nil, fmt.Errorf("media: marshal extra for %s: %w", m.ID, err)
	}
	return data, nil
}

// String implements fmt.Stringer for log fields.
func (m *Metadata) String() string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s@%s", m.ID, m.Platform)
}
