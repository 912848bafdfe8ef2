// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package watcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/metrics"
	"github.com/tomtom215/mediaflux/internal/middleware"
	"github.com/tomtom215/mediaflux/internal/scratch"
)

// RSSConfig configures a feed-polling watcher.
type RSSConfig struct {
	PollerConfig `koanf:",squash"`

	// URL is the RSS/Atom feed to poll.
	URL string `koanf:"url"`

	// DownloadTimeout bounds a single enclosure download. Defaults to 120s.
	DownloadTimeout time.Duration `koanf:"download_timeout"`
}

// RSS polls a feed and downloads media enclosures of entries not yet seen.
// The entry GUID is the dedup identity; entries without enclosures are marked
// handled and skipped.
type RSS struct {
	Poller
	url    string
	parser *gofeed.Parser
	client *http.Client
}

// NewRSS builds the feed watcher from a config bag.
func NewRSS(name string, preprocessors []middleware.Middleware, cfg map[string]any) (Watcher, error) {
	var c RSSConfig
	if err := config.DecodeBag(cfg, &c); err != nil {
		return nil, fmt.Errorf("watcher %s: %w", name, err)
	}
	if c.URL == "" {
		return nil, fmt.Errorf("watcher %s: url is required", name)
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 120 * time.Second
	}

	r := &RSS{
		url:    c.URL,
		parser: gofeed.NewParser(),
		client: &http.Client{Timeout: c.DownloadTimeout},
	}
	r.Poller = NewPoller(NewBase(name, preprocessors, c.Copy), r, c.PollerConfig)
	return r, nil
}

// CheckForUploads fetches the feed and downloads every unseen enclosure.
func (r *RSS) CheckForUploads(ctx context.Context) ([]media.Item, error) {
	feed, err := r.parser.ParseURLWithContext(r.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", r.url, err)
	}

	var items []media.Item
	for _, entry := range feed.Items {
		if err := ctx.Err(); err != nil {
			media.CloseAll(items)
			return nil, err
		}
		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		if id == "" || r.Handled(id) {
			metrics.WatcherItemsSkipped.WithLabelValues(r.Name()).Inc()
			continue
		}
		if len(entry.Enclosures) == 0 {
			// Nothing to fetch; remember the entry so it is not re-examined
			// every cycle.
			r.MarkHandled(id)
			continue
		}
		it, err := r.download(ctx, id, entry)
		if err != nil {
			logging.Err(err).
				Str("watcher", r.Name()).
				Str("entry", id).
				Msg("enclosure download failed, will retry next cycle")
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// download fetches the first enclosure of an entry into scratch storage.
func (r *RSS) download(ctx context.Context, id string, entry *gofeed.Item) (media.Item, error) {
	enc := entry.Enclosures[0]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, enc.URL, nil)
	if err != nil {
		return media.Item{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return media.Item{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return media.Item{}, fmt.Errorf("fetch %s: status %d", enc.URL, resp.StatusCode)
	}

	env := r.Env()
	sf, err := env.Scratch.Allocate(scratch.Options{Ext: enclosureExt(enc)})
	if err != nil {
		return media.Item{}, err
	}
	dst, err := sf.Open()
	if err != nil {
		_ = sf.Close()
		return media.Item{}, err
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		_ = sf.Close()
		return media.Item{}, fmt.Errorf("fetch %s: %w", enc.URL, err)
	}

	mediaType := media.TypeFromMIME(enc.Type)
	if mediaType == media.TypeUnknown {
		mediaType = media.TypeFromFile(sf.Path())
	}
	return media.Item{
		File: sf,
		Meta: &media.Metadata{
			ID:          id,
			Platform:    media.PlatformRSS,
			Title:       entry.Title,
			Description: entry.Description,
			Categories:  append([]string(nil), entry.Categories...),
			Type:        mediaType,
			Extra:       map[string]any{"link": entry.Link, "enclosure": enc.URL},
		},
	}, nil
}

// enclosureExt derives a scratch file extension from the enclosure URL path.
func enclosureExt(enc *gofeed.Enclosure) string {
	ext := path.Ext(enc.URL)
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if len(ext) < 2 || len(ext) > 8 || strings.ContainsAny(ext[1:], "./\\") {
		return ""
	}
	return ext
}
