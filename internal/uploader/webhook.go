// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/middleware"
	"github.com/tomtom215/mediaflux/internal/pipeline"
)

// WebhookConfig configures an HTTP publish target.
type WebhookConfig struct {
	// URL receives one multipart POST per media item.
	URL string `koanf:"url"`

	// Headers are added to every request, e.g. an Authorization token.
	Headers map[string]string `koanf:"headers"`

	// Timeout bounds a single request. Defaults to 60s.
	Timeout time.Duration `koanf:"timeout"`

	// RatePerSecond paces outgoing requests. Zero means unpaced.
	RatePerSecond float64 `koanf:"rate_per_second"`

	// Burst is the pacing burst size. Defaults to 1 when pacing is on.
	Burst int `koanf:"burst"`

	// RunConcurrently opts this target out of the pool's publish lock.
	RunConcurrently bool `koanf:"run_concurrently"`
}

// webhookResponse is the optional body a receiver may return to name the
// published media.
type webhookResponse struct {
	ID string `json:"id"`
}

// Webhook publishes media with one multipart HTTP POST per item: a "file"
// part with the raw bytes and a "metadata" part with the JSON-encoded
// metadata. A circuit breaker shields a failing receiver from being hammered
// for the rest of a large batch.
type Webhook struct {
	Base

	url     string
	headers map[string]string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	pacer   *rate.Limiter
}

// NewWebhook builds the webhook uploader from a config bag.
func NewWebhook(name string, preprocessors []middleware.Middleware, cfg map[string]any) (Uploader, error) {
	var c WebhookConfig
	if err := config.DecodeBag(cfg, &c); err != nil {
		return nil, fmt.Errorf("uploader %s: %w", name, err)
	}
	if c.URL == "" {
		return nil, fmt.Errorf("uploader %s: url is required", name)
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}

	var pacer *rate.Limiter
	if c.RatePerSecond > 0 {
		burst := c.Burst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(c.RatePerSecond), burst)
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(bn string, from, to gobreaker.State) {
			logging.Warn().
				Str("uploader", bn).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("webhook circuit breaker state changed")
		},
	})

	return &Webhook{
		Base:    NewBase(name, preprocessors, c.RunConcurrently),
		url:     c.URL,
		headers: c.Headers,
		client:  &http.Client{Timeout: c.Timeout},
		breaker: breaker,
		pacer:   pacer,
	}, nil
}

// Prepare wires the shared environment.
func (w *Webhook) Prepare(env *pipeline.Env) error {
	return w.Base.Prepare(env)
}

// Upload posts each item in turn. The first failed request fails the whole
// batch so the dispatcher can close the originals.
func (w *Webhook) Upload(ctx context.Context, items []media.Item) ([]media.Item, error) {
	out := make([]media.Item, 0, len(items))
	for _, it := range items {
		if w.pacer != nil {
			if err := w.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}
		id, err := w.breaker.Execute(func() (string, error) {
			return w.post(ctx, it)
		})
		if err != nil {
			return nil, fmt.Errorf("uploader %s: post %s: %w", w.Name(), it.Meta, err)
		}
		result := it.Meta.Clone()
		if id != "" {
			result.ID = id
		}
		out = append(out, media.Item{File: it.File, Meta: result})
	}
	return out, nil
}

// post performs one multipart request and returns the receiver-assigned id,
// if any. A 429 or 503 carrying Retry-After freezes for that long and retries
// once before the failure counts against the breaker.
func (w *Webhook) post(ctx context.Context, it media.Item) (string, error) {
	id, retryAfter, err := w.doPost(ctx, it)
	if retryAfter <= 0 {
		return id, err
	}

	logging.Warn().
		Str("uploader", w.Name()).
		Dur("retry_after", retryAfter).
		Msg("receiver asked to back off, freezing")
	timer := time.NewTimer(retryAfter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	id, _, err = w.doPost(ctx, it)
	return id, err
}

func (w *Webhook) doPost(ctx context.Context, it media.Item) (string, time.Duration, error) {
	src, err := it.File.NewReader()
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaJSON, err := json.Marshal(it.Meta)
	if err != nil {
		return "", 0, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := mw.WriteField("metadata", string(metaJSON)); err != nil {
		return "", 0, err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(it.File.Path()))
	if err != nil {
		return "", 0, err
	}
	if _, err := io.Copy(part, src); err != nil {
		return "", 0, err
	}
	if err := mw.Close(); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, &body)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			return "", after, fmt.Errorf("receiver returned %d", resp.StatusCode)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit := io.LimitReader(resp.Body, 512)
		snippet, _ := io.ReadAll(limit)
		return "", 0, fmt.Errorf("receiver returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var wr webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		// A body is optional; an unparseable one just means no remote id.
		return "", 0, nil
	}
	return wr.ID, 0, nil
}

// parseRetryAfter handles the delay-seconds form of the header. The HTTP-date
// form is rare from webhook receivers and ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
