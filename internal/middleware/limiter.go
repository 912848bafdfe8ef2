// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

package middleware

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/logging"
	"github.com/tomtom215/mediaflux/internal/media"
	"github.com/tomtom215/mediaflux/internal/metrics"
)

// LimiterConfig configures a Limiter stage.
type LimiterConfig struct {
	// Amount is the number of items allowed per period.
	Amount int `koanf:"amount"`

	// Per is the nominal period length.
	Per time.Duration `koanf:"per"`

	// Variance jitters each period by a uniform value in [-Variance, +Variance].
	Variance time.Duration `koanf:"variance"`
}

// Limiter caps throughput to Amount items per rolling period. When the
// budget is exhausted the calling goroutine blocks until the current period
// elapses. The mutex is held across the whole read-check-increment-sleep
// sequence so two concurrent callers cannot both overshoot the limit before
// either sleeps. Batches with no metadata-bearing item never consume budget.
type Limiter struct {
	Base
	amount   int
	period   time.Duration
	variance time.Duration

	// gate serializes budget accounting and is held across the over-budget
	// sleep; a channel rather than sync.Mutex so the wait can observe
	// shutdown.
	gate    chan struct{}
	count   int
	start   time.Time
	current time.Duration
}

// NewLimiter is the registry factory for "limiter".
func NewLimiter(name string, cfg map[string]any) (Middleware, error) {
	var c LimiterConfig
	if err := config.DecodeBag(cfg, &c); err != nil {
		return nil, fmt.Errorf("limiter %s: %w", name, err)
	}
	if c.Amount <= 0 {
		c.Amount = 1
	}
	if c.Per <= 0 {
		return nil, fmt.Errorf("limiter %s: per must be positive", name)
	}
	l := &Limiter{
		Base:     NewBase(name),
		amount:   c.Amount,
		period:   c.Per,
		variance: c.Variance,
		gate:     make(chan struct{}, 1),
	}
	l.start = time.Now()
	l.current = l.rollPeriod()
	return l, nil
}

// rollPeriod returns the next period length with jitter applied.
func (l *Limiter) rollPeriod() time.Duration {
	if l.variance <= 0 {
		return l.period
	}
	jitter := time.Duration((rand.Float64()*2 - 1) * float64(l.variance))
	return l.period + jitter
}

// ProcessOne passes items through; limiting is batch-level.
func (l *Limiter) ProcessOne(item media.Item) (media.Item, bool) {
	return item, true
}

// ProcessMany consumes one budget unit per item in the batch, blocking when
// the period's budget is exhausted. A batch carrying only orphaned files is
// returned untouched without consuming budget.
func (l *Limiter) ProcessMany(items []media.Item) []media.Item {
	real := false
	for _, it := range items {
		if !it.Orphan() {
			real = true
			break
		}
	}
	if !real {
		return items
	}

	for range items {
		if !l.consume() {
			// Shutdown interrupted the wait; stop limiting and let the
			// batch continue to cleanup.
			break
		}
	}
	return items
}

// consume takes one budget unit, sleeping out the period if over budget.
// Returns false if shutdown was signaled during the wait.
func (l *Limiter) consume() bool {
	env := l.Env()
	if env != nil && env.Ctx != nil {
		select {
		case l.gate <- struct{}{}:
		case <-env.Ctx.Done():
			return false
		}
	} else {
		l.gate <- struct{}{}
	}
	defer func() { <-l.gate }()

	now := time.Now()
	if l.start.Add(l.current).Before(now) {
		l.start = now
		l.current = l.rollPeriod()
		l.count = 0
	}

	l.count++
	if l.count <= l.amount {
		return true
	}

	remaining := time.Until(l.start.Add(l.current))
	if remaining <= 0 {
		return true
	}

	logging.Debug().
		Str("middleware", l.Name()).
		Int("amount", l.amount).
		Dur("remaining", remaining).
		Msg("limit reached, sleeping until the next period")
	metrics.LimiterWaits.WithLabelValues(l.Name()).Inc()

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	if env != nil && env.Ctx != nil {
		select {
		case <-timer.C:
			return true
		case <-env.Ctx.Done():
			return false
		}
	}
	<-timer.C
	return true
}
