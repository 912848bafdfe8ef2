// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Package metrics provides Prometheus instrumentation for the pipeline.
//
// Metrics are registered on the default registry and exposed by the ops
// listener at /metrics. Counters are labelled with the component name so a
// topology with many watchers and uploaders stays distinguishable.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Watcher metrics

	WatcherCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflux_watcher_cycles_total",
			Help: "Total poll cycles run per watcher",
		},
		[]string{"watcher"},
	)

	WatcherCycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflux_watcher_cycle_errors_total",
			Help: "Poll cycles that failed and yielded zero results",
		},
		[]string{"watcher"},
	)

	WatcherItemsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflux_watcher_items_found_total",
			Help: "New media items discovered per watcher",
		},
		[]string{"watcher"},
	)

	WatcherItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflux_watcher_items_skipped_total",
			Help: "Items skipped because the ledger already marked them handled",
		},
		[]string{"watcher"},
	)

	// Dispatcher metrics

	DispatchBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaflux_dispatch_batches_total",
			Help: "Batches handed to the dispatcher",
		},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediaflux_dispatch_duration_seconds",
			Help:    "Wall time from dispatch to fan-out completion",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	// Uploader metrics

	UploadBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflux_upload_batches_total",
			Help: "Publish calls per uploader, by outcome",
		},
		[]string{"uploader", "outcome"}, // outcome: ok, error
	)

	UploadItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflux_upload_items_total",
			Help: "Media items published per uploader",
		},
		[]string{"uploader"},
	)

	// Middleware metrics

	CollectorQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediaflux_collector_queue_depth",
			Help: "Items currently held by a collector stage",
		},
		[]string{"middleware"},
	)

	LimiterWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflux_limiter_waits_total",
			Help: "Times a limiter stage blocked a caller until the period rolled",
		},
		[]string{"middleware"},
	)

	ItemsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflux_items_dropped_total",
			Help: "Items dropped (and closed) by a middleware stage",
		},
		[]string{"middleware"},
	)

	// Scratch storage metrics

	ScratchFilesLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaflux_scratch_files_live",
			Help: "Scratch files currently allocated and not yet closed",
		},
	)

	ScratchFilesLeaked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaflux_scratch_files_leaked_total",
			Help: "Stray files force-cleaned at shutdown; indicates an ownership bug upstream",
		},
	)
)
