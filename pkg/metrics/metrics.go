// Package metrics exposes the Prometheus instrumentation for the
// pipeline. All collectors are registered on the default registry and
// served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsProcessed counts items that advanced out of a stage.
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_items_processed_total",
		Help: "Queue items successfully advanced, by stage.",
	}, []string{"stage"})

	// ItemsFailed counts recorded item failures.
	ItemsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_items_failed_total",
		Help: "Queue item failures, by stage and level.",
	}, []string{"stage", "level"})

	// EventsPersisted counts store outcomes of the persist stage.
	EventsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_events_persisted_total",
		Help: "Events landed in the canonical store, by outcome.",
	}, []string{"outcome"})

	// CardsExtracted counts raw cards by winning strategy.
	CardsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_cards_extracted_total",
		Help: "Raw event cards produced, by winning strategy.",
	}, []string{"strategy"})

	// CardsRejected counts cards dropped by the normalizer.
	CardsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_cards_rejected_total",
		Help: "Cards rejected during normalization, by reason.",
	}, []string{"reason"})

	// FetchFailovers counts static to dynamic session flips.
	FetchFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetch_failovers_total",
		Help: "Fetch sessions that failed over to the dynamic renderer.",
	})

	// GeocodeResults counts geocoder resolutions by source of the answer.
	GeocodeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_geocode_results_total",
		Help: "Geocoder resolutions, by result (page, cache, provider, miss, error).",
	}, []string{"result"})

	// HealingAttempts counts selector healing runs by outcome.
	HealingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_healing_attempts_total",
		Help: "Selector healing attempts, by outcome (applied, rejected, failed).",
	}, []string{"outcome"})

	// QueueDepth mirrors the per-stage queue depth on each health poll.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvester_queue_depth",
		Help: "Current queue depth per stage.",
	}, []string{"stage"})

	// StageDuration observes per-item processing time.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_stage_duration_seconds",
		Help:    "Per-item processing duration, by stage.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 10),
	}, []string{"stage"})
)
