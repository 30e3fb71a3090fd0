// Package metrics defines the Prometheus collectors exported by the microservices at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeDelayed   = "delayed"
	OutcomeRetrying  = "retrying"
	OutcomeFailed    = "failed"
)

var (
	BlocksScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capgw",
		Subsystem: "scanner",
		Name:      "blocks_scanned_total",
		Help:      "Blocks processed and committed by the scanner.",
	}, []string{"scanner"})

	Cursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "capgw",
		Subsystem: "scanner",
		Name:      "last_seen_block",
		Help:      "Last block number committed to the scan cursor.",
	}, []string{"scanner"})

	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capgw",
		Subsystem: "scanner",
		Name:      "handler_failures_total",
		Help:      "Chain event handler and block hook failures.",
	}, []string{"scanner"})

	CapacityRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "capgw",
		Subsystem: "capacity",
		Name:      "remaining",
		Help:      "Remaining capacity of the provider in the current epoch.",
	}, []string{"provider"})

	CapacityExhausted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "capgw",
		Subsystem: "capacity",
		Name:      "exhausted",
		Help:      "1 while admission is paused because a capacity limit tripped.",
	}, []string{"provider"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "capgw",
		Subsystem: "queue",
		Name:      "jobs_processed_total",
		Help:      "Jobs processed by outcome.",
	}, []string{"queue", "outcome"})
)
