package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_transfers_submitted_total",
			Help: "Total number of burns submitted, by source and destination chain",
		}, []string{"source_chain", "destination_chain"})
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_transfer_state_transitions_total",
			Help: "Total number of transfer state transitions",
		}, []string{"from", "to"})
	transferFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_transfer_failures_total",
			Help: "Total number of transfers moved to failed, grouped by cause",
		}, []string{"cause"})
	transientErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_transfer_transient_errors_total",
			Help: "Total number of transient errors retried by transfer workers",
		}, []string{"state"})
	activeTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cctp_transfers_active",
			Help: "Current number of transfers in a non-terminal state",
		})
	transferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cctp_transfer_duration_seconds",
			Help:    "Time from burn submission to redemption",
			Buckets: []float64{60, 120, 300, 600, 900, 1200, 1800, 3600, 7200},
		})
)
