package attestation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	endpointAttestations = "attestations"
	endpointMessages     = "messages"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_attestation_requests_total",
			Help: "Total number of requests to the attestation service, by endpoint and result",
		}, []string{"endpoint", "result"})
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_attestation_polls_total",
			Help: "Total number of finished attestation polls, by outcome",
		}, []string{"outcome"})
	pollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cctp_attestation_poll_duration_seconds",
			Help:    "Time from the first request of a poll until the attestation was complete",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		})
)
