package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_dispatch_total",
			Help: "Dispatch calls by channel and result",
		},
		[]string{"channel", "result"}, // ok|partial|failed|invalid_input|auth_expired|render_error|error
	)

	sendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_dispatch_send_total",
			Help: "Per-recipient sends by channel, outcome and failure reason",
		},
		[]string{"channel", "outcome", "reason"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meeting_dispatch_send_duration_seconds",
			Help:    "Per-recipient send duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"channel"},
	)

	tokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_dispatch_token_refresh_total",
			Help: "Gmail token refreshes performed before a dispatch",
		},
		[]string{"result"}, // refreshed|failed
	)

	sendsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meeting_dispatch_sends_in_flight",
			Help: "Per-recipient sends currently running",
		},
	)
)
