package solverr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command outcomes beyond the server's own ok/error markers.
const (
	outcomeRejected       = "rejected"
	outcomeTransportError = "transport_error"
)

var (
	metricCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solverr",
		Name:      "commands_total",
		Help:      "Commands dispatched to the solver, by command and outcome.",
	}, []string{"cmd", "outcome"})

	metricCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "solverr",
		Name:      "command_duration_seconds",
		Help:      "Wall time of solver command round trips.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"cmd"})

	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "solverr",
		Name:      "sessions_active_total",
		Help:      "Client-side session handles currently active.",
	})

	metricSessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solverr",
		Name:      "sessions_expired_total",
		Help:      "Sessions destroyed by the idle TTL rather than explicitly.",
	})
)
