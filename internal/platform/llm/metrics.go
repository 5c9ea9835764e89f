package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personasim",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Gateway calls by provider, operation and outcome.",
	}, []string{"provider", "op", "outcome"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personasim",
		Subsystem: "llm",
		Name:      "retries_total",
		Help:      "Retries scheduled after transient upstream failures.",
	}, []string{"provider", "op"})

	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "personasim",
		Subsystem: "llm",
		Name:      "attempt_duration_seconds",
		Help:      "Latency of individual provider attempts.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"provider"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "personasim",
		Subsystem: "llm",
		Name:      "breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
	}, []string{"provider"})
)
