package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	completionChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personasim",
		Subsystem: "sessions",
		Name:      "completion_checks_total",
		Help:      "Session completion checks by outcome.",
	}, []string{"outcome"})

	sessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "personasim",
		Subsystem: "sessions",
		Name:      "completed_total",
		Help:      "Sessions flipped to COMPLETED.",
	})
)
