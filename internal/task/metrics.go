package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personasim",
		Subsystem: "tasks",
		Name:      "processed_total",
		Help:      "Task deliveries by type and outcome.",
	}, []string{"type", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "personasim",
		Subsystem: "tasks",
		Name:      "duration_seconds",
		Help:      "Handler run time per delivery.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"type"})

	tasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "personasim",
		Subsystem: "tasks",
		Name:      "in_flight",
		Help:      "Tasks currently held by workers.",
	})
)
