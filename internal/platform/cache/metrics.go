package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "personasim",
	Subsystem: "persona_cache",
	Name:      "lookups_total",
	Help:      "Persona detail cache lookups by result.",
}, []string{"result"})
