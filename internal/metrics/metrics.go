package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidationDecisions counts validation decisions by outcome
	// ("valid" or the negative reason string).
	ValidationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_validation_decisions_total",
		Help: "License validation decisions by outcome.",
	}, []string{"outcome"})

	ReleaseOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_release_outcomes_total",
		Help: "License release outcomes.",
	}, []string{"outcome"})

	// StoreFaults counts systemic store failures, which are reported to
	// callers as faults rather than license decisions.
	StoreFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_store_faults_total",
		Help: "Store failures during license operations.",
	})
)
