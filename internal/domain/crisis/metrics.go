package crisis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// analysesTotal counts AnalyzeText calls by outcome: detected,
	// not_detected or rejected.
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crisis_analyses_total",
		Help: "Crisis text analyses by outcome",
	}, []string{"outcome"})

	detectionsBySeverity = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crisis_detections_total",
		Help: "Crisis detections by aggregated severity and recommended action",
	}, []string{"severity", "action"})

	// candidatesSuppressed counts matches dropped at the acceptance threshold.
	candidatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crisis_candidates_suppressed_total",
		Help: "Keyword matches dropped because their adjusted confidence fell to the acceptance threshold",
	})

	analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crisis_analysis_duration_seconds",
		Help:    "Time spent classifying one piece of text",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50us to ~100ms
	})
)
