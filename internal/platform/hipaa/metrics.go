package hipaa

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// alertsDelivered counts sink emissions by sink and outcome.
	alertsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crisis_alert_deliveries_total",
		Help: "Crisis alert deliveries by sink and outcome",
	}, []string{"sink", "outcome"})

	// alertsDropped counts events that never reached a sink.
	alertsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crisis_alerts_dropped_total",
		Help: "Crisis alerts dropped before delivery by reason",
	}, []string{"reason"})

	alertDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crisis_alert_delivery_duration_seconds",
		Help:    "Crisis alert delivery latency per sink",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"sink"})
)
