package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_events_published_total",
		Help: "Events handed to the broker, by topic and outcome (ok, error).",
	}, []string{"topic", "outcome"})

	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_events_consumed_total",
		Help: "Events read from the broker, by topic and outcome (handled, failed, malformed).",
	}, []string{"topic", "outcome"})

	handleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_event_handle_duration_seconds",
		Help:    "Time spent handling one event, retries included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
)

func observePublish(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	eventsPublished.WithLabelValues(topic, outcome).Inc()
}
