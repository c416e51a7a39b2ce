package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "image_pipeline"

var (
	stepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_runs_total",
		Help:      "Pipeline step executions by step and outcome.",
	}, []string{"step", "outcome"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Pipeline step latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"step"})

	detectionsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detections_stored_total",
		Help:      "Detection entries written to the record store, by endpoint.",
	}, []string{"endpoint"})

	boxesDrawn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "boxes_drawn_total",
		Help:      "Bounding boxes rendered onto labeled images.",
	})

	messagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_ingested_total",
		Help:      "Queue messages handled by the ingest step, by outcome.",
	}, []string{"outcome"})
)

// ObserveStep records one step execution started at start
func ObserveStep(step string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	stepRuns.WithLabelValues(step, outcome).Inc()
	stepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

// AddDetections counts n entries stored for endpoint
func AddDetections(endpoint string, n int) {
	detectionsStored.WithLabelValues(endpoint).Add(float64(n))
}

// AddBoxes counts n rendered boxes
func AddBoxes(n int) {
	boxesDrawn.Add(float64(n))
}

// MessageIngested counts one queue message by outcome ("acked", "skipped", "failed")
func MessageIngested(outcome string) {
	messagesIngested.WithLabelValues(outcome).Inc()
}

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
