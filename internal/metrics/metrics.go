// Package metrics collects and exposes Prometheus metrics for the upload
// workflow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface the workflow records through.  The upload
// coordinator takes a Recorder so tests can pass a no-op.
type Recorder interface {
	RecordPredictionSuccess()
	RecordPredictionFailure(reason string)
	RecordInferenceLatency(d time.Duration)
	RecordPersistenceFailure()
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	predictionSuccess prometheus.Counter
	predictionFail    *prometheus.CounterVec
	inferenceLatency  prometheus.Histogram
	persistenceFail   prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		predictionSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepsee_prediction_success_total",
			Help: "Successful inference submissions.",
		}),
		predictionFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deepsee_prediction_fail_total",
			Help: "Failed inference submissions by failure reason.",
		}, []string{"reason"}),
		inferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "deepsee_inference_latency_seconds",
			Help: "Wall time of the remote inference call.",
			// Inference is slow; stretch the default buckets upward.
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		persistenceFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deepsee_history_append_fail_total",
			Help: "Prediction records lost because the post-success history append failed.",
		}),
	}
	reg.MustRegister(c.predictionSuccess, c.predictionFail, c.inferenceLatency, c.persistenceFail)
	return c
}

func (c *Collector) RecordPredictionSuccess()             { c.predictionSuccess.Inc() }
func (c *Collector) RecordPredictionFailure(reason string) { c.predictionFail.WithLabelValues(reason).Inc() }
func (c *Collector) RecordInferenceLatency(d time.Duration) {
	c.inferenceLatency.Observe(d.Seconds())
}
func (c *Collector) RecordPersistenceFailure() { c.persistenceFail.Inc() }

// Handler exposes the gathered metrics over HTTP.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Noop discards every observation.  Useful in tests.
type Noop struct{}

func (Noop) RecordPredictionSuccess()               {}
func (Noop) RecordPredictionFailure(string)         {}
func (Noop) RecordInferenceLatency(time.Duration)   {}
func (Noop) RecordPersistenceFailure()              {}
