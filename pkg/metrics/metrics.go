// Package metrics exposes the worker's operational counters and histograms
// over Prometheus' text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the worker's metrics. One Registry is built at startup and
// handed to the dispatcher, which reports MessagesTotal, MessageFailures and
// StageDuration. PagesEmbedded and EmbedBatchSize are registered and exposed
// but are not updated by the pipeline.
type Registry struct {
	reg *prometheus.Registry

	MessagesTotal   *prometheus.CounterVec
	MessageFailures *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	PagesEmbedded   prometheus.Counter
	EmbedBatchSize  prometheus.Histogram
}

// New creates a Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_worker_messages_total",
			Help: "Broker deliveries processed, by routing key.",
		}, []string{"routing_key"}),
		MessageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_worker_message_failures_total",
			Help: "Broker deliveries rejected without requeue, by routing key.",
		}, []string{"routing_key"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insight_worker_stage_duration_seconds",
			Help:    "Stage handler wall-clock duration, by routing key.",
			Buckets: prometheus.DefBuckets,
		}, []string{"routing_key"}),
		PagesEmbedded: factory.NewCounter(prometheus.CounterOpts{
			Name: "insight_worker_pages_embedded_total",
			Help: "Pages successfully assigned an embedding vector.",
		}),
		EmbedBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "insight_worker_embed_batch_size",
			Help:    "Number of pages sent to the embedding provider per request.",
			Buckets: []float64{1, 4, 8, 16, 32, 64, 128},
		}),
	}
}

// Handler returns an http.Handler serving /metrics in Prometheus format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
