package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ForwarderMetrics holds the Prometheus metrics of the alarm forwarder service.
type ForwarderMetrics struct {
	registry *prometheus.Registry

	MessagesReceived  *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec
	InFlight          prometheus.Gauge
}

// NewForwarderMetrics creates the forwarder metrics on a private registry.
func NewForwarderMetrics(namespace string) *ForwarderMetrics {
	if namespace == "" {
		namespace = "athenasync"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &ForwarderMetrics{
		registry: reg,
		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarm_messages_received_total",
				Help:      "Total number of alarm messages received",
			},
			[]string{"source"},
		),
		MessagesForwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarm_messages_forwarded_total",
				Help:      "Total number of alarm messages published to the destination",
			},
			[]string{"source"},
		),
		PublishFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alarm_publish_failures_total",
				Help:      "Total number of failed publishes",
			},
			[]string{"source"},
		),
		PublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "alarm_publish_duration_seconds",
				Help:      "Time to publish one alarm message",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"source"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alarm_messages_in_flight",
				Help:      "Messages currently being forwarded",
			},
		),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *ForwarderMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *ForwarderMetrics) Registry() *prometheus.Registry {
	return m.registry
}
