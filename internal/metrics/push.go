package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushSink pushes signals to a Prometheus Pushgateway as gauges.
type PushSink struct {
	url       string
	job       string
	namespace string
	grouping  map[string]string
}

// NewPushSink creates a Pushgateway sink. grouping labels identify the
// pushing instance (e.g. bucket).
func NewPushSink(url, job, namespace string, grouping map[string]string) *PushSink {
	return &PushSink{url: url, job: job, namespace: namespace, grouping: grouping}
}

// Emit replaces the job's metric group with the signals.
func (s *PushSink) Emit(ctx context.Context, signals []Signal) error {
	reg := prometheus.NewRegistry()
	for _, sig := range signals {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   s.namespace,
			Name:        sig.Name,
			Help:        fmt.Sprintf("Last partitioner run %s (%s)", sig.Name, sig.Unit),
			ConstLabels: sig.Dimensions,
		})
		g.Set(sig.Value)
		if err := reg.Register(g); err != nil {
			return fmt.Errorf("metrics: register %s: %w", sig.Name, err)
		}
	}

	pusher := push.New(s.url, s.job).Gatherer(reg)
	for name, value := range s.grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", s.url, err)
	}
	return nil
}
