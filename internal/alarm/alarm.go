// Package alarm relays alarm notifications from a local channel to a
// central destination, unmodified and at most once per delivery.
package alarm

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/metrics"
	"github.com/athenasync/athenasync/pkg/types"
)

// DefaultPublishTimeout bounds one publish when none is configured.
const DefaultPublishTimeout = 10 * time.Second

// Publisher delivers one message to the destination.
type Publisher interface {
	Publish(ctx context.Context, msg types.AlarmMessage) error
}

// Forwarder passes inbound messages to a Publisher. It keeps no state
// between messages and does not retry.
type Forwarder struct {
	publisher Publisher
	timeout   time.Duration
	metrics   *metrics.ForwarderMetrics
	logger    *slog.Logger
}

// NewForwarder creates a forwarder. m may be nil.
func NewForwarder(p Publisher, timeout time.Duration, m *metrics.ForwarderMetrics, logger *slog.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{publisher: p, timeout: timeout, metrics: m, logger: logger}
}

// OnMessage publishes msg once. A failure is returned as a publish error so
// the inbound channel can redeliver.
func (f *Forwarder) OnMessage(ctx context.Context, msg types.AlarmMessage) error {
	return f.Forward(ctx, "direct", msg)
}

// Forward is OnMessage with the inbound channel named for metrics and logs.
func (f *Forwarder) Forward(ctx context.Context, source string, msg types.AlarmMessage) error {
	if f.metrics != nil {
		f.metrics.MessagesReceived.WithLabelValues(source).Inc()
		f.metrics.InFlight.Inc()
		defer f.metrics.InFlight.Dec()
	}

	pubCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	err := f.publisher.Publish(pubCtx, msg)
	elapsed := time.Since(start)

	if f.metrics != nil {
		f.metrics.PublishDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	}
	if err != nil {
		if f.metrics != nil {
			f.metrics.PublishFailures.WithLabelValues(source).Inc()
		}
		f.logger.Error("alarm publish failed", "source", source, "message_id", msg.ID, "error", err)
		return publishError(err)
	}

	if f.metrics != nil {
		f.metrics.MessagesForwarded.WithLabelValues(source).Inc()
	}
	f.logger.Info("alarm forwarded", "source", source, "message_id", msg.ID, "bytes", len(msg.Payload), "duration", elapsed)
	return nil
}

func publishError(err error) error {
	if apperrors.GetCategory(err) == apperrors.ErrCategoryPublish {
		return err
	}
	return apperrors.NewPublishError("publish alarm", apperrors.Classify("publish alarm", err))
}
