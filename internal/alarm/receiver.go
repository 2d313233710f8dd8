package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gocloud.dev/gcerrors"
	"gocloud.dev/pubsub"
	"golang.org/x/sync/semaphore"

	"github.com/athenasync/athenasync/pkg/types"
)

// sourceSubscription labels messages received from a pubsub subscription.
const sourceSubscription = "subscription"

// SubscriptionReceiver feeds messages from a pubsub subscription into a
// Forwarder. Messages are acked after a successful publish and nacked
// (where the driver supports it) after a failure so they are redelivered.
type SubscriptionReceiver struct {
	sub         *pubsub.Subscription
	forwarder   *Forwarder
	maxHandlers int
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewSubscriptionReceiver creates a receiver running at most maxHandlers
// forwards at once.
func NewSubscriptionReceiver(sub *pubsub.Subscription, f *Forwarder, maxHandlers int, logger *slog.Logger) *SubscriptionReceiver {
	if maxHandlers < 1 {
		maxHandlers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionReceiver{sub: sub, forwarder: f, maxHandlers: maxHandlers, logger: logger}
}

// Start begins receiving. It runs until ctx is cancelled or Stop is called.
func (r *SubscriptionReceiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("alarm: receiver is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.err = nil

	go r.run(ctx)
	return nil
}

// Stop stops receiving and waits for in-flight forwards to finish.
func (r *SubscriptionReceiver) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}

	r.cancel()
	<-r.done
	r.running = false
	return r.err
}

// Done is closed when the receive loop exits.
func (r *SubscriptionReceiver) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *SubscriptionReceiver) run(ctx context.Context) {
	defer close(r.done)

	sem := semaphore.NewWeighted(int64(r.maxHandlers))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := r.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && gcerrors.Code(err) != gcerrors.Canceled {
				r.logger.Error("subscription receive failed", "error", err)
				r.err = err
			}
			return
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			if msg.Nackable() {
				msg.Nack()
			}
			return
		}

		wg.Add(1)
		go func(m *pubsub.Message) {
			defer wg.Done()
			defer sem.Release(1)
			r.handle(context.WithoutCancel(ctx), m)
		}(msg)
	}
}

func (r *SubscriptionReceiver) handle(ctx context.Context, m *pubsub.Message) {
	msg := types.AlarmMessage{
		ID:         m.LoggableID,
		Payload:    m.Body,
		Attributes: m.Metadata,
	}
	if subject, ok := m.Metadata[subjectKey]; ok {
		msg.Subject = subject
		msg.Attributes = withoutKey(m.Metadata, subjectKey)
	}

	if err := r.forwarder.Forward(ctx, sourceSubscription, msg); err != nil {
		if m.Nackable() {
			m.Nack()
		}
		return
	}
	m.Ack()
}

func withoutKey(md map[string]string, key string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		if k != key {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
