package alarm

import (
	"bytes"
	"context"
	"testing"
	"time"

	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/mempubsub"

	"github.com/athenasync/athenasync/internal/logging"
	"github.com/athenasync/athenasync/pkg/types"
)

func TestTopicPublisher_Mempubsub(t *testing.T) {
	ctx := context.Background()
	topic := mempubsub.NewTopic()
	defer topic.Shutdown(ctx)
	sub := mempubsub.NewSubscription(topic, time.Minute)
	defer sub.Shutdown(ctx)

	f := NewForwarder(NewTopicPublisher(topic), time.Second, nil, logging.Discard())
	payload := []byte(`{"AlarmName":"partitioner-errors"}`)
	msg := types.AlarmMessage{
		Subject:    "ALARM",
		Payload:    payload,
		Attributes: map[string]string{"severity": "high"},
	}
	if err := f.OnMessage(ctx, msg); err != nil {
		t.Fatalf("OnMessage: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got, err := sub.Receive(recvCtx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	got.Ack()

	if !bytes.Equal(got.Body, payload) {
		t.Errorf("body = %s, want byte-identical payload", got.Body)
	}
	if got.Metadata["Subject"] != "ALARM" || got.Metadata["severity"] != "high" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestOpenTopicPublisher_BadURL(t *testing.T) {
	if _, err := OpenTopicPublisher(context.Background(), "nosuchscheme://alarms"); err == nil {
		t.Fatal("expected an error for an unknown scheme")
	}
}

func TestOpenTopicPublisher_MemURL(t *testing.T) {
	p, err := OpenTopicPublisher(context.Background(), "mem://alarms-open-test")
	if err != nil {
		t.Fatalf("OpenTopicPublisher: %v", err)
	}
	if err := p.Publish(context.Background(), types.AlarmMessage{Payload: []byte("x")}); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func sendAll(t *testing.T, topic *pubsub.Topic, bodies ...string) {
	t.Helper()
	for _, b := range bodies {
		if err := topic.Send(context.Background(), &pubsub.Message{Body: []byte(b)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
}

func waitCalls(t *testing.T, pub *fakePublisher, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for pub.callCount() < n {
		select {
		case <-pub.publish:
		case <-deadline:
			t.Fatalf("timed out waiting for %d publishes, got %d", n, pub.callCount())
		}
	}
}

func TestSubscriptionReceiver_ForwardsAndAcks(t *testing.T) {
	ctx := context.Background()
	topic := mempubsub.NewTopic()
	defer topic.Shutdown(ctx)
	sub := mempubsub.NewSubscription(topic, time.Minute)

	pub := &fakePublisher{publish: make(chan struct{}, 16)}
	r := NewSubscriptionReceiver(sub, NewForwarder(pub, time.Second, nil, logging.Discard()), 2, logging.Discard())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	sendAll(t, topic, "a", "b", "c")
	waitCalls(t, pub, 3)

	if err := r.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if got := len(pub.messages()); got != 3 {
		t.Errorf("forwarded %d messages, want 3", got)
	}
	sub.Shutdown(ctx)
}

func TestSubscriptionReceiver_NackRedelivers(t *testing.T) {
	ctx := context.Background()
	topic := mempubsub.NewTopic()
	defer topic.Shutdown(ctx)
	sub := mempubsub.NewSubscription(topic, time.Minute)

	pub := &fakePublisher{failN: 1, publish: make(chan struct{}, 16)}
	r := NewSubscriptionReceiver(sub, NewForwarder(pub, time.Second, nil, logging.Discard()), 1, logging.Discard())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sendAll(t, topic, "alarm")
	waitCalls(t, pub, 2)

	if err := r.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	msgs := pub.messages()
	if len(msgs) != 1 || string(msgs[0].Payload) != "alarm" {
		t.Errorf("messages = %+v", msgs)
	}
	sub.Shutdown(ctx)
}
