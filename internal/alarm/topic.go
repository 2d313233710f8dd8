package alarm

import (
	"context"

	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/awssnssqs"
	_ "gocloud.dev/pubsub/mempubsub"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/pkg/types"
)

// subjectKey carries the SNS subject through pubsub metadata.
const subjectKey = "Subject"

// TopicPublisher publishes to a gocloud.dev pubsub topic, for example
// "awssns:///arn:aws:sns:..." or "mem://alarms".
type TopicPublisher struct {
	topic *pubsub.Topic
	owned bool
}

// OpenTopicPublisher opens the topic at url. Close shuts it down.
func OpenTopicPublisher(ctx context.Context, url string) (*TopicPublisher, error) {
	topic, err := pubsub.OpenTopic(ctx, url)
	if err != nil {
		return nil, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "open topic "+url+": "+err.Error())
	}
	return &TopicPublisher{topic: topic, owned: true}, nil
}

// NewTopicPublisher wraps an open topic. The caller keeps ownership.
func NewTopicPublisher(topic *pubsub.Topic) *TopicPublisher {
	return &TopicPublisher{topic: topic}
}

// Publish sends the payload as the message body.
func (p *TopicPublisher) Publish(ctx context.Context, msg types.AlarmMessage) error {
	var md map[string]string
	if len(msg.Attributes) > 0 || msg.Subject != "" {
		md = make(map[string]string, len(msg.Attributes)+1)
		for k, v := range msg.Attributes {
			md[k] = v
		}
		if msg.Subject != "" {
			md[subjectKey] = msg.Subject
		}
	}
	return p.topic.Send(ctx, &pubsub.Message{Body: msg.Payload, Metadata: md})
}

// Close shuts the topic down if this publisher opened it.
func (p *TopicPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.topic.Shutdown(context.Background())
}
