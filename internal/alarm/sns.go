package alarm

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/athenasync/athenasync/pkg/types"
)

// SNSPublishAPI is the part of the SNS client the publisher uses.
type SNSPublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes to an SNS topic by ARN.
type SNSPublisher struct {
	client   SNSPublishAPI
	topicARN string
}

// NewSNSPublisher creates a publisher for topicARN.
func NewSNSPublisher(client SNSPublishAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

// Publish sends the payload as the SNS message. The subject and string
// attributes are carried over when present.
func (p *SNSPublisher) Publish(ctx context.Context, msg types.AlarmMessage) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(msg.Payload)),
	}
	if msg.Subject != "" {
		input.Subject = aws.String(msg.Subject)
	}
	if len(msg.Attributes) > 0 {
		input.MessageAttributes = make(map[string]snstypes.MessageAttributeValue, len(msg.Attributes))
		for k, v := range msg.Attributes {
			input.MessageAttributes[k] = snstypes.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	_, err := p.client.Publish(ctx, input, func(o *sns.Options) {
		o.RetryMaxAttempts = 1
	})
	return err
}

// Close is a no-op; the SNS client holds no per-topic resources.
func (p *SNSPublisher) Close() error { return nil }
