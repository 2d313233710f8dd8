package alarm

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/athenasync/athenasync/pkg/types"
)

type fakeSNS struct {
	input *sns.PublishInput
	opts  sns.Options
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	for _, fn := range optFns {
		fn(&f.opts)
	}
	return &sns.PublishOutput{MessageId: aws.String("out-1")}, nil
}

const destTopic = "arn:aws:sns:us-east-1:210987654321:security-alarms"

func TestSNSPublisher_Publish(t *testing.T) {
	client := &fakeSNS{}
	p := NewSNSPublisher(client, destTopic)

	err := p.Publish(context.Background(), types.AlarmMessage{
		Subject:    "ALARM: partitioner-errors",
		Payload:    []byte(`{"NewStateValue":"ALARM"}`),
		Attributes: map[string]string{"account": "109876543210"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	in := client.input
	if aws.ToString(in.TopicArn) != destTopic {
		t.Errorf("topic = %s", aws.ToString(in.TopicArn))
	}
	if aws.ToString(in.Message) != `{"NewStateValue":"ALARM"}` {
		t.Errorf("message = %s", aws.ToString(in.Message))
	}
	if aws.ToString(in.Subject) != "ALARM: partitioner-errors" {
		t.Errorf("subject = %s", aws.ToString(in.Subject))
	}
	if a := in.MessageAttributes["account"]; aws.ToString(a.StringValue) != "109876543210" || aws.ToString(a.DataType) != "String" {
		t.Errorf("attribute = %+v", a)
	}
	if client.opts.RetryMaxAttempts != 1 {
		t.Errorf("retry attempts = %d, want 1", client.opts.RetryMaxAttempts)
	}
}

func TestSNSPublisher_NoSubject(t *testing.T) {
	client := &fakeSNS{}
	if err := NewSNSPublisher(client, destTopic).Publish(context.Background(), types.AlarmMessage{Payload: []byte("x")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if client.input.Subject != nil {
		t.Errorf("empty subject must be omitted, got %q", aws.ToString(client.input.Subject))
	}
	if client.input.MessageAttributes != nil {
		t.Error("no attributes expected")
	}
}
