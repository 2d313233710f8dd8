package alarm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/athenasync/athenasync/pkg/types"
)

const sourceLambda = "lambda"

// HandleSNSEvent forwards every record of an SNS Lambda event. Any failure
// is returned so the invocation is retried by SNS.
func (f *Forwarder) HandleSNSEvent(ctx context.Context, event events.SNSEvent) error {
	var errs []error
	for _, record := range event.Records {
		if err := f.Forward(ctx, sourceLambda, alarmFromSNS(record.SNS)); err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", record.SNS.MessageID, err))
		}
	}
	return errors.Join(errs...)
}

func alarmFromSNS(e events.SNSEntity) types.AlarmMessage {
	msg := types.AlarmMessage{
		ID:      e.MessageID,
		Subject: e.Subject,
		Payload: []byte(e.Message),
	}
	for k, raw := range e.MessageAttributes {
		attr, ok := raw.(map[string]any)
		if !ok || attr["Type"] != "String" {
			continue
		}
		v, ok := attr["Value"].(string)
		if !ok {
			continue
		}
		if msg.Attributes == nil {
			msg.Attributes = make(map[string]string)
		}
		msg.Attributes[k] = v
	}
	return msg
}
