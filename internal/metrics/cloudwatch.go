package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	apperrors "github.com/athenasync/athenasync/internal/errors"
)

// PutMetricDataAPI is the subset of the CloudWatch client used by CloudWatchSink.
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink publishes signals as CloudWatch custom metrics.
type CloudWatchSink struct {
	client    PutMetricDataAPI
	namespace string
	timeout   time.Duration
	now       func() time.Time
}

// NewCloudWatchSink creates a sink for namespace.
func NewCloudWatchSink(client PutMetricDataAPI, namespace string, timeout time.Duration) *CloudWatchSink {
	return &CloudWatchSink{client: client, namespace: namespace, timeout: timeout, now: time.Now}
}

// Emit sends all signals in one PutMetricData call.
func (s *CloudWatchSink) Emit(ctx context.Context, signals []Signal) error {
	if len(signals) == 0 {
		return nil
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ts := s.now()
	data := make([]cwtypes.MetricDatum, 0, len(signals))
	for _, sig := range signals {
		datum := cwtypes.MetricDatum{
			MetricName: aws.String(sig.Name),
			Value:      aws.Float64(sig.Value),
			Unit:       cloudWatchUnit(sig.Unit),
			Timestamp:  aws.Time(ts),
		}
		for name, value := range sig.Dimensions {
			datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
				Name:  aws.String(name),
				Value: aws.String(value),
			})
		}
		data = append(data, datum)
	}

	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(s.namespace),
		MetricData: data,
	})
	if err != nil {
		return apperrors.Classify("cloudwatch put metric data", err)
	}
	return nil
}

func cloudWatchUnit(unit string) cwtypes.StandardUnit {
	switch unit {
	case UnitCount:
		return cwtypes.StandardUnitCount
	case UnitSeconds:
		return cwtypes.StandardUnitSeconds
	default:
		return cwtypes.StandardUnitNone
	}
}
