package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatchSink_Emit(t *testing.T) {
	client := &fakeCloudWatch{}
	sink := NewCloudWatchSink(client, "cloudtrail_partitioner", time.Second)

	err := sink.Emit(context.Background(), []Signal{
		Count(SignalErrors, 2),
		{Name: SignalRunDuration, Value: 1.5, Unit: UnitSeconds, Dimensions: map[string]string{"Bucket": "logs"}},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(client.inputs) != 1 {
		t.Fatalf("expected one call, got %d", len(client.inputs))
	}
	in := client.inputs[0]
	if aws.ToString(in.Namespace) != "cloudtrail_partitioner" {
		t.Errorf("namespace = %s", aws.ToString(in.Namespace))
	}
	if len(in.MetricData) != 2 {
		t.Fatalf("metric data = %v", in.MetricData)
	}
	first := in.MetricData[0]
	if aws.ToString(first.MetricName) != "errors" || aws.ToFloat64(first.Value) != 2 || first.Unit != cwtypes.StandardUnitCount {
		t.Errorf("first datum = %+v", first)
	}
	if len(in.MetricData[1].Dimensions) != 1 {
		t.Errorf("dimensions = %v", in.MetricData[1].Dimensions)
	}
}

func TestCloudWatchSink_EmptyIsNoop(t *testing.T) {
	client := &fakeCloudWatch{}
	if err := NewCloudWatchSink(client, "ns", 0).Emit(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(client.inputs) != 0 {
		t.Errorf("expected no calls, got %d", len(client.inputs))
	}
}

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, []Signal) error { return f.err }

func TestMulti_EmitsToAll(t *testing.T) {
	rec := &Recorder{}
	boom := errors.New("boom")
	m := Multi{failingSink{boom}, rec}

	err := m.Emit(context.Background(), []Signal{Count(SignalPartitionsAdded, 3)})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if v, ok := rec.Value(SignalPartitionsAdded); !ok || v != 3 {
		t.Errorf("recorder value = %v, %v", v, ok)
	}
}

func TestPushSink_Emit(t *testing.T) {
	var mu sync.Mutex
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewPushSink(srv.URL, "athenasync", "cloudtrail_partitioner", map[string]string{"bucket": "logs"})
	if err := sink.Emit(context.Background(), []Signal{Count(SignalPartitionsAdded, 7)}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(path, "/job/athenasync") || !strings.Contains(path, "/bucket/logs") {
		t.Errorf("path = %s", path)
	}
	if !strings.Contains(body, "cloudtrail_partitioner_partitions_added") {
		t.Errorf("body does not carry the metric name")
	}
}

func TestForwarderMetrics(t *testing.T) {
	m := NewForwarderMetrics("test")
	m.MessagesReceived.WithLabelValues("sns").Inc()
	m.MessagesForwarded.WithLabelValues("sns").Inc()

	if got := testutil.ToFloat64(m.MessagesForwarded.WithLabelValues("sns")); got != 1 {
		t.Errorf("forwarded = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "test_alarm_messages_received_total") {
		t.Errorf("metrics endpoint missing counter:\n%s", rec.Body.String())
	}
}
