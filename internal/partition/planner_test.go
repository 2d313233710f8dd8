package partition

import (
	"context"
	"errors"
	"iter"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/logging"
	"github.com/athenasync/athenasync/pkg/types"
)

// fakeScanner answers prefix listings from a fixed key set. Errors are keyed by
// prefix substring so a whole region can be made to fail.
type fakeScanner struct {
	keys     []string
	errs     map[string]error
	jitter   *rand.Rand
	jitterMu sync.Mutex
	calls    atomic.Int64
}

func (f *fakeScanner) ListObjectsUnderPrefix(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f.calls.Add(1)
		if f.jitter != nil {
			f.jitterMu.Lock()
			d := time.Duration(f.jitter.Intn(200)) * time.Microsecond
			f.jitterMu.Unlock()
			time.Sleep(d)
		}
		for substr, err := range f.errs {
			if strings.Contains(prefix, substr) {
				yield("", err)
				return
			}
		}
		for _, key := range f.keys {
			if strings.HasPrefix(key, prefix) {
				if !yield(key, nil) {
					return
				}
			}
		}
	}
}

func (f *fakeScanner) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

const root = "AWSLogs/210987654321/CloudTrail/"

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func window(t *testing.T, days int) types.DateWindow {
	t.Helper()
	w, err := types.NewDateWindow(day(10), days)
	if err != nil {
		t.Fatalf("NewDateWindow: %v", err)
	}
	return w
}

func TestLocation(t *testing.T) {
	key := types.NewPartitionKey("us-east-1", day(8))
	if got := Location(root, key); got != root+"us-east-1/2024/03/08/" {
		t.Errorf("Location = %s", got)
	}
	if got := Location("s3://logs/"+root, key); got != "s3://logs/"+root+"us-east-1/2024/03/08/" {
		t.Errorf("Location with bucket = %s", got)
	}
}

func TestCandidates_DuplicateRegions(t *testing.T) {
	keys := Candidates([]types.Region{"us-east-1", "eu-west-1", "us-east-1"}, window(t, 2))
	if len(keys) != 4 {
		t.Fatalf("keys = %v, want 4 unique keys", keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] == keys[i-1] {
			t.Errorf("duplicate key %s", keys[i])
		}
	}
}

func TestPlan_DuplicateRegionsScannedOnce(t *testing.T) {
	scanner := &fakeScanner{keys: []string{root + "us-east-1/2024/03/10/a.json.gz"}}
	p := NewPlanner(scanner, 4, logging.Discard())

	plan, err := p.Plan(context.Background(), root, []types.Region{"us-east-1", "us-east-1"}, window(t, 3))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Keys) != 1 {
		t.Errorf("keys = %v, want one", plan.Keys)
	}
	if plan.Checked != 3 {
		t.Errorf("checked = %d, want 3", plan.Checked)
	}
	if got := scanner.calls.Load(); got != 3 {
		t.Errorf("listings = %d, want 3", got)
	}
}

func TestPlan_IncludesOnlyPresentKeys(t *testing.T) {
	scanner := &fakeScanner{keys: []string{
		root + "us-east-1/2024/03/08/a.json.gz",
		root + "us-east-1/2024/03/10/b.json.gz",
		root + "eu-west-1/2024/03/09/c.json.gz",
		root + "eu-west-1/2024/03/07/too-old.json.gz",
	}}
	p := NewPlanner(scanner, 4, logging.Discard())

	plan, err := p.Plan(context.Background(), root, []types.Region{"us-east-1", "eu-west-1"}, window(t, 3))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	want := []string{
		"region=eu-west-1/year=2024/month=03/day=09",
		"region=us-east-1/year=2024/month=03/day=08",
		"region=us-east-1/year=2024/month=03/day=10",
	}
	if len(plan.Keys) != len(want) {
		t.Fatalf("keys = %v, want %v", plan.Keys, want)
	}
	for i, key := range plan.Keys {
		if key.String() != want[i] {
			t.Errorf("key[%d] = %s, want %s", i, key, want[i])
		}
	}
	if plan.Checked != 6 {
		t.Errorf("checked = %d, want 6", plan.Checked)
	}
	if len(plan.ScanFailures) != 0 {
		t.Errorf("unexpected scan failures: %v", plan.ScanFailures)
	}
}

func TestPlan_EmptyInputs(t *testing.T) {
	scanner := &fakeScanner{keys: []string{root + "us-east-1/2024/03/10/a.json.gz"}}
	p := NewPlanner(scanner, 4, logging.Discard())

	plan, err := p.Plan(context.Background(), root, nil, window(t, 3))
	if err != nil || len(plan.Keys) != 0 {
		t.Errorf("no regions: plan=%v err=%v", plan.Keys, err)
	}
	plan, err = p.Plan(context.Background(), root, []types.Region{"us-east-1"}, window(t, 0))
	if err != nil || len(plan.Keys) != 0 {
		t.Errorf("empty window: plan=%v err=%v", plan.Keys, err)
	}
	if scanner.calls.Load() != 0 {
		t.Errorf("expected no listings, got %d", scanner.calls.Load())
	}
}

func TestPlan_ScanFailureIsolation(t *testing.T) {
	scanner := &fakeScanner{
		keys: []string{
			root + "us-1/2024/03/10/a.json.gz",
			root + "eu-1/2024/03/10/b.json.gz",
		},
		errs: map[string]error{
			"/eu-1/": apperrors.NewTransientError(apperrors.CodeTimeout, "list timed out", context.DeadlineExceeded),
		},
	}
	p := NewPlanner(scanner, 2, logging.Discard())

	plan, err := p.Plan(context.Background(), root, []types.Region{"eu-1", "us-1"}, window(t, 1))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Keys) != 1 || plan.Keys[0].Region != "us-1" {
		t.Errorf("keys = %v, want only us-1", plan.Keys)
	}
	if len(plan.ScanFailures) != 1 || plan.ScanFailures[0].Key.Region != "eu-1" {
		t.Fatalf("scan failures = %v", plan.ScanFailures)
	}
	if !errors.Is(plan.Err(), apperrors.ErrTransient) {
		t.Errorf("plan error = %v", plan.Err())
	}
}

func TestPlan_PermissionErrorIsFatal(t *testing.T) {
	scanner := &fakeScanner{
		keys: []string{root + "us-east-1/2024/03/10/a.json.gz"},
		errs: map[string]error{
			"/eu-west-1/": apperrors.NewPermissionError("list denied", nil),
		},
	}
	p := NewPlanner(scanner, 1, logging.Discard())

	plan, err := p.Plan(context.Background(), root, []types.Region{"eu-west-1", "us-east-1"}, window(t, 2))
	if !errors.Is(err, apperrors.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if plan != nil {
		t.Errorf("expected no plan, got %v", plan)
	}
}

func TestPlan_Canceled(t *testing.T) {
	scanner := &fakeScanner{keys: []string{root + "us-east-1/2024/03/10/a.json.gz"}}
	p := NewPlanner(scanner, 1, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Plan(ctx, root, []types.Region{"us-east-1"}, window(t, 3)); !errors.Is(err, apperrors.ErrTransient) {
		t.Errorf("expected transient cancellation error, got %v", err)
	}
}

// TestProperty_PlanDeterministic checks that identical scanner answers give an
// identical plan whatever order the existence checks complete in.
func TestProperty_PlanDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	regions := []types.Region{"ap-south-1", "eu-west-1", "sa-east-1", "us-east-1", "us-west-2"}

	properties.Property("plan is independent of completion order", prop.ForAll(
		func(mask []bool, seed int64, concurrency int) bool {
			var keys []string
			for i, present := range mask {
				if !present {
					continue
				}
				region := regions[i%len(regions)]
				key := types.NewPartitionKey(region, day(10-i/len(regions)))
				keys = append(keys, Location(root, key)+"log.json.gz")
			}
			w, _ := types.NewDateWindow(day(10), 3)

			run := func(seed int64) []types.PartitionKey {
				scanner := &fakeScanner{keys: keys, jitter: rand.New(rand.NewSource(seed))}
				plan, err := NewPlanner(scanner, concurrency, logging.Discard()).Plan(context.Background(), root, regions, w)
				if err != nil {
					return nil
				}
				return plan.Keys
			}

			a, b := run(seed), run(seed+1)
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(15, gen.Bool()),
		gen.Int64(),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
