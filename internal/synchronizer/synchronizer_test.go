package synchronizer

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/athenasync/athenasync/internal/catalog"
	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/logging"
	"github.com/athenasync/athenasync/internal/metrics"
	"github.com/athenasync/athenasync/internal/regions"
	"github.com/athenasync/athenasync/internal/storage"
	"github.com/athenasync/athenasync/pkg/types"
)

const testAccount = "210987654321"

var runDate = time.Date(2024, 3, 12, 6, 30, 0, 0, time.UTC)

// memCatalog is an in-memory catalog.Driver.
type memCatalog struct {
	mu         sync.Mutex
	databases  map[string]bool
	tables     map[string]bool
	partitions map[string]map[types.PartitionKey]bool
	reject     map[types.PartitionKey]bool
	views      map[string][]catalog.Table
	tableErr   error
	onAdd      func(ctx context.Context) error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		databases:  map[string]bool{},
		tables:     map[string]bool{},
		partitions: map[string]map[types.PartitionKey]bool{},
		reject:     map[types.PartitionKey]bool{},
		views:      map[string][]catalog.Table{},
	}
}

func (m *memCatalog) CreateDatabase(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.databases[name] = true
	return nil
}

func (m *memCatalog) TableExists(ctx context.Context, table catalog.Table) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tableErr != nil {
		return false, m.tableErr
	}
	return m.tables[table.String()], nil
}

func (m *memCatalog) CreateTable(ctx context.Context, table catalog.Table, def catalog.TableDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table.String()] = true
	return nil
}

func (m *memCatalog) AddPartitions(ctx context.Context, table catalog.Table, keys []types.PartitionKey) (*catalog.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onAdd != nil {
		if err := m.onAdd(ctx); err != nil {
			return nil, err
		}
	}
	existing := m.partitions[table.String()]
	if existing == nil {
		existing = map[types.PartitionKey]bool{}
		m.partitions[table.String()] = existing
	}
	res := &catalog.BatchResult{Failed: map[types.PartitionKey]error{}}
	for _, key := range keys {
		switch {
		case m.reject[key]:
			res.Failed[key] = errors.New("HIVE_METASTORE_ERROR")
		case existing[key]:
			res.Existing = append(res.Existing, key)
		default:
			existing[key] = true
			res.Added = append(res.Added, key)
		}
	}
	return res, nil
}

func (m *memCatalog) ReplaceView(ctx context.Context, database, view string, tables []catalog.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[database+"."+view] = tables
	return nil
}

func (m *memCatalog) Close() error { return nil }

// failingScanner fails listings under prefixes containing failOn.
type failingScanner struct {
	storage.Scanner
	failOn string
	err    error
}

func (f *failingScanner) ListObjectsUnderPrefix(ctx context.Context, prefix string) iter.Seq2[string, error] {
	if strings.Contains(prefix, f.failOn) {
		return func(yield func(string, error) bool) { yield("", f.err) }
	}
	return f.Scanner.ListObjectsUnderPrefix(ctx, prefix)
}

type failingEnumerator struct{ err error }

func (f failingEnumerator) ListRegions(ctx context.Context) ([]types.Region, error) {
	return nil, f.err
}

type fixedLocator string

func (l fixedLocator) BucketRegion(ctx context.Context) (string, error) { return string(l), nil }

func logKey(region, date string) string {
	return "AWSLogs/" + testAccount + "/CloudTrail/" + region + "/" + date + "/" + testAccount + "_CloudTrail_" + region + "_x.json.gz"
}

func newScanner(t *testing.T, keys ...string) storage.Scanner {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	for _, key := range keys {
		if err := bucket.WriteAll(context.Background(), key, []byte("{}"), nil); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}
	return storage.NewBlobScanner(bucket, 0)
}

type harness struct {
	opts     Options
	deps     Dependencies
	catalog  *memCatalog
	recorder *metrics.Recorder
}

func newHarness(t *testing.T, scanner storage.Scanner) *harness {
	t.Helper()
	cat := newMemCatalog()
	rec := &metrics.Recorder{}
	logger := logging.Discard()
	return &harness{
		opts: Options{
			StorageRoot:        "org-trail-logs",
			WindowDays:         3,
			CatalogDatabase:    "security",
			CatalogTablePrefix: "cloudtrail",
			Region:             "us-east-1",
			CreateView:         true,
		},
		deps: Dependencies{
			Regions:    regions.NewStaticEnumerator([]string{"us-east-1", "eu-west-1"}),
			Scanner:    scanner,
			Reconciler: catalog.NewReconciler(cat, catalog.DefaultOptions(), logger),
			Sink:       rec,
			Logger:     logger,
			Clock:      func() time.Time { return runDate },
		},
		catalog:  cat,
		recorder: rec,
	}
}

func (h *harness) run(ctx context.Context) *Report {
	return New(h.opts, h.deps).Run(ctx)
}

func TestRun_Success(t *testing.T) {
	h := newHarness(t, newScanner(t,
		logKey("us-east-1", "2024/03/11"),
		logKey("us-east-1", "2024/03/12"),
		logKey("eu-west-1", "2024/03/10"),
		logKey("eu-west-1", "2024/03/01"),
	))

	rep := h.run(context.Background())
	if rep.Status != StatusSuccess {
		t.Fatalf("status = %s, error = %s", rep.Status, rep.Error)
	}
	if rep.RunID == "" {
		t.Error("expected a run id")
	}
	if rep.RegionsScanned != 2 {
		t.Errorf("regions scanned = %d, want 2", rep.RegionsScanned)
	}
	if rep.Window != "2024-03-10..2024-03-12" {
		t.Errorf("window = %s", rep.Window)
	}
	// 2024/03/01 is outside the window.
	if rep.PartitionsPlanned != 3 || rep.PartitionsAdded != 3 {
		t.Errorf("planned/added = %d/%d, want 3/3", rep.PartitionsPlanned, rep.PartitionsAdded)
	}
	if len(rep.Tables) != 1 || rep.Tables[0].Name != "cloudtrail_"+testAccount {
		t.Fatalf("tables = %+v", rep.Tables)
	}
	if want := "s3://org-trail-logs/AWSLogs/" + testAccount + "/CloudTrail/"; rep.Tables[0].Location != want {
		t.Errorf("location = %s, want %s", rep.Tables[0].Location, want)
	}
	if !h.catalog.databases["security"] {
		t.Error("database was not created")
	}
	if got := h.catalog.views["security.cloudtrail"]; len(got) != 1 {
		t.Errorf("view tables = %v", got)
	}

	if len(h.recorder.Batches) != 1 {
		t.Fatalf("expected one signal batch, got %d", len(h.recorder.Batches))
	}
	if _, ok := h.recorder.Value(metrics.SignalErrors); ok {
		t.Error("errors signal emitted for a successful run")
	}
	if v, _ := h.recorder.Value(metrics.SignalPartitionsAdded); v != 3 {
		t.Errorf("partitions_added signal = %v, want 3", v)
	}
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t, newScanner(t,
		logKey("us-east-1", "2024/03/11"),
		logKey("us-east-1", "2024/03/12"),
	))

	if rep := h.run(context.Background()); rep.PartitionsAdded != 2 {
		t.Fatalf("first run added %d, want 2", rep.PartitionsAdded)
	}
	rep := h.run(context.Background())
	if rep.Status != StatusSuccess {
		t.Fatalf("status = %s", rep.Status)
	}
	if rep.PartitionsAdded != 0 || rep.PartitionsExisting != 2 {
		t.Errorf("added/existing = %d/%d, want 0/2", rep.PartitionsAdded, rep.PartitionsExisting)
	}
}

func TestRun_RegionPermissionErrorFails(t *testing.T) {
	h := newHarness(t, newScanner(t, logKey("us-east-1", "2024/03/12")))
	h.deps.Regions = failingEnumerator{err: apperrors.NewPermissionError("describe regions", errors.New("UnauthorizedOperation"))}

	rep := h.run(context.Background())
	if rep.Status != StatusFailure {
		t.Fatalf("status = %s, want failure", rep.Status)
	}
	if rep.FailedState != StateEnumerateRegions {
		t.Errorf("failed state = %s", rep.FailedState)
	}
	if !errors.Is(rep.Err(), apperrors.ErrPermission) {
		t.Errorf("expected permission error, got %v", rep.Err())
	}
	if rep.PartitionsAdded != 0 || len(h.catalog.partitions) != 0 {
		t.Error("no partitions should be registered after a fatal error")
	}
	if len(h.recorder.Batches) != 1 {
		t.Fatalf("expected one signal batch, got %d", len(h.recorder.Batches))
	}
	if v, ok := h.recorder.Value(metrics.SignalErrors); !ok || v < 1 {
		t.Errorf("errors signal = %v (present %v), want >= 1", v, ok)
	}
}

func TestRun_CatalogRejectsOnePartition(t *testing.T) {
	var keys []string
	for _, d := range []string{"08", "09", "10", "11", "12"} {
		keys = append(keys, logKey("us-east-1", "2024/03/"+d))
	}
	h := newHarness(t, newScanner(t, keys...))
	h.opts.WindowDays = 5
	rejected := types.NewPartitionKey("us-east-1", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	h.catalog.reject[rejected] = true

	rep := h.run(context.Background())
	if rep.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", rep.Status)
	}
	if rep.PartitionsAdded != 4 {
		t.Errorf("added = %d, want 4", rep.PartitionsAdded)
	}
	if len(rep.FailedPartitions) != 1 || rep.FailedPartitions[0].Key() != rejected {
		t.Fatalf("failed = %+v", rep.FailedPartitions)
	}
	if rep.FailedPartitions[0].Table != "cloudtrail_"+testAccount {
		t.Errorf("failure table = %s", rep.FailedPartitions[0].Table)
	}
	if v, _ := h.recorder.Value(metrics.SignalErrors); v != 1 {
		t.Errorf("errors signal = %v, want 1", v)
	}
}

func TestRun_ScanFailureIsIsolated(t *testing.T) {
	scanner := &failingScanner{
		Scanner: newScanner(t,
			logKey("us-east-1", "2024/03/12"),
			logKey("eu-west-1", "2024/03/11"),
		),
		failOn: "eu-west-1/2024/03/11",
		err:    apperrors.NewTransientError(apperrors.CodeThrottled, "slow down", nil),
	}
	h := newHarness(t, scanner)

	rep := h.run(context.Background())
	if rep.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", rep.Status)
	}
	if rep.PartitionsAdded != 1 {
		t.Errorf("added = %d, want 1", rep.PartitionsAdded)
	}
	if len(rep.ScanFailures) != 1 || rep.ScanFailures[0].Partition != "region=eu-west-1/year=2024/month=03/day=11" {
		t.Fatalf("scan failures = %+v", rep.ScanFailures)
	}
	if !errors.Is(rep.Joined(), apperrors.ErrTransient) {
		t.Errorf("joined error should carry the transient cause: %v", rep.Joined())
	}
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness(t, newScanner(t, logKey("us-east-1", "2024/03/12")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := h.run(ctx)
	if rep.Status != StatusFailure {
		t.Fatalf("status = %s, want failure", rep.Status)
	}
	if rep.FailedState != StateStart {
		t.Errorf("failed state = %s, want START", rep.FailedState)
	}
	if len(h.recorder.Batches) != 1 {
		t.Fatalf("report must be emitted once, got %d batches", len(h.recorder.Batches))
	}
}

func TestRun_CanceledDuringReconcile(t *testing.T) {
	h := newHarness(t, newScanner(t,
		logKey("us-east-1", "2024/03/11"),
		logKey("us-east-1", "2024/03/12"),
	))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.catalog.onAdd = func(callCtx context.Context) error {
		cancel()
		return callCtx.Err()
	}

	rep := h.run(ctx)
	if rep.Status != StatusFailure {
		t.Fatalf("status = %s, want failure", rep.Status)
	}
	if rep.FailedState != StateReconcile {
		t.Errorf("failed state = %s, want RECONCILE", rep.FailedState)
	}
	if !errors.Is(rep.Err(), context.Canceled) {
		t.Errorf("expected cancellation error, got %v", rep.Err())
	}
	if len(rep.FailedPartitions) != 2 {
		t.Errorf("failed partitions = %d, want 2", len(rep.FailedPartitions))
	}
	if len(h.catalog.views) != 0 {
		t.Error("view should not be replaced after cancellation")
	}
	if len(h.recorder.Batches) != 1 {
		t.Fatalf("report must be emitted once, got %d batches", len(h.recorder.Batches))
	}
	if v, ok := h.recorder.Value(metrics.SignalErrors); !ok || v != 3 {
		t.Errorf("errors signal = %v, %v; want 3", v, ok)
	}
}

func TestRun_LayoutMismatch(t *testing.T) {
	h := newHarness(t, newScanner(t, "trail/AWSLogs/"+testAccount+"/CloudTrail/us-east-1/2024/03/12/x.json.gz"))

	rep := h.run(context.Background())
	if rep.Status != StatusFailure || rep.FailedState != StateStart {
		t.Fatalf("status = %s in %s, want failure in START", rep.Status, rep.FailedState)
	}
	if apperrors.GetCode(rep.Err()) != apperrors.CodeLayoutMismatch {
		t.Errorf("code = %s, want %s", apperrors.GetCode(rep.Err()), apperrors.CodeLayoutMismatch)
	}

	h.opts.LogPrefix = "trail/"
	if rep := h.run(context.Background()); rep.Status != StatusSuccess || rep.PartitionsAdded != 1 {
		t.Errorf("with prefix: status = %s, added = %d", rep.Status, rep.PartitionsAdded)
	}
}

func TestRun_BucketRegionMismatch(t *testing.T) {
	h := newHarness(t, newScanner(t, logKey("us-east-1", "2024/03/12")))
	h.opts.RequireBucketRegion = true
	h.deps.Locator = fixedLocator("eu-central-1")

	rep := h.run(context.Background())
	if apperrors.GetCode(rep.Err()) != apperrors.CodeRegionMismatch {
		t.Fatalf("expected region mismatch, got %v", rep.Err())
	}

	h.deps.Locator = fixedLocator("us-east-1")
	if rep := h.run(context.Background()); rep.Status != StatusSuccess {
		t.Errorf("status = %s, error = %s", rep.Status, rep.Error)
	}
}

func TestRun_PinnedAccounts(t *testing.T) {
	const other = "109876543210"
	h := newHarness(t, newScanner(t,
		logKey("us-east-1", "2024/03/12"),
		"AWSLogs/"+other+"/CloudTrail/us-east-1/2024/03/12/x.json.gz",
	))
	h.opts.Accounts = []string{other}

	rep := h.run(context.Background())
	if len(rep.Tables) != 1 || rep.Tables[0].Name != "cloudtrail_"+other {
		t.Fatalf("tables = %+v", rep.Tables)
	}

	h.opts.Accounts = []string{"not-an-account"}
	rep = h.run(context.Background())
	if !errors.Is(rep.Err(), apperrors.ErrConfig) {
		t.Errorf("expected config error, got %v", rep.Err())
	}
}

func TestRun_TableErrorFailsItsPartitions(t *testing.T) {
	h := newHarness(t, newScanner(t,
		logKey("us-east-1", "2024/03/11"),
		logKey("us-east-1", "2024/03/12"),
	))
	h.catalog.tableErr = errors.New("glue unavailable")

	rep := h.run(context.Background())
	if rep.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", rep.Status)
	}
	if len(rep.FailedPartitions) != 2 || rep.Tables[0].Error == "" {
		t.Errorf("failed = %d, table error = %q", len(rep.FailedPartitions), rep.Tables[0].Error)
	}
	if len(h.catalog.views) != 0 {
		t.Error("view should not reference an unavailable table")
	}
}
