package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/pkg/types"
)

// Options configures a Reconciler.
type Options struct {
	// BatchSize is the number of keys per driver call (1-MaxBatchSize)
	BatchSize int

	// Concurrency bounds the batches in flight
	Concurrency int

	// CallTimeout bounds each driver call (0 = no bound beyond ctx)
	CallTimeout time.Duration

	// CreateMissingTables lets EnsureTable create absent tables
	CreateMissingTables bool
}

// DefaultOptions returns the default reconciler options.
func DefaultOptions() Options {
	return Options{
		BatchSize:           MaxBatchSize,
		Concurrency:         4,
		CallTimeout:         30 * time.Second,
		CreateMissingTables: true,
	}
}

// Registration is the outcome of registering a set of keys in one table.
type Registration struct {
	Table    Table
	Added    int
	Existing int
	Failed   map[types.PartitionKey]error
}

// FailedKeys returns the failed keys sorted.
func (r *Registration) FailedKeys() []types.PartitionKey {
	keys := make([]types.PartitionKey, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	types.SortPartitionKeys(keys)
	return keys
}

// Err joins the per-key failures, or returns nil.
func (r *Registration) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, k := range r.FailedKeys() {
		errs = append(errs, fmt.Errorf("%s: %w", k, r.Failed[k]))
	}
	return errors.Join(errs...)
}

// Reconciler makes the catalog contain a set of partitions.
type Reconciler struct {
	driver Driver
	opts   Options
	logger *slog.Logger
}

// NewReconciler creates a reconciler over driver.
func NewReconciler(driver Driver, opts Options, logger *slog.Logger) *Reconciler {
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{driver: driver, opts: opts, logger: logger}
}

func (r *Reconciler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, r.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// EnsureDatabase creates the database if needed.
func (r *Reconciler) EnsureDatabase(ctx context.Context, name string) error {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	if err := r.driver.CreateDatabase(callCtx, name); err != nil {
		return catalogError(apperrors.CodeDatabaseFailed, "ensure database "+name, err)
	}
	return nil
}

// EnsureTable makes sure the table exists, creating it from def when allowed.
func (r *Reconciler) EnsureTable(ctx context.Context, table Table, def TableDefinition) error {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	exists, err := r.driver.TableExists(callCtx, table)
	if err != nil {
		return catalogError(apperrors.CodeTableFailed, "look up table "+table.String(), err)
	}
	if exists {
		return nil
	}
	if !r.opts.CreateMissingTables {
		return apperrors.NewCatalogError(apperrors.CodeTableNotFound,
			fmt.Sprintf("table %s does not exist and table creation is disabled", table), nil)
	}

	r.logger.Info("creating table", "table", table.String(), "location", table.Location)
	if err := r.driver.CreateTable(callCtx, table, def); err != nil {
		return catalogError(apperrors.CodeTableFailed, "create table "+table.String(), err)
	}
	return nil
}

// RegisterPartitions registers keys in table. Keys are normalized to their UTC
// calendar date before deduplication. Invalid keys fail individually;
// the rest are sent in batches of Options.BatchSize, Options.Concurrency at a
// time. A batch error fails every key of that batch only.
func (r *Reconciler) RegisterPartitions(ctx context.Context, table Table, keys []types.PartitionKey) *Registration {
	reg := &Registration{
		Table:  table,
		Failed: make(map[types.PartitionKey]error),
	}

	valid := make([]types.PartitionKey, 0, len(keys))
	seen := make(map[types.PartitionKey]bool, len(keys))
	for _, key := range keys {
		// Drivers match keys by value, so the date must be midnight UTC.
		key = types.NewPartitionKey(key.Region, key.Date)
		if err := key.Validate(); err != nil {
			reg.Failed[key] = apperrors.NewCatalogError(apperrors.CodeInvalidPartition,
				"invalid partition "+key.String(), err)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		valid = append(valid, key)
	}
	types.SortPartitionKeys(valid)

	batches := chunk(valid, r.opts.BatchSize)
	sem := semaphore.NewWeighted(int64(r.opts.Concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, batch := range batches {
		if err := sem.Acquire(ctx, 1); err != nil {
			cerr := apperrors.Classify("register partitions in "+table.String(), err)
			for _, rest := range batches[i:] {
				for _, key := range rest {
					reg.Failed[key] = cerr
				}
			}
			break
		}

		wg.Add(1)
		go func(batch []types.PartitionKey) {
			defer wg.Done()
			defer sem.Release(1)

			callCtx, cancel := r.callContext(ctx)
			defer cancel()
			res, err := r.driver.AddPartitions(callCtx, table, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				cerr := catalogError(apperrors.CodeRegistrationFailed,
					fmt.Sprintf("register %d partitions in %s", len(batch), table), err)
				for _, key := range batch {
					reg.Failed[key] = cerr
				}
				r.logger.Warn("partition batch failed", "table", table.String(), "size", len(batch), "error", err)
				return
			}
			reg.Added += len(res.Added)
			reg.Existing += len(res.Existing)
			for key, kerr := range res.Failed {
				reg.Failed[key] = catalogError(apperrors.CodeRegistrationFailed, "register partition "+key.String(), kerr)
			}
		}(batch)
	}

	wg.Wait()

	r.logger.Info("partitions registered",
		"table", table.String(), "added", reg.Added, "existing", reg.Existing, "failed", len(reg.Failed))
	return reg
}

// ReplaceView points the union view at tables.
func (r *Reconciler) ReplaceView(ctx context.Context, database, view string, tables []Table) error {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	if err := r.driver.ReplaceView(callCtx, database, view, tables); err != nil {
		return catalogError(apperrors.CodeViewFailed, "replace view "+database+"."+view, err)
	}
	return nil
}

func chunk(keys []types.PartitionKey, size int) [][]types.PartitionKey {
	var batches [][]types.PartitionKey
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		batches = append(batches, keys[start:end])
	}
	return batches
}

// catalogError wraps err as a CATALOG error unless it already is one.
// Permission causes stay visible through errors.Is.
func catalogError(code, msg string, err error) error {
	if apperrors.GetCategory(err) == apperrors.ErrCategoryCatalog {
		return err
	}
	return apperrors.NewCatalogError(code, msg, err)
}
