package partition

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/storage"
	"github.com/athenasync/athenasync/pkg/types"
)

// DefaultConcurrency is the number of parallel existence checks.
const DefaultConcurrency = 16

// ScanFailure records a partition whose existence could not be determined.
type ScanFailure struct {
	Key types.PartitionKey
	Err error
}

// Plan is the set of partitions to register below one storage root.
type Plan struct {
	// Root is the storage prefix the keys were checked under
	Root string

	// Keys are the partitions with at least one object, sorted by region then date
	Keys []types.PartitionKey

	// ScanFailures are keys skipped because listing failed, sorted by key
	ScanFailures []ScanFailure

	// Checked is the number of candidate keys examined
	Checked int
}

// Planner decides which candidate partitions have data.
type Planner struct {
	scanner     storage.Scanner
	concurrency int
	logger      *slog.Logger
}

// NewPlanner creates a planner.
// concurrency: maximum number of parallel existence checks (<= 0 uses DefaultConcurrency)
func NewPlanner(scanner storage.Scanner, concurrency int, logger *slog.Logger) *Planner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		scanner:     scanner,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Plan checks every region × date of window under root. A key is planned iff
// at least one object exists at Location(root, key). Transient listing errors
// are recorded per key; a permission error aborts the plan.
func (p *Planner) Plan(ctx context.Context, root string, regions []types.Region, window types.DateWindow) (*Plan, error) {
	candidates := Candidates(regions, window)
	plan := &Plan{Root: root, Checked: len(candidates)}
	if len(candidates) == 0 {
		return plan, nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(p.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatal error
	present := make(map[types.PartitionKey]bool, len(candidates))
	failures := make(map[types.PartitionKey]error)

	for _, key := range candidates {
		if err := sem.Acquire(scanCtx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(key types.PartitionKey) {
			defer wg.Done()
			defer sem.Release(1)

			ok, err := storage.Exists(scanCtx, p.scanner, Location(root, key))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				present[key] = ok
			case apperrors.IsFatal(err):
				if fatal == nil {
					fatal = err
					cancel()
				}
			default:
				failures[key] = err
			}
		}(key)
	}

	wg.Wait()

	if fatal != nil {
		return nil, fatal
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Classify("plan partitions", err)
	}

	for _, key := range candidates {
		if present[key] {
			plan.Keys = append(plan.Keys, key)
		}
		if err, ok := failures[key]; ok {
			plan.ScanFailures = append(plan.ScanFailures, ScanFailure{Key: key, Err: err})
			p.logger.Warn("partition scan failed", "root", root, "partition", key.String(), "error", err)
		}
	}

	p.logger.Debug("partition plan complete",
		"root", root, "checked", plan.Checked, "planned", len(plan.Keys), "scan_failures", len(plan.ScanFailures))
	return plan, nil
}

// Err joins the scan failures into one error, or returns nil.
func (p *Plan) Err() error {
	if len(p.ScanFailures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(p.ScanFailures))
	for _, f := range p.ScanFailures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}
