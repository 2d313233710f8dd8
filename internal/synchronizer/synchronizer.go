// Package synchronizer runs one partition synchronization: enumerate regions,
// plan partitions with data, register them and report.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/athenasync/athenasync/internal/catalog"
	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/metrics"
	"github.com/athenasync/athenasync/internal/partition"
	"github.com/athenasync/athenasync/internal/regions"
	"github.com/athenasync/athenasync/internal/storage"
	"github.com/athenasync/athenasync/pkg/types"
)

// State is a step of the run state machine.
type State string

// Run states.
const (
	StateStart            State = "START"
	StateEnumerateRegions State = "ENUMERATE_REGIONS"
	StateScanAndPlan      State = "SCAN_AND_PLAN"
	StateReconcile        State = "RECONCILE"
	StateReport           State = "REPORT"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// Options are the per-run inputs.
type Options struct {
	// StorageRoot is the bucket holding the logs
	StorageRoot string

	// LogPrefix is the key prefix in front of AWSLogs/
	LogPrefix string

	// WindowDays is the number of dates, ending on the run date, to register
	WindowDays int

	// CatalogDatabase is the catalog database
	CatalogDatabase string

	// CatalogTablePrefix prefixes account table names and names the view
	CatalogTablePrefix string

	// Accounts pins the account folders instead of discovering them
	Accounts []string

	// Region is the region the run executes in, checked against the bucket
	Region string

	// RequireBucketRegion fails the run when the bucket is elsewhere
	RequireBucketRegion bool

	// CreateView maintains the union view over all account tables
	CreateView bool

	// EmitTimeout bounds the monitoring sink call
	EmitTimeout time.Duration
}

// Dependencies are the ports the synchronizer drives.
type Dependencies struct {
	Regions    regions.Enumerator
	Scanner    storage.Scanner
	Locator    storage.BucketLocator
	Planner    *partition.Planner
	Reconciler *catalog.Reconciler
	Definition catalog.TableDefinition
	Sink       metrics.Sink
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Synchronizer runs partition synchronizations. It holds no state between runs.
type Synchronizer struct {
	opts Options
	deps Dependencies
}

// New creates a synchronizer.
func New(opts Options, deps Dependencies) *Synchronizer {
	if deps.Sink == nil {
		deps.Sink = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Planner == nil {
		deps.Planner = partition.NewPlanner(deps.Scanner, partition.DefaultConcurrency, deps.Logger)
	}
	if deps.Definition.SerDe == "" {
		deps.Definition = catalog.CloudTrailDefinition()
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = 30 * time.Second
	}
	return &Synchronizer{opts: opts, deps: deps}
}

// tableWork is one account table carried from planning to reconciliation.
type tableWork struct {
	table    catalog.Table
	plan     *partition.Plan
	tableErr error
}

// run carries the state of one invocation.
type run struct {
	report  *Report
	logger  *slog.Logger
	window  types.DateWindow
	regions []types.Region
	tables  []*tableWork
}

// Run executes one synchronization and returns its report. It never returns
// nil and reports exactly once, including on fatal errors and cancellation.
func (s *Synchronizer) Run(ctx context.Context) *Report {
	r := &run{
		report: &Report{
			RunID:     uuid.NewString(),
			StartedAt: s.deps.Clock().UTC(),
		},
	}
	r.logger = s.deps.Logger.With("run_id", r.report.RunID)
	r.logger.Info("partition sync started",
		"bucket", s.opts.StorageRoot, "log_prefix", s.opts.LogPrefix,
		"database", s.opts.CatalogDatabase, "window_days", s.opts.WindowDays)

	state := StateStart
	for state != StateDone {
		if state != StateReport && state != StateFailed {
			if err := ctx.Err(); err != nil {
				r.fail(state, apperrors.Classify("partition sync", err))
				state = StateFailed
				continue
			}
		}

		next, err := s.step(ctx, state, r)
		if err == nil && state != StateReport && state != StateFailed {
			// Steps that collect per-key failures do not return cancellation.
			if cerr := ctx.Err(); cerr != nil {
				err = apperrors.Classify("partition sync", cerr)
			}
		}
		if err != nil {
			r.fail(state, err)
			state = StateFailed
			continue
		}
		r.logger.Debug("state complete", "state", state, "next", next)
		state = next
	}
	return r.report
}

func (r *run) fail(state State, err error) {
	r.report.FailedState = state
	r.report.Error = err.Error()
	r.report.err = err
	r.logger.Error("partition sync failed", "state", state, "error", err)
}

func (s *Synchronizer) step(ctx context.Context, state State, r *run) (State, error) {
	switch state {
	case StateStart:
		return StateEnumerateRegions, s.start(ctx, r)
	case StateEnumerateRegions:
		return StateScanAndPlan, s.enumerateRegions(ctx, r)
	case StateScanAndPlan:
		return StateReconcile, s.scanAndPlan(ctx, r)
	case StateReconcile:
		s.reconcile(ctx, r)
		return StateReport, nil
	case StateFailed:
		return StateReport, nil
	case StateReport:
		s.emitReport(ctx, r)
		return StateDone, nil
	}
	return StateDone, apperrors.NewInternalError(fmt.Sprintf("unknown state %s", state), nil)
}

// start runs the preflight checks and ensures the database exists.
func (s *Synchronizer) start(ctx context.Context, r *run) error {
	window, err := types.NewDateWindow(r.report.StartedAt, s.opts.WindowDays)
	if err != nil {
		return apperrors.NewConfigError(apperrors.CodeInvalidConfig, err.Error())
	}
	r.window = window
	r.report.Window = window.String()

	if s.opts.RequireBucketRegion && s.deps.Locator != nil {
		if err := storage.CheckBucketRegion(ctx, s.deps.Locator, s.opts.Region); err != nil {
			return err
		}
	}
	if err := storage.CheckLayout(ctx, s.deps.Scanner, s.opts.LogPrefix); err != nil {
		return err
	}
	return s.deps.Reconciler.EnsureDatabase(ctx, s.opts.CatalogDatabase)
}

func (s *Synchronizer) enumerateRegions(ctx context.Context, r *run) error {
	list, err := s.deps.Regions.ListRegions(ctx)
	if err != nil {
		return err
	}
	r.regions = list
	r.report.RegionsScanned = len(list)
	r.logger.Info("regions enumerated", "count", len(list))
	return nil
}

func (s *Synchronizer) accounts(ctx context.Context) ([]storage.Account, error) {
	if len(s.opts.Accounts) == 0 {
		found, err := storage.DiscoverAccounts(ctx, s.deps.Scanner, s.opts.LogPrefix)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, apperrors.NewConfigError(apperrors.CodeLayoutMismatch,
				fmt.Sprintf("no account folders under %s%s", s.opts.LogPrefix, storage.LogsDir))
		}
		return found, nil
	}

	accounts := make([]storage.Account, 0, len(s.opts.Accounts))
	for _, dir := range s.opts.Accounts {
		a, ok := storage.ParseAccount(dir)
		if !ok {
			return nil, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "invalid account folder "+dir)
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// scanAndPlan ensures every account table and plans its partitions.
func (s *Synchronizer) scanAndPlan(ctx context.Context, r *run) error {
	accounts, err := s.accounts(ctx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		work := &tableWork{
			table: catalog.Table{
				Database: s.opts.CatalogDatabase,
				Name:     s.opts.CatalogTablePrefix + "_" + account.ID,
				Location: storage.TableRoot(s.opts.StorageRoot, s.opts.LogPrefix, account),
			},
		}

		if err := s.deps.Reconciler.EnsureTable(ctx, work.table, s.deps.Definition); err != nil {
			if errors.Is(err, apperrors.ErrPermission) {
				return err
			}
			work.tableErr = err
			r.logger.Warn("table unavailable", "table", work.table.String(), "error", err)
		}

		root := s.opts.LogPrefix + storage.LogsDir + account.Dir() + "/CloudTrail/"
		plan, err := s.deps.Planner.Plan(ctx, root, r.regions, r.window)
		if err != nil {
			return err
		}
		work.plan = plan

		for _, f := range plan.ScanFailures {
			r.report.ScanFailures = append(r.report.ScanFailures, newFailure(work.table.Name, f.Key, f.Err))
		}
		r.report.PartitionsPlanned += len(plan.Keys)
		r.tables = append(r.tables, work)

		r.logger.Info("partitions planned",
			"table", work.table.String(), "planned", len(plan.Keys), "scan_failures", len(plan.ScanFailures))
	}
	return nil
}

// reconcile registers planned partitions. Failures are per key or per table.
func (s *Synchronizer) reconcile(ctx context.Context, r *run) {
	var viewTables []catalog.Table
	for _, work := range r.tables {
		summary := TableSummary{
			Name:     work.table.Name,
			Location: work.table.Location,
			Planned:  len(work.plan.Keys),
		}

		if work.tableErr != nil {
			summary.Error = work.tableErr.Error()
			summary.Failed = len(work.plan.Keys)
			for _, key := range work.plan.Keys {
				r.report.FailedPartitions = append(r.report.FailedPartitions, newFailure(work.table.Name, key, work.tableErr))
			}
			r.report.Tables = append(r.report.Tables, summary)
			continue
		}
		viewTables = append(viewTables, work.table)

		reg := s.deps.Reconciler.RegisterPartitions(ctx, work.table, work.plan.Keys)
		summary.Added = reg.Added
		summary.Existing = reg.Existing
		summary.Failed = len(reg.Failed)
		for _, key := range reg.FailedKeys() {
			r.report.FailedPartitions = append(r.report.FailedPartitions, newFailure(work.table.Name, key, reg.Failed[key]))
		}
		r.report.PartitionsAdded += reg.Added
		r.report.PartitionsExisting += reg.Existing
		r.report.Tables = append(r.report.Tables, summary)
	}

	if s.opts.CreateView && len(viewTables) > 0 && ctx.Err() == nil {
		if err := s.deps.Reconciler.ReplaceView(ctx, s.opts.CatalogDatabase, s.opts.CatalogTablePrefix, viewTables); err != nil {
			r.report.ViewError = err.Error()
			r.logger.Warn("view update failed", "view", s.opts.CatalogTablePrefix, "error", err)
		}
	}
}

// emitReport finalizes the report and sends its signals to the sink.
func (s *Synchronizer) emitReport(ctx context.Context, r *run) {
	rep := r.report
	rep.FinishedAt = s.deps.Clock().UTC()
	rep.setStatus()

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.EmitTimeout)
	defer cancel()
	if err := s.deps.Sink.Emit(emitCtx, rep.Signals()); err != nil {
		r.logger.Error("failed to emit run signals", "error", err)
	}

	attrs := []any{
		"status", rep.Status,
		"window", rep.Window,
		"regions_scanned", rep.RegionsScanned,
		"tables", len(rep.Tables),
		"partitions_planned", rep.PartitionsPlanned,
		"partitions_added", rep.PartitionsAdded,
		"partitions_existing", rep.PartitionsExisting,
		"partitions_failed", len(rep.FailedPartitions),
		"scan_failures", len(rep.ScanFailures),
		"duration", rep.FinishedAt.Sub(rep.StartedAt),
	}
	switch rep.Status {
	case StatusSuccess:
		r.logger.Info("partition sync complete", attrs...)
	case StatusPartial:
		r.logger.Warn("partition sync complete with failures", attrs...)
	default:
		r.logger.Error("partition sync failed", append(attrs, "failed_state", rep.FailedState, "error", rep.Error)...)
	}
}
