package synchronizer

import (
	"errors"
	"time"

	"github.com/athenasync/athenasync/internal/metrics"
	"github.com/athenasync/athenasync/pkg/types"
)

// Status is the overall outcome of a run.
type Status string

// Run statuses.
const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// PartitionFailure is one partition that could not be scanned or registered.
type PartitionFailure struct {
	Table     string `json:"table"`
	Partition string `json:"partition"`
	Error     string `json:"error"`

	key types.PartitionKey
	err error
}

// Key returns the failed partition key.
func (f PartitionFailure) Key() types.PartitionKey { return f.key }

// Err returns the underlying error.
func (f PartitionFailure) Err() error { return f.err }

// TableSummary is the per-table outcome.
type TableSummary struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Planned  int    `json:"planned"`
	Added    int    `json:"added"`
	Existing int    `json:"existing"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

// Report is produced exactly once per run.
type Report struct {
	RunID              string             `json:"run_id"`
	Status             Status             `json:"status"`
	FailedState        State              `json:"failed_state,omitempty"`
	Error              string             `json:"error,omitempty"`
	Window             string             `json:"window"`
	RegionsScanned     int                `json:"regions_scanned"`
	Tables             []TableSummary     `json:"tables"`
	PartitionsPlanned  int                `json:"partitions_planned"`
	PartitionsAdded    int                `json:"partitions_added"`
	PartitionsExisting int                `json:"partitions_existing"`
	FailedPartitions   []PartitionFailure `json:"failed_partitions"`
	ScanFailures       []PartitionFailure `json:"scan_failures"`
	ViewError          string             `json:"view_error,omitempty"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at"`

	err error
}

// Err returns the fatal error of a failed run, or nil.
func (r *Report) Err() error {
	return r.err
}

// ErrorCount is the value of the errors signal: every failed partition and
// scan failure, plus one for a fatal error or a view failure.
func (r *Report) ErrorCount() int {
	n := len(r.FailedPartitions) + len(r.ScanFailures)
	if r.err != nil {
		n++
	}
	if r.ViewError != "" {
		n++
	}
	return n
}

// Signals returns the monitoring signals for the report. The errors signal is
// only present when the run did not fully succeed.
func (r *Report) Signals() []metrics.Signal {
	signals := []metrics.Signal{
		metrics.Count(metrics.SignalPartitionsAdded, r.PartitionsAdded),
		metrics.Count(metrics.SignalPartitionsFailed, len(r.FailedPartitions)),
		metrics.Count(metrics.SignalScanFailures, len(r.ScanFailures)),
		{Name: metrics.SignalRunDuration, Value: r.FinishedAt.Sub(r.StartedAt).Seconds(), Unit: metrics.UnitSeconds},
	}
	if r.Status != StatusSuccess {
		n := r.ErrorCount()
		if n == 0 {
			n = 1
		}
		signals = append(signals, metrics.Count(metrics.SignalErrors, n))
	}
	return signals
}

func (r *Report) setStatus() {
	switch {
	case r.err != nil:
		r.Status = StatusFailure
	case len(r.FailedPartitions) > 0, len(r.ScanFailures) > 0, r.ViewError != "":
		r.Status = StatusPartial
	default:
		for _, t := range r.Tables {
			if t.Error != "" {
				r.Status = StatusPartial
				return
			}
		}
		r.Status = StatusSuccess
	}
}

func newFailure(table string, key types.PartitionKey, err error) PartitionFailure {
	return PartitionFailure{
		Table:     table,
		Partition: key.String(),
		Error:     err.Error(),
		key:       key,
		err:       err,
	}
}

// FailedKeys returns the keys of failed partitions.
func (r *Report) FailedKeys() []types.PartitionKey {
	keys := make([]types.PartitionKey, len(r.FailedPartitions))
	for i, f := range r.FailedPartitions {
		keys[i] = f.key
	}
	return keys
}

// Joined returns every per-partition error joined, or nil.
func (r *Report) Joined() error {
	var errs []error
	for _, f := range r.ScanFailures {
		errs = append(errs, f.err)
	}
	for _, f := range r.FailedPartitions {
		errs = append(errs, f.err)
	}
	return errors.Join(errs...)
}
