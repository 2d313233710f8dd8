// Package metrics emits run signals to monitoring backends and exposes
// Prometheus metrics for the forwarder service.
package metrics

import (
	"context"
	"errors"
)

// Signal names emitted by the partitioner.
const (
	SignalErrors           = "errors"
	SignalPartitionsAdded  = "partitions_added"
	SignalPartitionsFailed = "partitions_failed"
	SignalScanFailures     = "scan_failures"
	SignalRunDuration      = "run_duration_seconds"
)

// Units.
const (
	UnitCount   = "Count"
	UnitSeconds = "Seconds"
)

// Signal is one named value emitted at the end of a run.
type Signal struct {
	Name       string
	Value      float64
	Unit       string
	Dimensions map[string]string
}

// Count returns a count signal.
func Count(name string, v int) Signal {
	return Signal{Name: name, Value: float64(v), Unit: UnitCount}
}

// Sink receives run signals.
type Sink interface {
	Emit(ctx context.Context, signals []Signal) error
}

// Multi fans signals out to every sink and joins their errors.
type Multi []Sink

// Emit emits to every sink even if one fails.
func (m Multi) Emit(ctx context.Context, signals []Signal) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, signals); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards signals.
type Nop struct{}

// Emit does nothing.
func (Nop) Emit(context.Context, []Signal) error { return nil }

// Recorder keeps emitted signals in memory.
type Recorder struct {
	Batches [][]Signal
}

// Emit records the batch.
func (r *Recorder) Emit(_ context.Context, signals []Signal) error {
	batch := make([]Signal, len(signals))
	copy(batch, signals)
	r.Batches = append(r.Batches, batch)
	return nil
}

// Value returns the last recorded value of name and whether it was emitted.
func (r *Recorder) Value(name string) (float64, bool) {
	for i := len(r.Batches) - 1; i >= 0; i-- {
		for _, s := range r.Batches[i] {
			if s.Name == name {
				return s.Value, true
			}
		}
	}
	return 0, false
}
