package types

import (
	"fmt"
	"time"
)

// DateWindow is a contiguous, inclusive range of UTC calendar dates ending on End.
type DateWindow struct {
	// End is the last date of the window (the run date), midnight UTC
	End time.Time `json:"end"`

	// Days is the number of dates in the window; zero means empty
	Days int `json:"days"`
}

// NewDateWindow returns the window of the given length ending on runDate.
func NewDateWindow(runDate time.Time, days int) (DateWindow, error) {
	if days < 0 {
		return DateWindow{}, fmt.Errorf("window days must not be negative, got %d", days)
	}
	return DateWindow{End: TruncateDay(runDate), Days: days}, nil
}

// Start returns the first date of the window. For an empty window it returns End.
func (w DateWindow) Start() time.Time {
	if w.Days <= 0 {
		return w.End
	}
	return w.End.AddDate(0, 0, -(w.Days - 1))
}

// Dates returns every date in the window, oldest first.
func (w DateWindow) Dates() []time.Time {
	if w.Days <= 0 {
		return nil
	}
	dates := make([]time.Time, 0, w.Days)
	for d := w.Start(); !d.After(w.End); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// Empty reports whether the window contains no dates.
func (w DateWindow) Empty() bool {
	return w.Days <= 0
}

// String renders the window as "start..end".
func (w DateWindow) String() string {
	if w.Empty() {
		return "empty"
	}
	return w.Start().Format(DateLayout) + ".." + w.End.Format(DateLayout)
}

// TruncateDay converts t to UTC and drops the time of day.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
