package leave

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE RANGE - Inclusive calendar-day span
// =============================================================================

// DateRange is an inclusive [Start, End] span of calendar days.
// Times are normalized to UTC midnight; the engine has no sub-day granularity.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange normalizes both ends to UTC midnight.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Midnight(start), End: Midnight(end)}
}

// Midnight truncates a time to its UTC calendar day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Validate fails with ErrInvalidRange when the end precedes the start.
func (r DateRange) Validate() error {
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end %s before start %s",
			ErrInvalidRange, r.End.Format("2006-01-02"), r.Start.Format("2006-01-02"))
	}
	return nil
}

// Days returns the inclusive calendar-day count. A single-day range is 1.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Overlaps reports whether two inclusive ranges share at least one day.
func (r DateRange) Overlaps(other DateRange) bool {
	return !r.Start.After(other.End) && !other.Start.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format("2006-01-02") + ".." + r.End.Format("2006-01-02")
}
