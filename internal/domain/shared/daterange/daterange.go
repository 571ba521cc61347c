package daterange

import (
	"errors"
	"time"
)

var ErrInvalidRange = errors.New("daterange: end must be after start")

// DateRange represents a half-open stay interval [Start, End).
// Times are normalized to UTC midnight so that night counting and overlap
// checks are calendar-exact.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// New builds a validated range, truncating both bounds to UTC dates.
func New(start, end time.Time) (DateRange, error) {
	dr := DateRange{Start: Day(start), End: Day(end)}
	if err := dr.Validate(); err != nil {
		return DateRange{}, err
	}
	return dr, nil
}

// Day truncates a timestamp to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (dr DateRange) Validate() error {
	if dr.Start.IsZero() || dr.End.IsZero() {
		return ErrInvalidRange
	}
	if !dr.End.After(dr.Start) {
		return ErrInvalidRange
	}
	return nil
}

// Nights returns the number of nights in the interval. Because bounds are
// date-normalized this is the exact day count of [Start, End).
func (dr DateRange) Nights() int {
	return int(dr.End.Sub(dr.Start).Hours() / 24)
}

// Overlaps reports whether two half-open ranges share at least one night:
// s1 < e2 && s2 < e1.
func (dr DateRange) Overlaps(other DateRange) bool {
	return dr.Start.Before(other.End) && other.Start.Before(dr.End)
}

// ContainsDate reports whether t falls inside [Start, End).
func (dr DateRange) ContainsDate(t time.Time) bool {
	d := Day(t)
	return !d.Before(dr.Start) && d.Before(dr.End)
}

// Ended reports whether the stay's end date has passed as of now.
func (dr DateRange) Ended(now time.Time) bool {
	return !Day(now).Before(dr.End)
}
