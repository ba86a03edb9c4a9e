// Package dates splits an extraction date range into monthly query windows
package dates

import (
	"fmt"
	"iter"
	"time"
)

// Layout is the date format used by the Zoom API and by window keys
const Layout = "2006-01-02"

// Window is an inclusive range of whole days, [Start, End]
type Window struct {
	Start time.Time
	End   time.Time
}

// Key identifies the window for one user in the checkpoint
func (w Window) Key(userID string) string {
	return fmt.Sprintf("%s:%s:%s", userID, w.Start.Format(Layout), w.End.Format(Layout))
}

// String formats the window as "start..end"
func (w Window) String() string {
	return w.Start.Format(Layout) + ".." + w.End.Format(Layout)
}

// Days returns the number of calendar days the window covers
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// Monthly yields contiguous windows covering [from, to], one per calendar month.
// The first window starts at from and the last ends exactly at to. Times are
// truncated to UTC days.
func Monthly(from, to time.Time) iter.Seq[Window] {
	from, to = Day(from), Day(to)
	return func(yield func(Window) bool) {
		for start := from; !start.After(to); {
			nextMonth := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			end := nextMonth.AddDate(0, 0, -1)
			if end.After(to) {
				end = to
			}
			if !yield(Window{Start: start, End: end}) {
				return
			}
			start = nextMonth
		}
	}
}

// Day truncates t to midnight UTC of its UTC calendar day
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Parse parses a YYYY-MM-DD date as a UTC day
func Parse(value string) (time.Time, error) {
	t, err := time.Parse(Layout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", value, err)
	}
	return t, nil
}
