// Package dates parses the date shapes that arrive on import rows. Spreadsheet
// exports are inconsistent: the same column can carry an ISO timestamp, a bare
// date, a US-style date, or an epoch-milliseconds serial.
package dates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for row dates, tried in order.
var layouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// Parse returns the calendar date for a raw row value. Numeric values are
// treated as epoch milliseconds.
func Parse(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return FromEpochMillis(ms), nil
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Truncate(24 * time.Hour), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// FromEpochMillis converts an epoch-milliseconds serial to a UTC calendar date.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC().Truncate(24 * time.Hour)
}

// Equal reports whether two raw values name the same calendar date.
func Equal(a, b string) bool {
	da, err := Parse(a)
	if err != nil {
		return false
	}
	db, err := Parse(b)
	if err != nil {
		return false
	}
	return da.Format("2006-01-02") == db.Format("2006-01-02")
}

// ISO formats t as YYYY-MM-DD.
func ISO(t time.Time) string {
	return t.Format("2006-01-02")
}
