package util

import (
	"strconv"
	"time"
)

// Clock abstracts wall time so deadline and day-rollover logic can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock returns UTC wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// UTCDay formats the UTC calendar day of t, e.g. "2024-10-10".
func UTCDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NextUTCMidnight returns the first instant of the UTC day after t.
func NextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// AlignWindow returns the [start, end) window of length d containing t.
func AlignWindow(t time.Time, d time.Duration) (time.Time, time.Time) {
	start := t.UTC().Truncate(d)
	return start, start.Add(d)
}

// TimeOfDayBucket splits the UTC day into n equal buckets and returns the index of t.
func TimeOfDayBucket(t time.Time, n int) int {
	if n <= 1 {
		return 0
	}
	u := t.UTC()
	minutes := u.Hour()*60 + u.Minute()
	return minutes * n / (24 * 60)
}
