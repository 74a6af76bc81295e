// Package timerange parses the compact duration strings accepted by the
// analytics endpoints ("24h", "7d", "2w", "3m").
package timerange

import (
	"math"
	"strconv"
	"time"
)

const (
	day = 24 * time.Hour

	// Default is used whenever the range is missing or malformed.
	Default = 30 * day
)

// Parse converts "<integer><unit>" into a duration. Units are h (hours),
// d (days), w (weeks) and m (months, approximated as 30 days). Anything that
// does not match, including zero or negative counts, yields Default.
func Parse(s string) time.Duration {
	d, ok := parse(s)
	if !ok {
		return Default
	}
	return d
}

func parse(s string) (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, false
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 'h':
		unit = time.Hour
	case 'd':
		unit = day
	case 'w':
		unit = 7 * day
	case 'm':
		unit = 30 * day
	default:
		return 0, false
	}
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, false
	}

	return time.Duration(n) * unit, true
}

// Milliseconds returns Parse(s) in milliseconds.
func Milliseconds(s string) int64 {
	return Parse(s).Milliseconds()
}

// Since returns the start of the window ending at now.
func Since(now time.Time, s string) time.Time {
	return now.Add(-Parse(s))
}

// Normalize returns s when it parses, otherwise "30d".
func Normalize(s string) string {
	if _, ok := parse(s); !ok {
		return "30d"
	}
	return s
}
