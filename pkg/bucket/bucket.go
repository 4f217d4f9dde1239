// Package bucket builds and validates the time-slot keys observation records
// are grouped by. Keys sort lexicographically in chronological order.
package bucket

import (
	"fmt"
	"time"
)

// Granularity is the size of one bucket.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	switch g {
	case Day, Week, Month:
		return true
	}
	return false
}

// DayKey formats t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.Format(dayLayout)
}

// WeekStart returns midnight of the Sunday that starts the week containing t.
func WeekStart(t time.Time) time.Time {
	y, m, d := t.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return midnight.AddDate(0, 0, -int(midnight.Weekday()))
}

// WeekKey formats the Sunday starting t's week as YYYY-MM-DD.
func WeekKey(t time.Time) string {
	return DayKey(WeekStart(t))
}

// MonthKey formats t as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.Format(monthLayout)
}

// Current returns the key of the bucket containing now.
func Current(g Granularity, now time.Time) string {
	switch g {
	case Week:
		return WeekKey(now)
	case Month:
		return MonthKey(now)
	default:
		return DayKey(now)
	}
}

// Recent returns the keys of the n buckets ending with the one containing now, newest first.
func Recent(g Granularity, now time.Time, n int) []string {
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		switch g {
		case Week:
			keys = append(keys, WeekKey(now.AddDate(0, 0, -7*i)))
		case Month:
			y, m, _ := now.Date()
			keys = append(keys, MonthKey(time.Date(y, m-time.Month(i), 1, 0, 0, 0, 0, now.Location())))
		default:
			keys = append(keys, DayKey(now.AddDate(0, 0, -i)))
		}
	}
	return keys
}

// Parse returns the first instant of the bucket identified by key.
func Parse(g Granularity, key string) (time.Time, error) {
	switch g {
	case Day, Week:
		t, err := time.Parse(dayLayout, key)
		if err != nil {
			return time.Time{}, fmt.Errorf("bucket %q is not a YYYY-MM-DD date", key)
		}
		if g == Week && t.Weekday() != time.Sunday {
			return time.Time{}, fmt.Errorf("week bucket %q must start on a Sunday", key)
		}
		return t, nil
	case Month:
		t, err := time.Parse(monthLayout, key)
		if err != nil {
			return time.Time{}, fmt.Errorf("bucket %q is not a YYYY-MM month", key)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("unknown granularity %q", g)
	}
}

// Validate reports whether key is a well formed bucket key for g.
func Validate(g Granularity, key string) error {
	_, err := Parse(g, key)
	return err
}

// Within reports whether the bucket key falls inside [from, to] using string order.
func Within(key, from, to string) bool {
	return key >= from && key <= to
}

// WorkingDaysSoFar counts school days (Sunday through Thursday) from the first
// of now's month up to and including now.
func WorkingDaysSoFar(now time.Time) int {
	y, m, d := now.Date()
	count := 0
	for day := 1; day <= d; day++ {
		switch time.Date(y, m, day, 0, 0, 0, 0, now.Location()).Weekday() {
		case time.Friday, time.Saturday:
		default:
			count++
		}
	}
	return count
}

// FormatPercent renders a percentage with one decimal place.
func FormatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value)
}
