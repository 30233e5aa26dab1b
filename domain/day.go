package domain

import (
	"fmt"
	"time"
)

// Day is a calendar day in "2006-01-02" form. It is the only day
// representation in the system; StartDate and CreatedForDate are stored as
// Day values and raw timestamps are never compared across components.
// ISO day strings order lexically, so comparisons are plain string compares.
type Day string

const dayLayout = "2006-01-02"

// EmptyInputError reports date math invoked on an empty day collection.
// It is a programming-contract violation; callers must guard before calling.
type EmptyInputError struct {
	Op string
}

func (e EmptyInputError) Error() string {
	return fmt.Sprintf("%s: empty day collection", e.Op)
}

// ExtractDay truncates an instant to its calendar day.
func ExtractDay(t time.Time) Day {
	return Day(t.Format(dayLayout))
}

// Today returns the calendar day of the given instant. Callers pass their
// clock so tests can pin the day.
func Today(now func() time.Time) Day {
	return ExtractDay(now())
}

// ParseDay validates a raw day string from an external source.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	// Normalize through the layout so e.g. a parsed leap-day round-trips.
	return ExtractDay(t), nil
}

// AddDays returns the day n calendar days after d (negative n walks back).
// d must come from ParseDay or ExtractDay; a malformed value panics rather
// than stalling a day walk.
func (d Day) AddDays(n int) Day {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		panic(fmt.Sprintf("malformed day %q", d))
	}
	return ExtractDay(t.AddDate(0, 0, n))
}

// After reports whether d falls after other.
func (d Day) After(other Day) bool {
	return string(d) > string(other)
}

// Before reports whether d falls before other.
func (d Day) Before(other Day) bool {
	return string(d) < string(other)
}

// MinDay returns the earliest day in the collection. It fails with
// EmptyInputError when the collection is empty.
func MinDay(days []Day) (Day, error) {
	if len(days) == 0 {
		return "", EmptyInputError{Op: "MinDay"}
	}
	min := days[0]
	for _, d := range days[1:] {
		if d.Before(min) {
			min = d
		}
	}
	return min, nil
}
