// Package timeutil provides school-timezone and ISO week helpers.
// Portal schedules are published in the school's local time (Europe/Copenhagen),
// and weeks are addressed by a week key in the WWYYYY format.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strconv"
	"time"
)

// DefaultSchoolTimezone is the timezone schedules are published in.
const DefaultSchoolTimezone = "Europe/Copenhagen"

// copenhagenFallback is used when the tz database is unavailable.
// It ignores DST, which is only acceptable as a last resort.
var copenhagenFallback = time.FixedZone("CET", 1*60*60)

// LoadLocation loads the named location, falling back to CET for the default
// school timezone and to UTC for anything else.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultSchoolTimezone
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	if name == DefaultSchoolTimezone {
		return copenhagenFallback
	}
	return time.UTC
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK KEYS
// ══════════════════════════════════════════════════════════════════════════════

// WeekKey returns the ISO week of t as WWYYYY, e.g. "432025".
// The year is the ISO year, which differs from the calendar year around new year.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%02d%04d", week, year)
}

// ParseWeekKey splits a WWYYYY key into ISO week and year.
func ParseWeekKey(key string) (week, year int, err error) {
	if len(key) != 6 || !allDigits(key) {
		return 0, 0, fmt.Errorf("week key %q: expected 6 digits", key)
	}
	week, err = strconv.Atoi(key[:2])
	if err != nil {
		return 0, 0, fmt.Errorf("week key %q: invalid week: %w", key, err)
	}
	year, err = strconv.Atoi(key[2:])
	if err != nil {
		return 0, 0, fmt.Errorf("week key %q: invalid year: %w", key, err)
	}
	if week < 1 || week > isoWeeksInYear(year) {
		return 0, 0, fmt.Errorf("week key %q: week out of range", key)
	}
	return week, year, nil
}

// IsValidWeekKey reports whether key is a well-formed WWYYYY key.
func IsValidWeekKey(key string) bool {
	_, _, err := ParseWeekKey(key)
	return err == nil
}

// isoWeeksInYear returns 52 or 53. December 28th is always in the last week.
func isoWeeksInYear(year int) int {
	_, week := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return week
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
