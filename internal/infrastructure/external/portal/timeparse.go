package portal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultEventDuration is used when a time line has no end clock.
const DefaultEventDuration = 2 * time.Hour

var (
	// DD/MM-YYYY
	datePattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})-(\d{4})`)
	// HH:MM, 24-hour clock
	clockPattern = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
)

// parseTimeRange parses "DD/MM-YYYY HH:MM til HH:MM" in loc. The end is taken
// from a second clock after the range separator; without one, or when the
// end is not after the start, the end is start + DefaultEventDuration. An
// all-day line without clocks starts at midnight.
func parseTimeRange(s string, loc *time.Location) (start, end time.Time, err error) {
	dm := datePattern.FindStringSubmatchIndex(s)
	if dm == nil {
		return start, end, fmt.Errorf("no date in %q", s)
	}

	day, _ := strconv.Atoi(s[dm[2]:dm[3]])
	month, _ := strconv.Atoi(s[dm[4]:dm[5]])
	year, _ := strconv.Atoi(s[dm[6]:dm[7]])

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if date.Day() != day || int(date.Month()) != month || date.Year() != year {
		return start, end, fmt.Errorf("invalid date in %q", s)
	}

	rest := s[dm[1]:]
	clocks := clockPattern.FindAllStringSubmatchIndex(rest, -1)

	if len(clocks) == 0 {
		if !isAllDay(strings.ToLower(rest)) {
			return start, end, fmt.Errorf("no start time in %q", s)
		}
		return date, date.Add(DefaultEventDuration), nil
	}

	start, err = atClock(date, rest, clocks[0], loc)
	if err != nil {
		return start, end, fmt.Errorf("start time in %q: %w", s, err)
	}

	end = start.Add(DefaultEventDuration)
	if len(clocks) > 1 && separatorBefore(rest[:clocks[1][0]]) {
		if e, err := atClock(date, rest, clocks[1], loc); err == nil && e.After(start) {
			end = e
		}
	}

	return start, end, nil
}

// atClock combines date with the HH:MM match described by idx.
func atClock(date time.Time, s string, idx []int, loc *time.Location) (time.Time, error) {
	hour, _ := strconv.Atoi(s[idx[2]:idx[3]])
	minute, _ := strconv.Atoi(s[idx[4]:idx[5]])
	if hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("clock %s out of range", s[idx[0]:idx[1]])
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc), nil
}

func separatorBefore(s string) bool {
	lower := strings.ToLower(s)
	for _, sep := range rangeSeparators {
		if strings.Contains(lower, sep) {
			return true
		}
	}
	return false
}
