package portal

import (
	"strings"

	"github.com/studyhub/schedule-sync/internal/domain/schedule"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOCALE TABLES
// ══════════════════════════════════════════════════════════════════════════════

// The portal renders Danish by default and English when the user switched the
// UI language. Both spellings are accepted everywhere.

// statusMarkers are matched against tooltip line 0 only.
var statusMarkers = []struct {
	prefix string
	status schedule.Status
}{
	{"Ændret!", schedule.StatusMoved},
	{"Changed!", schedule.StatusMoved},
	{"Aflyst!", schedule.StatusCancelled},
	{"Cancelled!", schedule.StatusCancelled},
	{"Canceled!", schedule.StatusCancelled},
}

// field identifies which event field a labeled line fills.
type field int

const (
	fieldClass field = iota + 1
	fieldTeacher
	fieldRoom
	fieldNote
	fieldHomework
)

// labels are checked in order; the first prefix match wins. Longer spellings
// precede shorter ones sharing a stem.
var labels = []struct {
	prefix string
	field  field
}{
	{"Hold:", fieldClass},
	{"Class:", fieldClass},
	{"Group:", fieldClass},
	{"Lærere:", fieldTeacher},
	{"Lærer:", fieldTeacher},
	{"Teachers:", fieldTeacher},
	{"Teacher:", fieldTeacher},
	{"Lokaler:", fieldRoom},
	{"Lokale:", fieldRoom},
	{"Rooms:", fieldRoom},
	{"Room:", fieldRoom},
	{"Note:", fieldNote},
	{"Lektier:", fieldHomework},
	{"Homework:", fieldHomework},
}

// Time line tokens.
var (
	rangeSeparators = []string{" til ", " to "}
	allDayTokens    = []string{"hele dagen", "all day"}
)

// SubjectPlaceholder is used when a tile carries neither class nor title.
const SubjectPlaceholder = "Ukendt"

// matchStatus returns the status announced by line, if any.
func matchStatus(line string) (schedule.Status, bool) {
	for _, m := range statusMarkers {
		if hasPrefixFold(line, m.prefix) {
			return m.status, true
		}
	}
	return "", false
}

// matchLabel returns the field and the remainder after the label.
func matchLabel(line string) (field, string, bool) {
	for _, l := range labels {
		if hasPrefixFold(line, l.prefix) {
			return l.field, strings.TrimSpace(line[len(l.prefix):]), true
		}
	}
	return 0, "", false
}

// isTimeLine reports whether line looks like the tile's time range: a range
// separator or all-day token plus a DD/MM-YYYY date or an HH:MM clock.
// Prose such as "Tur til museet 2" carries the separator but neither.
func isTimeLine(line string) bool {
	if !datePattern.MatchString(line) && !clockPattern.MatchString(line) {
		return false
	}
	lower := strings.ToLower(line)
	for _, tok := range rangeSeparators {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return isAllDay(lower)
}

func isAllDay(lower string) bool {
	for _, tok := range allDayTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// hasPrefixFold is strings.HasPrefix ignoring case. Byte lengths are compared
// on the original prefix, so it only folds within equal-width encodings.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
