package portal

import (
	"strings"

	"github.com/studyhub/schedule-sync/internal/domain/schedule"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOOLTIP LINE GRAMMAR
// ══════════════════════════════════════════════════════════════════════════════

// tooltipFields is what the line grammar extracts from one tile payload.
type tooltipFields struct {
	status   schedule.Status
	changed  bool
	timeLine string
	class    string
	teacher  string
	room     string
	title    string
	note     []string
	homework []string
}

// sectionState tracks whether lines are being collected into a multi-line
// section.
type sectionState int

const (
	inBody sectionState = iota
	inNote
	inHomework
)

// classifyTooltip runs the line state machine over payload. For every line the
// rules apply in this order:
//
//  1. status marker, on line 0 only
//  2. first time line
//  3. continuation of an open note or homework section
//  4. labeled field
//  5. title, when none is set and the line is not line 0
//
// Blank lines close an open section and are otherwise ignored.
func classifyTooltip(payload string) tooltipFields {
	f := tooltipFields{status: schedule.StatusOK}
	state := inBody

	for i, raw := range splitLines(payload) {
		line := strings.TrimSpace(raw)

		if i == 0 {
			if status, ok := matchStatus(line); ok {
				f.status = status
				f.changed = true
				continue
			}
		}

		if f.timeLine == "" && isTimeLine(line) {
			f.timeLine = line
			continue
		}

		if state != inBody {
			if line == "" {
				state = inBody
				continue
			}
			if fld, rest, ok := matchLabel(line); ok && closesSection(state, fld) {
				state = f.assign(fld, rest)
				continue
			}
			f.appendSection(state, line)
			continue
		}

		if line == "" {
			continue
		}

		if fld, rest, ok := matchLabel(line); ok {
			state = f.assign(fld, rest)
			continue
		}

		if i > 0 && f.title == "" {
			f.title = line
		}
	}

	return f
}

// closesSection reports whether a label ends the open section: only the other
// section's label does.
func closesSection(state sectionState, fld field) bool {
	return (state == inNote && fld == fieldHomework) || (state == inHomework && fld == fieldNote)
}

// assign stores a labeled value and returns the state for the next line.
// Single-value fields keep their first value.
func (f *tooltipFields) assign(fld field, value string) sectionState {
	switch fld {
	case fieldClass:
		setOnce(&f.class, value)
	case fieldTeacher:
		setOnce(&f.teacher, value)
	case fieldRoom:
		setOnce(&f.room, value)
	case fieldNote:
		f.appendSection(inNote, value)
		return inNote
	case fieldHomework:
		f.appendSection(inHomework, value)
		return inHomework
	}
	return inBody
}

func (f *tooltipFields) appendSection(state sectionState, line string) {
	if line == "" {
		return
	}
	switch state {
	case inNote:
		f.note = append(f.note, line)
	case inHomework:
		f.homework = append(f.homework, line)
	}
}

func setOnce(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

// splitLines splits on \n, \r\n and bare \r.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(s, "\n")
}
