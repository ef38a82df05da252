package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/studyhub/schedule-sync/pkg/timeutil"
)

// DateLayout is the literal date key used in the portal markup.
const DateLayout = "2006-01-02"

// DayKey identifies a stored day record.
type DayKey struct {
	SchoolID  string
	StudentID string
	Date      string
}

// Day is the full ordered event list of one date for one student.
// A day record is replaced wholesale on each successful parse.
type Day struct {
	SchoolID  string    `json:"school_id"`
	StudentID string    `json:"student_id"`
	Date      string    `json:"date"`
	WeekKey   string    `json:"week_key"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
	Events    []Event   `json:"events"`
}

// Key returns the storage key of the day.
func (d *Day) Key() DayKey {
	return DayKey{SchoolID: d.SchoolID, StudentID: d.StudentID, Date: d.Date}
}

// NewDay builds a day record with events in canonical order and its digest.
func NewDay(schoolID, studentID, date string, events []Event, now time.Time) (*Day, error) {
	parsed, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid day date %q: %w", date, err)
	}

	ordered := make([]Event, len(events))
	copy(ordered, events)
	SortEvents(ordered)

	hash, err := Digest(ordered)
	if err != nil {
		return nil, err
	}

	return &Day{
		SchoolID:  schoolID,
		StudentID: studentID,
		Date:      date,
		WeekKey:   timeutil.WeekKey(parsed),
		Hash:      hash,
		UpdatedAt: now,
		Events:    ordered,
	}, nil
}

// DayRepository stores day records.
type DayRepository interface {
	// Hashes returns the stored hash per date for the given dates.
	// Dates without a record are absent from the map.
	Hashes(ctx context.Context, schoolID, studentID string, dates []string) (map[string]string, error)

	// ReplaceDays writes every day as a full replacement in one atomic batch.
	// Either all days are committed or none.
	ReplaceDays(ctx context.Context, days []*Day) error
}
