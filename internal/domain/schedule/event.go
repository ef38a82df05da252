// Package schedule contains the calendar model produced by the schedule parser:
// events, day records and their content digest.
package schedule

import (
	"sort"
	"time"
)

// Status is the change state the portal attaches to a tile.
type Status string

const (
	StatusOK        Status = "OK"
	StatusCancelled Status = "CANCELLED"
	StatusMoved     Status = "MOVED"
)

// UnknownClassKey is used when a tile has no class/group label.
const UnknownClassKey = "unknown"

// Event is one parsed schedule tile.
type Event struct {
	ID            string     `json:"id"`
	StartAt       time.Time  `json:"start_at"`
	EndAt         time.Time  `json:"end_at"`
	Subject       string     `json:"subject"`
	Room          string     `json:"room,omitempty"`
	Teacher       string     `json:"teacher,omitempty"`
	ClassKey      string     `json:"class_key"`
	Status        Status     `json:"status"`
	LastChangedAt *time.Time `json:"last_changed_at,omitempty"`
	Note          string     `json:"note,omitempty"`
	Homework      string     `json:"homework,omitempty"`
	Title         string     `json:"title,omitempty"`
}

// SortEvents orders events by start, end and id. This is the canonical order
// of a day; it does not depend on the order tiles appear in the markup.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.StartAt.Equal(b.StartAt) {
			return a.StartAt.Before(b.StartAt)
		}
		if !a.EndAt.Equal(b.EndAt) {
			return a.EndAt.Before(b.EndAt)
		}
		return a.ID < b.ID
	})
}
