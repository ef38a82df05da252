// Package job defines the refresh job message routed through the task queue.
package job

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studyhub/schedule-sync/internal/domain/shared"
	"github.com/studyhub/schedule-sync/pkg/timeutil"
)

// RefreshJob asks a worker to scrape one student's schedule.
type RefreshJob struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	SchoolID   string    `json:"school_id"`
	WeekKey    string    `json:"week_key,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewRefreshJob creates a job with a fresh id.
func NewRefreshJob(studentID, schoolID, weekKey string, now time.Time) RefreshJob {
	return RefreshJob{
		ID:         uuid.NewString(),
		StudentID:  strings.TrimSpace(studentID),
		SchoolID:   strings.TrimSpace(schoolID),
		WeekKey:    strings.TrimSpace(weekKey),
		EnqueuedAt: now,
	}
}

// Validate rejects jobs missing required fields.
func (j RefreshJob) Validate() error {
	if strings.TrimSpace(j.StudentID) == "" {
		return shared.ErrMissingStudentID
	}
	if strings.TrimSpace(j.SchoolID) == "" {
		return shared.ErrMissingSchoolID
	}
	if j.WeekKey != "" && !timeutil.IsValidWeekKey(j.WeekKey) {
		return shared.ErrInvalidWeekKey
	}
	return nil
}

// NextAttempt returns a copy of the job for redelivery.
func (j RefreshJob) NextAttempt() RefreshJob {
	j.Attempt++
	return j
}
