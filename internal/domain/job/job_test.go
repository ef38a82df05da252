package job

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/studyhub/schedule-sync/internal/domain/shared"
)

func TestRefreshJob_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		job  RefreshJob
		want error
	}{
		{"valid", NewRefreshJob("1", "2", "", now), nil},
		{"valid with week", NewRefreshJob("1", "2", "432025", now), nil},
		{"missing student", NewRefreshJob(" ", "2", "", now), shared.ErrMissingStudentID},
		{"missing school", NewRefreshJob("1", "", "", now), shared.ErrMissingSchoolID},
		{"bad week", NewRefreshJob("1", "2", "2025-43", now), shared.ErrInvalidWeekKey},
		{"week out of range", NewRefreshJob("1", "2", "602025", now), shared.ErrInvalidWeekKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.Is(err, shared.ErrValidation))
		})
	}
}

func TestNewRefreshJob(t *testing.T) {
	now := time.Now()
	j := NewRefreshJob("1", "2", "", now)
	assert.NotEmpty(t, j.ID)
	assert.NotEqual(t, j.ID, NewRefreshJob("1", "2", "", now).ID)
	assert.Equal(t, 0, j.Attempt)
	assert.Equal(t, 1, j.NextAttempt().Attempt)
	assert.Equal(t, 0, j.Attempt)
}
