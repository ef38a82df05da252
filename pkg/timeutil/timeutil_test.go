package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekKey(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"mid year", time.Date(2025, time.October, 20, 8, 0, 0, 0, time.UTC), "432025"},
		{"single digit week is padded", time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC), "022025"},
		{"iso year differs from calendar year", time.Date(2024, time.December, 30, 0, 0, 0, 0, time.UTC), "012025"},
		{"week 53", time.Date(2020, time.December, 31, 0, 0, 0, 0, time.UTC), "532020"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeekKey(tt.t))
		})
	}
}

func TestParseWeekKey(t *testing.T) {
	week, year, err := ParseWeekKey("432025")
	require.NoError(t, err)
	assert.Equal(t, 43, week)
	assert.Equal(t, 2025, year)

	for _, bad := range []string{"", "4325", "002025", "542025", "532025", "ab2025", "43202x", "+12025", "-12025", "4+2025", "43 202"} {
		assert.False(t, IsValidWeekKey(bad), bad)
	}
	assert.True(t, IsValidWeekKey("532020"))
}

func TestLoadLocation(t *testing.T) {
	assert.NotNil(t, LoadLocation(""))
	assert.Equal(t, time.UTC, LoadLocation("Not/AZone"))
}
