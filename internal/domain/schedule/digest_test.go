package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvents() []Event {
	base := time.Date(2025, time.October, 20, 8, 10, 0, 0, time.UTC)
	return []Event{
		{ID: "A", StartAt: base, EndAt: base.Add(100 * time.Minute), Subject: "1a MA", ClassKey: "1a MA", Status: StatusOK},
		{ID: "B", StartAt: base.Add(2 * time.Hour), EndAt: base.Add(3 * time.Hour), Subject: "Fysik", ClassKey: UnknownClassKey, Status: StatusCancelled},
	}
}

func TestDigest_Deterministic(t *testing.T) {
	h1, err := Digest(sampleEvents())
	require.NoError(t, err)
	h2, err := Digest(sampleEvents())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestDigest_IgnoresLastChangedAt(t *testing.T) {
	events := sampleEvents()
	h1, err := Digest(events)
	require.NoError(t, err)

	now := time.Now()
	events[1].LastChangedAt = &now
	h2, err := Digest(events)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestDigest_DetectsFieldChanges(t *testing.T) {
	h1, _ := Digest(sampleEvents())

	events := sampleEvents()
	events[0].Room = "12"
	h2, _ := Digest(events)

	assert.NotEqual(t, h1, h2)
}

func TestDigest_SameInstantDifferentZone(t *testing.T) {
	events := sampleEvents()
	h1, _ := Digest(events)

	cest := time.FixedZone("CEST", 2*60*60)
	events[0].StartAt = events[0].StartAt.In(cest)
	h2, _ := Digest(events)

	assert.Equal(t, h1, h2)
}

func TestNewDay_OrderIndependent(t *testing.T) {
	now := time.Now()
	events := sampleEvents()
	reversed := []Event{events[1], events[0]}

	d1, err := NewDay("s", "st", "2025-10-20", events, now)
	require.NoError(t, err)
	d2, err := NewDay("s", "st", "2025-10-20", reversed, now)
	require.NoError(t, err)

	assert.Equal(t, d1.Hash, d2.Hash)
	assert.Equal(t, "A", d2.Events[0].ID)
	assert.Equal(t, "432025", d1.WeekKey)
	assert.Equal(t, DayKey{SchoolID: "s", StudentID: "st", Date: "2025-10-20"}, d1.Key())

	// The caller's slice keeps its order.
	assert.Equal(t, "B", reversed[0].ID)
}

func TestNewDay_InvalidDate(t *testing.T) {
	_, err := NewDay("s", "st", "20-10-2025", sampleEvents(), time.Now())
	assert.Error(t, err)
}

func TestSortEvents_TieBreaksOnEndThenID(t *testing.T) {
	start := time.Date(2025, time.October, 20, 8, 0, 0, 0, time.UTC)
	events := []Event{
		{ID: "c", StartAt: start, EndAt: start.Add(2 * time.Hour)},
		{ID: "b", StartAt: start, EndAt: start.Add(time.Hour)},
		{ID: "a", StartAt: start, EndAt: start.Add(time.Hour)},
	}
	SortEvents(events)
	assert.Equal(t, []string{"a", "b", "c"}, []string{events[0].ID, events[1].ID, events[2].ID})
}
