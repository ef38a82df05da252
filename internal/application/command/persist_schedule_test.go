package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/schedule-sync/internal/domain/schedule"
	"github.com/studyhub/schedule-sync/internal/domain/shared"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

func testDays() map[string][]schedule.Event {
	mon := time.Date(2025, time.October, 20, 8, 10, 0, 0, time.UTC)
	tue := mon.AddDate(0, 0, 1)
	return map[string][]schedule.Event{
		"2025-10-20": {
			{ID: "A", StartAt: mon, EndAt: mon.Add(100 * time.Minute), Subject: "1a MA", ClassKey: "1a MA", Status: schedule.StatusOK},
			{ID: "B", StartAt: mon.Add(2 * time.Hour), EndAt: mon.Add(3 * time.Hour), Subject: "Fysik", ClassKey: schedule.UnknownClassKey, Status: schedule.StatusOK},
		},
		"2025-10-21": {
			{ID: "C", StartAt: tue, EndAt: tue.Add(time.Hour), Subject: "Dansk", ClassKey: "1a DA", Status: schedule.StatusCancelled},
		},
		"2025-10-22": {},
	}
}

func newTestPersister(repo schedule.DayRepository) *PersistScheduleHandler {
	return NewPersistScheduleHandler(repo, PersistScheduleConfig{Logger: logger.Discard()})
}

func TestDiffAndPersist_Idempotent(t *testing.T) {
	repo := newFakeDayRepo()
	h := newTestPersister(repo)
	ctx := context.Background()

	first, err := h.DiffAndPersist(ctx, "school", "student", testDays())
	require.NoError(t, err)
	assert.Equal(t, 2, first.DaysWritten)
	assert.Equal(t, 3, first.EventsWritten)
	assert.Equal(t, []string{"2025-10-20", "2025-10-21"}, first.WrittenDates)
	assert.Equal(t, 1, repo.writeCalls, "one atomic batch")

	second, err := h.DiffAndPersist(ctx, "school", "student", testDays())
	require.NoError(t, err)
	assert.Equal(t, 0, second.DaysWritten)
	assert.Equal(t, 2, second.DaysUnchanged)
	assert.Equal(t, 1, repo.writeCalls, "no write on identical input")
}

func TestDiffAndPersist_WritesOnlyChangedDays(t *testing.T) {
	repo := newFakeDayRepo()
	h := newTestPersister(repo)
	ctx := context.Background()

	_, err := h.DiffAndPersist(ctx, "school", "student", testDays())
	require.NoError(t, err)

	days := testDays()
	days["2025-10-21"][0].Room = "14"
	lastChanged := time.Now()
	days["2025-10-20"][0].LastChangedAt = &lastChanged

	result, err := h.DiffAndPersist(ctx, "school", "student", days)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-10-21"}, result.WrittenDates)
	assert.Equal(t, 1, result.DaysUnchanged)

	stored := repo.days[schedule.DayKey{SchoolID: "school", StudentID: "student", Date: "2025-10-21"}]
	require.NotNil(t, stored)
	assert.Equal(t, "14", stored.Events[0].Room)
	assert.Equal(t, "432025", stored.WeekKey)
}

func TestDiffAndPersist_ReorderedEventsAreUnchanged(t *testing.T) {
	repo := newFakeDayRepo()
	h := newTestPersister(repo)
	ctx := context.Background()

	_, err := h.DiffAndPersist(ctx, "school", "student", testDays())
	require.NoError(t, err)

	days := testDays()
	d := days["2025-10-20"]
	d[0], d[1] = d[1], d[0]

	result, err := h.DiffAndPersist(ctx, "school", "student", days)
	require.NoError(t, err)
	assert.Equal(t, 0, result.DaysWritten)
}

func TestDiffAndPersist_FailureIsPersistenceError(t *testing.T) {
	repo := newFakeDayRepo()
	repo.replaceErr = errors.New("tx aborted")

	_, err := newTestPersister(repo).DiffAndPersist(context.Background(), "school", "student", testDays())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrPersistence))
	assert.Empty(t, repo.days)

	repo = newFakeDayRepo()
	repo.hashesErr = errors.New("connection reset")
	_, err = newTestPersister(repo).DiffAndPersist(context.Background(), "school", "student", testDays())
	assert.True(t, errors.Is(err, shared.ErrPersistence))
	assert.Equal(t, 0, repo.writeCalls)
}

func TestDiffAndPersist_IgnoresEmptyAndInvalidDays(t *testing.T) {
	repo := newFakeDayRepo()
	days := map[string][]schedule.Event{
		"2025-10-22": {},
		"not-a-date": testDays()["2025-10-20"],
	}

	result, err := newTestPersister(repo).DiffAndPersist(context.Background(), "school", "student", days)
	require.NoError(t, err)
	assert.Equal(t, 0, result.DaysWritten)
	assert.Equal(t, []string{"not-a-date"}, result.InvalidDates)
	assert.Equal(t, 0, repo.writeCalls)
}
