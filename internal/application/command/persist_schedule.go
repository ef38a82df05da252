// Package command contains write operations (CQRS - Commands).
// Commands change the state of the system: scrape a student's schedule,
// persist changed days and fan refresh jobs out to the task queue.
package command

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/studyhub/schedule-sync/internal/domain/schedule"
	"github.com/studyhub/schedule-sync/internal/domain/shared"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERSIST SCHEDULE COMMAND
// Compares every parsed day against its stored hash and writes only changed
// days, all in one atomic batch.
// ══════════════════════════════════════════════════════════════════════════════

// PersistResult counts what a persist invocation did.
type PersistResult struct {
	DaysWritten   int
	DaysUnchanged int
	EventsWritten int

	// WrittenDates lists the dates that were replaced, sorted.
	WrittenDates []string

	// InvalidDates lists bucket keys that were not YYYY-MM-DD and were ignored.
	InvalidDates []string
}

// PersistScheduleConfig contains configuration for the handler.
type PersistScheduleConfig struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// PersistScheduleHandler is the change detector and persister.
type PersistScheduleHandler struct {
	repo   schedule.DayRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewPersistScheduleHandler creates a new PersistScheduleHandler.
func NewPersistScheduleHandler(repo schedule.DayRepository, config PersistScheduleConfig) *PersistScheduleHandler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &PersistScheduleHandler{
		repo:   repo,
		logger: config.Logger.With(logger.Component("persist_schedule")),
		now:    config.Now,
	}
}

// DiffAndPersist writes every day of days whose content hash differs from the
// stored one. Days without events are ignored. Identical input makes no write
// on the second call. Any storage failure matches shared.ErrPersistence and
// nothing from this call is committed.
func (h *PersistScheduleHandler) DiffAndPersist(
	ctx context.Context,
	schoolID, studentID string,
	days map[string][]schedule.Event,
) (*PersistResult, error) {
	result := &PersistResult{}
	now := h.now().UTC()

	candidates := make([]*schedule.Day, 0, len(days))
	for _, date := range sortedDates(days) {
		day, err := schedule.NewDay(schoolID, studentID, date, days[date], now)
		if err != nil {
			h.logger.Warn("ignoring day with invalid date",
				logger.StudentID(studentID),
				slog.String("date", date),
				logger.Err(err),
			)
			result.InvalidDates = append(result.InvalidDates, date)
			continue
		}
		candidates = append(candidates, day)
	}

	if len(candidates) == 0 {
		return result, nil
	}

	dates := make([]string, len(candidates))
	for i, d := range candidates {
		dates[i] = d.Date
	}

	stored, err := h.repo.Hashes(ctx, schoolID, studentID, dates)
	if err != nil {
		return nil, shared.WrapError("schedule", "DiffAndPersist", shared.ErrPersistence, "load stored hashes", err)
	}

	changed := make([]*schedule.Day, 0, len(candidates))
	for _, day := range candidates {
		if prev, ok := stored[day.Date]; ok && prev == day.Hash {
			result.DaysUnchanged++
			continue
		}
		changed = append(changed, day)
	}

	if len(changed) == 0 {
		return result, nil
	}

	if err := h.repo.ReplaceDays(ctx, changed); err != nil {
		return nil, shared.WrapError("schedule", "DiffAndPersist", shared.ErrPersistence, "replace days", err)
	}

	for _, day := range changed {
		result.DaysWritten++
		result.EventsWritten += len(day.Events)
		result.WrittenDates = append(result.WrittenDates, day.Date)
	}

	h.logger.Debug("schedule days persisted",
		logger.StudentID(studentID),
		logger.SchoolID(schoolID),
		slog.Int("written", result.DaysWritten),
		slog.Int("unchanged", result.DaysUnchanged),
	)

	return result, nil
}

// sortedDates returns the keys of days holding at least one event.
func sortedDates(days map[string][]schedule.Event) []string {
	dates := make([]string, 0, len(days))
	for date, events := range days {
		if len(events) > 0 {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates
}
