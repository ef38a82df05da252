package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/studyhub/schedule-sync/internal/domain/job"
	"github.com/studyhub/schedule-sync/internal/domain/schedule"
	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/internal/domain/shared"
	"github.com/studyhub/schedule-sync/internal/metrics"
	"github.com/studyhub/schedule-sync/pkg/logger"
	"github.com/studyhub/schedule-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCRAPE STUDENT COMMAND
// Load credential → fetch schedule page → parse → persist changed days →
// save rotated cookies.
// ══════════════════════════════════════════════════════════════════════════════

// ScrapeStudentCommand contains the data needed to refresh one student.
type ScrapeStudentCommand struct {
	StudentID string

	// WeekKey selects the ISO week (WWYYYY). Empty means the current week.
	WeekKey string

	// SchoolID is the school the job was scheduled for. When set it must
	// match the stored credential; a mismatch means the job predates a
	// re-enrollment at another school.
	SchoolID string
}

// Validate validates the command.
func (c ScrapeStudentCommand) Validate() error {
	if strings.TrimSpace(c.StudentID) == "" {
		return shared.ErrMissingStudentID
	}
	if c.WeekKey != "" && !timeutil.IsValidWeekKey(c.WeekKey) {
		return shared.ErrInvalidWeekKey
	}
	return nil
}

// ScrapeStudentResult contains the outcome of a scrape.
type ScrapeStudentResult struct {
	StudentID string
	SchoolID  string
	WeekKey   string

	EventsParsed   int
	TilesSkipped   int
	DaysWritten    int
	DaysUnchanged  int
	EventsWritten  int
	CookiesUpdated int

	Duration time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// FetchedPage is a successfully fetched portal page.
type FetchedPage struct {
	HTML []byte

	// UpdatedCookies holds only cookies whose value changed.
	UpdatedCookies session.CookieJar

	Redirects int
}

// SessionFetcher performs authenticated portal fetches.
type SessionFetcher interface {
	// SchedulePath returns the path of a student's schedule page.
	SchedulePath(schoolID, studentID, weekKey string) string

	// Fetch fails with shared.ErrSessionInvalid, shared.ErrNetwork or shared.ErrHTTP.
	Fetch(ctx context.Context, schoolID, path string, jar session.CookieJar) (*FetchedPage, error)
}

// ParsedSchedule is the parser output: events per date, skipped tiles per date.
type ParsedSchedule struct {
	Days    map[string][]schedule.Event
	Skipped map[string]int
}

// ScheduleParser parses a schedule page.
type ScheduleParser interface {
	Parse(r io.Reader) (*ParsedSchedule, error)
}

// SchedulePersister is the change detector and persister.
type SchedulePersister interface {
	DiffAndPersist(ctx context.Context, schoolID, studentID string, days map[string][]schedule.Event) (*PersistResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ScrapeStudentConfig contains configuration for the handler.
type ScrapeStudentConfig struct {
	Logger  *slog.Logger
	Metrics metrics.Sink
}

// ScrapeStudentHandler runs one scrape invocation. It keeps no state between
// invocations; the persisted cookie jar is the only carry-over.
type ScrapeStudentHandler struct {
	store     session.CredentialStore
	fetcher   SessionFetcher
	parser    ScheduleParser
	persister SchedulePersister
	logger    *slog.Logger
	metrics   metrics.Sink
}

// NewScrapeStudentHandler creates a new ScrapeStudentHandler.
func NewScrapeStudentHandler(
	store session.CredentialStore,
	fetcher SessionFetcher,
	parser ScheduleParser,
	persister SchedulePersister,
	config ScrapeStudentConfig,
) *ScrapeStudentHandler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewNoopSink()
	}
	return &ScrapeStudentHandler{
		store:     store,
		fetcher:   fetcher,
		parser:    parser,
		persister: persister,
		logger:    config.Logger.With(logger.Component("scrape_student")),
		metrics:   config.Metrics,
	}
}

// Handle executes the scrape. Running it twice with the same portal content
// writes nothing the second time.
func (h *ScrapeStudentHandler) Handle(ctx context.Context, cmd ScrapeStudentCommand) (result *ScrapeStudentResult, err error) {
	start := time.Now()
	defer func() {
		h.metrics.ScrapeCompleted(shared.Class(err), time.Since(start))
	}()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("scrape_student: %w", err)
	}

	cred, err := h.store.Load(ctx, cmd.StudentID)
	if err != nil {
		return nil, fmt.Errorf("scrape_student: load credential: %w", err)
	}
	if !cred.Active {
		return nil, shared.NewDomainError("scrape", "Handle", shared.ErrSessionInvalid, "credential is inactive")
	}
	if strings.TrimSpace(cred.SchoolID) == "" {
		return nil, shared.Validation("scrape", "Handle", "credential has no school id")
	}
	if cmd.SchoolID != "" && cmd.SchoolID != cred.SchoolID {
		h.logger.Warn("stale refresh job: school id differs from credential",
			logger.StudentID(cmd.StudentID),
			logger.SchoolID(cred.SchoolID),
			slog.String("job_school_id", cmd.SchoolID),
		)
		return nil, shared.Validation("scrape", "Handle",
			fmt.Sprintf("job school %s does not match credential school %s", cmd.SchoolID, cred.SchoolID))
	}

	log := h.logger.With(
		logger.StudentID(cmd.StudentID),
		logger.SchoolID(cred.SchoolID),
		logger.WeekKey(cmd.WeekKey),
	)

	fetchStart := time.Now()
	page, err := h.fetcher.Fetch(ctx, cred.SchoolID, h.fetcher.SchedulePath(cred.SchoolID, cmd.StudentID, cmd.WeekKey), cred.Jar)
	if err != nil {
		if shared.IsSessionInvalid(err) {
			h.invalidate(ctx, log, cmd.StudentID)
		}
		return nil, fmt.Errorf("scrape_student: fetch schedule: %w", err)
	}
	h.metrics.FetchCompleted(time.Since(fetchStart), page.Redirects)

	result = &ScrapeStudentResult{
		StudentID:      cmd.StudentID,
		SchoolID:       cred.SchoolID,
		WeekKey:        cmd.WeekKey,
		CookiesUpdated: page.UpdatedCookies.Len(),
	}

	parsed, err := h.parser.Parse(bytes.NewReader(page.HTML))
	if err != nil {
		// Rotated cookies are still worth keeping.
		h.saveCookies(ctx, log, cmd.StudentID, page.UpdatedCookies)
		return nil, fmt.Errorf("scrape_student: parse schedule: %w", err)
	}
	for _, events := range parsed.Days {
		result.EventsParsed += len(events)
	}
	for _, n := range parsed.Skipped {
		result.TilesSkipped += n
	}
	h.metrics.TilesSkipped(result.TilesSkipped)

	persisted, persistErr := h.persister.DiffAndPersist(ctx, cred.SchoolID, cmd.StudentID, parsed.Days)
	saveErr := h.saveCookies(ctx, log, cmd.StudentID, page.UpdatedCookies)

	if persistErr != nil {
		return nil, fmt.Errorf("scrape_student: persist schedule: %w", persistErr)
	}
	if saveErr != nil {
		return nil, fmt.Errorf("scrape_student: save cookies: %w", saveErr)
	}

	h.metrics.DaysPersisted(persisted.DaysWritten, persisted.DaysUnchanged)
	result.DaysWritten = persisted.DaysWritten
	result.DaysUnchanged = persisted.DaysUnchanged
	result.EventsWritten = persisted.EventsWritten
	result.Duration = time.Since(start)

	log.Info("schedule refreshed",
		slog.Int("events", result.EventsParsed),
		slog.Int("skipped_tiles", result.TilesSkipped),
		slog.Int("days_written", result.DaysWritten),
		slog.Int("days_unchanged", result.DaysUnchanged),
		slog.Int("cookies_updated", result.CookiesUpdated),
		logger.Latency(result.Duration),
	)

	return result, nil
}

// HandleJob runs the scrape for a queued refresh job.
func (h *ScrapeStudentHandler) HandleJob(ctx context.Context, j job.RefreshJob) error {
	_, err := h.Handle(ctx, ScrapeStudentCommand{StudentID: j.StudentID, WeekKey: j.WeekKey, SchoolID: j.SchoolID})
	return err
}

// invalidate marks the credential inactive once. A failure here is logged; the
// caller still sees the session error.
func (h *ScrapeStudentHandler) invalidate(ctx context.Context, log *slog.Logger, studentID string) {
	h.metrics.SessionInvalidated()
	if err := h.store.MarkInactive(ctx, studentID); err != nil {
		log.Error("failed to mark credential inactive", logger.Err(err))
		return
	}
	log.Warn("portal session invalidated, credential marked inactive")
}

// saveCookies persists rotated cookies. Nothing is written when no value changed.
func (h *ScrapeStudentHandler) saveCookies(ctx context.Context, log *slog.Logger, studentID string, updated session.CookieJar) error {
	if updated.Len() == 0 {
		return nil
	}
	if err := h.store.Save(ctx, studentID, updated, true); err != nil {
		log.Error("failed to save rotated cookies", logger.Err(err))
		return shared.WrapError("session", "Save", shared.ErrPersistence, "save rotated cookies", err)
	}
	return nil
}
