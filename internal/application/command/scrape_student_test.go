package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/schedule-sync/internal/domain/job"
	"github.com/studyhub/schedule-sync/internal/domain/schedule"
	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/internal/domain/shared"
	"github.com/studyhub/schedule-sync/pkg/logger"
)

type scrapeFixture struct {
	store   *fakeStore
	fetcher *fakeFetcher
	parser  *fakeParser
	repo    *fakeDayRepo
	handler *ScrapeStudentHandler
}

func newScrapeFixture(t *testing.T) *scrapeFixture {
	t.Helper()

	cred := session.NewStudentCredential("stu-1", "681", session.NewCookieJar(map[string]string{
		"autologinkeyV2":    "old",
		"ASP.NET_SessionId": "sess",
	}), time.Now())

	f := &scrapeFixture{
		store: newFakeStore(cred),
		fetcher: &fakeFetcher{page: &FetchedPage{
			HTML:           []byte("<html></html>"),
			UpdatedCookies: session.NewCookieJar(map[string]string{"autologinkeyV2": "new"}),
		}},
		parser: &fakeParser{parsed: &ParsedSchedule{
			Days:    testDays(),
			Skipped: map[string]int{"2025-10-20": 1},
		}},
		repo: newFakeDayRepo(),
	}
	persister := NewPersistScheduleHandler(f.repo, PersistScheduleConfig{Logger: logger.Discard()})
	f.handler = NewScrapeStudentHandler(f.store, f.fetcher, f.parser, persister, ScrapeStudentConfig{Logger: logger.Discard()})
	return f
}

func TestScrapeStudent_HappyPath(t *testing.T) {
	f := newScrapeFixture(t)

	result, err := f.handler.Handle(context.Background(), ScrapeStudentCommand{StudentID: "stu-1", WeekKey: "432025"})
	require.NoError(t, err)

	assert.Equal(t, "681", result.SchoolID)
	assert.Equal(t, 3, result.EventsParsed)
	assert.Equal(t, 1, result.TilesSkipped)
	assert.Equal(t, 2, result.DaysWritten)
	assert.Equal(t, 1, result.CookiesUpdated)

	assert.Contains(t, f.fetcher.path, "week=432025")
	v, _ := f.fetcher.lastJar.Value("autologinkeyV2")
	assert.Equal(t, "old", v)

	require.Len(t, f.store.saves, 1)
	assert.Equal(t, []string{"autologinkeyV2"}, f.store.saves[0].Names())

	stored := f.store.creds["stu-1"]
	v, _ = stored.Jar.Value("autologinkeyV2")
	assert.Equal(t, "new", v)
	v, _ = stored.Jar.Value("ASP.NET_SessionId")
	assert.Equal(t, "sess", v, "untouched cookies survive the merge")
}

func TestScrapeStudent_SecondRunWritesNothing(t *testing.T) {
	f := newScrapeFixture(t)
	ctx := context.Background()
	cmd := ScrapeStudentCommand{StudentID: "stu-1"}

	_, err := f.handler.Handle(ctx, cmd)
	require.NoError(t, err)

	f.fetcher.page = &FetchedPage{HTML: []byte("<html></html>"), UpdatedCookies: session.CookieJar{}}
	result, err := f.handler.Handle(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, 0, result.DaysWritten)
	assert.Equal(t, 1, f.repo.writeCalls)
	assert.Len(t, f.store.saves, 1, "no cookie save without a rotated value")
}

func TestScrapeStudent_SessionInvalidMarksInactiveOnce(t *testing.T) {
	f := newScrapeFixture(t)
	f.fetcher.err = shared.NewDomainError("portal", "Fetch", shared.ErrSessionInvalid, "robot marker")

	_, err := f.handler.Handle(context.Background(), ScrapeStudentCommand{StudentID: "stu-1"})
	require.Error(t, err)
	assert.True(t, shared.IsSessionInvalid(err))
	assert.Equal(t, 1, f.store.markInactive)
	assert.False(t, f.store.creds["stu-1"].Active)
	assert.Equal(t, 0, f.repo.writeCalls)
	assert.Empty(t, f.store.saves)

	// The credential is inactive now; the next attempt fails without fetching.
	_, err = f.handler.Handle(context.Background(), ScrapeStudentCommand{StudentID: "stu-1"})
	assert.True(t, shared.IsSessionInvalid(err))
	assert.Equal(t, 1, f.store.markInactive)
	assert.Equal(t, 1, f.fetcher.calls)
}

func TestScrapeStudent_NetworkErrorLeavesStateUntouched(t *testing.T) {
	f := newScrapeFixture(t)
	f.fetcher.err = shared.WrapError("portal", "Fetch", shared.ErrNetwork, "dial", errors.New("connection refused"))

	_, err := f.handler.Handle(context.Background(), ScrapeStudentCommand{StudentID: "stu-1"})
	assert.True(t, errors.Is(err, shared.ErrNetwork))
	assert.Equal(t, 0, f.store.markInactive)
	assert.True(t, f.store.creds["stu-1"].Active)
	assert.Empty(t, f.store.saves)
}

func TestScrapeStudent_Validation(t *testing.T) {
	f := newScrapeFixture(t)

	tests := []struct {
		name string
		cmd  ScrapeStudentCommand
		want error
	}{
		{"missing student", ScrapeStudentCommand{StudentID: "  "}, shared.ErrValidation},
		{"bad week", ScrapeStudentCommand{StudentID: "stu-1", WeekKey: "992025"}, shared.ErrValidation},
		{"unknown student", ScrapeStudentCommand{StudentID: "nobody"}, shared.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handler.Handle(context.Background(), tt.cmd)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Equal(t, 0, f.fetcher.calls)
}

func TestScrapeStudent_MissingSchoolIsValidation(t *testing.T) {
	f := newScrapeFixture(t)
	f.store.creds["stu-1"].SchoolID = ""

	_, err := f.handler.Handle(context.Background(), ScrapeStudentCommand{StudentID: "stu-1"})
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, 0, f.fetcher.calls)
}

func TestScrapeStudent_ParseFailureStillSavesCookies(t *testing.T) {
	f := newScrapeFixture(t)
	f.parser.err = errors.New("broken document")

	_, err := f.handler.Handle(context.Background(), ScrapeStudentCommand{StudentID: "stu-1"})
	require.Error(t, err)
	assert.Len(t, f.store.saves, 1)
	assert.Equal(t, 0, f.repo.writeCalls)
}

func TestScrapeStudent_PersistFailure(t *testing.T) {
	f := newScrapeFixture(t)
	f.repo.replaceErr = errors.New("deadlock detected")

	_, err := f.handler.Handle(context.Background(), ScrapeStudentCommand{StudentID: "stu-1"})
	assert.True(t, errors.Is(err, shared.ErrPersistence))
	assert.Len(t, f.store.saves, 1, "rotated cookies are saved even when days fail")
	assert.Empty(t, f.repo.days)
}

func TestScrapeStudent_CookieSaveFailureIsPersistence(t *testing.T) {
	f := newScrapeFixture(t)
	f.store.saveErr = errors.New("conflict")

	_, err := f.handler.Handle(context.Background(), ScrapeStudentCommand{StudentID: "stu-1"})
	assert.True(t, errors.Is(err, shared.ErrPersistence))

	stored := f.repo.days[schedule.DayKey{SchoolID: "681", StudentID: "stu-1", Date: "2025-10-20"}]
	assert.NotNil(t, stored, "days commit independently of the cookie save")
}

func TestScrapeStudent_HandleJob(t *testing.T) {
	f := newScrapeFixture(t)

	err := f.handler.HandleJob(context.Background(), job.NewRefreshJob("stu-1", "681", "432025", time.Now()))
	require.NoError(t, err)
	assert.Contains(t, f.fetcher.path, "week=432025")

	err = f.handler.HandleJob(context.Background(), job.NewRefreshJob("nobody", "681", "", time.Now()))
	assert.True(t, shared.IsNotFound(err))
}

func TestScrapeStudent_HandleJobRejectsSchoolMismatch(t *testing.T) {
	f := newScrapeFixture(t)

	err := f.handler.HandleJob(context.Background(), job.NewRefreshJob("stu-1", "999", "", time.Now()))
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, 0, f.fetcher.calls)
	assert.Equal(t, 0, f.repo.writeCalls)
}
