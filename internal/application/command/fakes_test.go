package command

import (
	"context"
	"io"
	"sync"

	"github.com/studyhub/schedule-sync/internal/domain/job"
	"github.com/studyhub/schedule-sync/internal/domain/schedule"
	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/internal/domain/shared"
)

// fakeDayRepo is an in-memory schedule.DayRepository.
type fakeDayRepo struct {
	mu         sync.Mutex
	days       map[schedule.DayKey]*schedule.Day
	writeCalls int
	daysWrites int
	replaceErr error
	hashesErr  error
}

func newFakeDayRepo() *fakeDayRepo {
	return &fakeDayRepo{days: make(map[schedule.DayKey]*schedule.Day)}
}

func (r *fakeDayRepo) Hashes(ctx context.Context, schoolID, studentID string, dates []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hashesErr != nil {
		return nil, r.hashesErr
	}
	out := make(map[string]string)
	for _, d := range dates {
		if day, ok := r.days[schedule.DayKey{SchoolID: schoolID, StudentID: studentID, Date: d}]; ok {
			out[d] = day.Hash
		}
	}
	return out, nil
}

func (r *fakeDayRepo) ReplaceDays(ctx context.Context, days []*schedule.Day) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeCalls++
	if r.replaceErr != nil {
		return r.replaceErr
	}
	for _, d := range days {
		r.days[d.Key()] = d
		r.daysWrites++
	}
	return nil
}

// fakeStore is an in-memory session.CredentialStore.
type fakeStore struct {
	mu           sync.Mutex
	creds        map[string]*session.StudentCredential
	saves        []session.CookieJar
	markInactive int
	saveErr      error
	markErr      error
}

func newFakeStore(creds ...*session.StudentCredential) *fakeStore {
	s := &fakeStore{creds: make(map[string]*session.StudentCredential)}
	for _, c := range creds {
		s.creds[c.StudentID] = c
	}
	return s
}

func (s *fakeStore) Load(ctx context.Context, studentID string) (*session.StudentCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[studentID]
	if !ok {
		return nil, shared.ErrCredentialNotFound
	}
	cp := *c
	cp.Jar = c.Jar.Clone()
	return &cp, nil
}

func (s *fakeStore) Save(ctx context.Context, studentID string, jar session.CookieJar, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	c, ok := s.creds[studentID]
	if !ok {
		return shared.ErrCredentialNotFound
	}
	s.saves = append(s.saves, jar.Clone())
	c.Jar = c.Jar.Merge(jar)
	c.Active = active
	c.Version++
	return nil
}

func (s *fakeStore) MarkInactive(ctx context.Context, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markInactive++
	if s.markErr != nil {
		return s.markErr
	}
	if c, ok := s.creds[studentID]; ok {
		c.Active = false
	}
	return nil
}

// fakeFetcher returns a canned page or error.
type fakeFetcher struct {
	page    *FetchedPage
	err     error
	calls   int
	lastJar session.CookieJar
	path    string
}

func (f *fakeFetcher) SchedulePath(schoolID, studentID, weekKey string) string {
	return "/lectio/" + schoolID + "/SkemaNy.aspx?elevid=" + studentID + "&week=" + weekKey
}

func (f *fakeFetcher) Fetch(ctx context.Context, schoolID, path string, jar session.CookieJar) (*FetchedPage, error) {
	f.calls++
	f.lastJar = jar
	f.path = path
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

// fakeParser returns a canned schedule.
type fakeParser struct {
	parsed *ParsedSchedule
	err    error
}

func (p *fakeParser) Parse(r io.Reader) (*ParsedSchedule, error) {
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.parsed, nil
}

// fakeLister yields refs in order.
type fakeLister struct {
	refs []session.CredentialRef
	err  error
}

func (l *fakeLister) ListRefs(ctx context.Context, fn func(session.CredentialRef) error) error {
	for _, ref := range l.refs {
		if err := fn(ref); err != nil {
			return err
		}
	}
	return l.err
}

// fakePublisher records batches. failOn decides per call whether to fail.
type fakePublisher struct {
	mu      sync.Mutex
	batches [][]job.RefreshJob
	calls   int
	failOn  func(call int, batch []job.RefreshJob) error
}

func (p *fakePublisher) PublishBatch(ctx context.Context, jobs []job.RefreshJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failOn != nil {
		if err := p.failOn(p.calls, jobs); err != nil {
			return err
		}
	}
	cp := make([]job.RefreshJob, len(jobs))
	copy(cp, jobs)
	p.batches = append(p.batches, cp)
	return nil
}

func (p *fakePublisher) sizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.batches))
	for i, b := range p.batches {
		out[i] = len(b)
	}
	return out
}
