package claim

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/roster"
	"rollcall/internal/session"
)

// sessionStore is an in-memory session.Store so tests run the real
// registry in front of the validator.
type sessionStore struct {
	mu   sync.Mutex
	byID map[string]*session.Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{byID: make(map[string]*session.Session)}
}

func (m *sessionStore) Insert(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.byID[s.ID] = &cp
	return nil
}

func (m *sessionStore) GetByToken(_ context.Context, token string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.Token == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *sessionStore) GetByID(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *sessionStore) SetInactive(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	s.Active = false
	return true, nil
}

func (m *sessionStore) ListByTeacher(_ context.Context, teacherID string, limit int) ([]session.Summary, error) {
	return nil, nil
}

// fakeRoster resolves roll numbers from a fixed map.
type fakeRoster map[string]roster.Student

func (f fakeRoster) Resolve(_ context.Context, rollNo string) (*roster.Student, error) {
	if st, ok := f[rollNo]; ok {
		cp := st
		return &cp, nil
	}
	return nil, nil
}

// memClaims mimics the Postgres unique constraint: the duplicate check
// and the write happen under one lock, like ON CONFLICT does in one
// statement.
type memClaims struct {
	mu     sync.Mutex
	byPair map[[2]string]Claim
	now    func() time.Time
}

func newMemClaims(now func() time.Time) *memClaims {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &memClaims{byPair: make(map[[2]string]Claim), now: now}
}

func (m *memClaims) Insert(_ context.Context, c Claim) (Claim, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{c.SessionID, c.StudentID}
	if _, dup := m.byPair[key]; dup {
		return Claim{}, false, nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.MarkedAt = m.now()
	m.byPair[key] = c
	return c, true, nil
}

func (m *memClaims) ListBySession(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := []Record{}
	for _, c := range m.byPair {
		if c.SessionID == sessionID {
			recs = append(recs, Record{Claim: c})
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].MarkedAt.Equal(recs[j].MarkedAt) {
			return recs[i].MarkedAt.Before(recs[j].MarkedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

func (m *memClaims) ListByStudent(_ context.Context, studentID string, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	recs := []Record{}
	for _, c := range m.byPair {
		if c.StudentID == studentID {
			recs = append(recs, Record{Claim: c})
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].MarkedAt.Equal(recs[j].MarkedAt) {
			return recs[i].MarkedAt.After(recs[j].MarkedAt)
		}
		return recs[i].ID > recs[j].ID
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

type fixture struct {
	reg    *session.Registry
	claims *memClaims
	val    *Validator
	now    time.Time
	setNow func(time.Time)
}

func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.setNow = func(tm time.Time) { f.now = tm }
	f.reg = session.NewRegistry(newSessionStore()).WithClock(clock)
	f.claims = newMemClaims(clock)
	ros := fakeRoster{
		"CS-101": {ID: "st-1", RollNo: "CS-101", Name: "Asha Verma", ClassName: "CS-3A", FatherName: "Ravi Verma"},
		"CS-102": {ID: "st-2", RollNo: "CS-102", Name: "Vikram Rao", ClassName: "CS-3A"},
		"EE-201": {ID: "st-3", RollNo: "EE-201", Name: "Meera Nair", ClassName: "EE-2B", FatherName: "Anil Nair"},
	}
	f.val = NewValidator(f.reg, ros, f.claims, strict)
	return f
}

func (f *fixture) createSession(t *testing.T, className string, ttl time.Duration) session.Session {
	t.Helper()
	s, err := f.reg.Create(context.Background(), "teacher-1", "Data Structures", className, "A", ttl)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func rejectionCode(t *testing.T, err error) Code {
	t.Helper()
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected a rejection, got %v", err)
	}
	return rej.Code
}

func TestSubmitScenario(t *testing.T) {
	f := newFixture(t, false)
	t0 := f.now
	s := f.createSession(t, "CS-3A", 10*time.Minute)
	ctx := context.Background()

	// Known student, right class, one minute in: accepted.
	f.setNow(t0.Add(1 * time.Minute))
	rcpt, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-101", IPAddress: "10.0.0.7", UserAgent: "scanner/1.0"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if rcpt.StudentName != "Asha Verma" {
		t.Errorf("receipt name = %q", rcpt.StudentName)
	}
	if !rcpt.MarkedAt.Equal(t0.Add(1 * time.Minute)) {
		t.Errorf("marked_at = %v, want server time %v", rcpt.MarkedAt, t0.Add(1*time.Minute))
	}

	// Same student a minute later: already claimed.
	f.setNow(t0.Add(2 * time.Minute))
	_, err = f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-101"})
	if code := rejectionCode(t, err); code != CodeAlreadyClaimed {
		t.Errorf("code = %s, want %s", code, CodeAlreadyClaimed)
	}

	// Different cohort: wrong class.
	_, err = f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "EE-201"})
	if code := rejectionCode(t, err); code != CodeWrongClass {
		t.Errorf("code = %s, want %s", code, CodeWrongClass)
	}

	// Past the window: expired, even for a student who never claimed.
	f.setNow(t0.Add(11 * time.Minute))
	_, err = f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-102"})
	if code := rejectionCode(t, err); code != CodeSessionExpired {
		t.Errorf("code = %s, want %s", code, CodeSessionExpired)
	}

	// Only the one claim was recorded.
	recs, err := f.val.ClaimsForSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("claims for session: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(recs))
	}
}

func TestSubmitUnknownToken(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.val.Submit(context.Background(), SubmitRequest{Token: "no-such-token", RollNo: "CS-101"})
	if code := rejectionCode(t, err); code != CodeTokenNotFound {
		t.Errorf("code = %s, want %s", code, CodeTokenNotFound)
	}
}

func TestSubmitInactiveSession(t *testing.T) {
	f := newFixture(t, false)
	s := f.createSession(t, "CS-3A", 10*time.Minute)
	if err := f.reg.Deactivate(context.Background(), s.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err := f.val.Submit(context.Background(), SubmitRequest{Token: s.Token, RollNo: "CS-101"})
	if code := rejectionCode(t, err); code != CodeSessionInactive {
		t.Errorf("code = %s, want %s", code, CodeSessionInactive)
	}
}

func TestSubmitUnknownStudent(t *testing.T) {
	f := newFixture(t, false)
	s := f.createSession(t, "CS-3A", 10*time.Minute)
	_, err := f.val.Submit(context.Background(), SubmitRequest{Token: s.Token, RollNo: "ZZ-999"})
	if code := rejectionCode(t, err); code != CodeStudentNotFound {
		t.Errorf("code = %s, want %s", code, CodeStudentNotFound)
	}
}

func TestSubmitMissingInput(t *testing.T) {
	f := newFixture(t, false)
	if _, err := f.val.Submit(context.Background(), SubmitRequest{RollNo: "CS-101"}); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := f.val.Submit(context.Background(), SubmitRequest{Token: "tok"}); err == nil {
		t.Error("expected error for missing roll number")
	}
}

func TestConcurrentSubmitsSamePair(t *testing.T) {
	f := newFixture(t, false)
	s := f.createSession(t, "CS-3A", 10*time.Minute)

	const n = 32
	var wg sync.WaitGroup
	outcomes := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.val.Submit(context.Background(), SubmitRequest{Token: s.Token, RollNo: "CS-101"})
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	accepted, dup := 0, 0
	for err := range outcomes {
		if err == nil {
			accepted++
			continue
		}
		var rej *RejectionError
		if errors.As(err, &rej) && rej.Code == CodeAlreadyClaimed {
			dup++
			continue
		}
		t.Fatalf("unexpected outcome: %v", err)
	}
	if accepted != 1 || dup != n-1 {
		t.Fatalf("accepted=%d dup=%d, want exactly 1 accepted and %d duplicates", accepted, dup, n-1)
	}
}

func TestIdentityCheckDefaultMode(t *testing.T) {
	ctx := context.Background()

	t.Run("both fields mismatched name", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.createSession(t, "CS-3A", 10*time.Minute)
		_, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-101", StudentName: "Someone Else", FatherName: "Ravi Verma"})
		if code := rejectionCode(t, err); code != CodeIdentityMismatch {
			t.Errorf("code = %s, want %s", code, CodeIdentityMismatch)
		}
	})

	t.Run("both fields mismatched father", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.createSession(t, "CS-3A", 10*time.Minute)
		_, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-101", StudentName: "Asha Verma", FatherName: "Wrong Father"})
		if code := rejectionCode(t, err); code != CodeIdentityMismatch {
			t.Errorf("code = %s, want %s", code, CodeIdentityMismatch)
		}
	})

	t.Run("case-insensitive match accepted", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.createSession(t, "CS-3A", 10*time.Minute)
		if _, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-101", StudentName: "ASHA VERMA", FatherName: "ravi verma"}); err != nil {
			t.Fatalf("case-insensitive identity should pass: %v", err)
		}
	})

	t.Run("single field skips the check", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.createSession(t, "CS-3A", 10*time.Minute)
		if _, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-101", StudentName: "Someone Else"}); err != nil {
			t.Fatalf("partial identity should be skipped in default mode: %v", err)
		}
	})

	t.Run("roster without father name skips father check", func(t *testing.T) {
		f := newFixture(t, false)
		s := f.createSession(t, "CS-3A", 10*time.Minute)
		if _, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-102", StudentName: "Vikram Rao", FatherName: "Anything"}); err != nil {
			t.Fatalf("father check should be skipped when roster has none: %v", err)
		}
	})
}

func TestIdentityCheckStrictMode(t *testing.T) {
	ctx := context.Background()

	t.Run("single mismatched field rejected", func(t *testing.T) {
		f := newFixture(t, true)
		s := f.createSession(t, "CS-3A", 10*time.Minute)
		_, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-101", StudentName: "Someone Else"})
		if code := rejectionCode(t, err); code != CodeIdentityMismatch {
			t.Errorf("code = %s, want %s", code, CodeIdentityMismatch)
		}
	})

	t.Run("no fields still skips", func(t *testing.T) {
		f := newFixture(t, true)
		s := f.createSession(t, "CS-3A", 10*time.Minute)
		if _, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-101"}); err != nil {
			t.Fatalf("no identity fields should skip the check: %v", err)
		}
	})
}

func TestHistoryOrdering(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	t0 := f.now

	s := f.createSession(t, "CS-3A", time.Hour)
	f.setNow(t0.Add(1 * time.Minute))
	if _, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-102"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.setNow(t0.Add(2 * time.Minute))
	if _, err := f.val.Submit(ctx, SubmitRequest{Token: s.Token, RollNo: "CS-101"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	recs, err := f.val.ClaimsForSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("claims for session: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(recs))
	}
	if !recs[0].MarkedAt.Before(recs[1].MarkedAt) {
		t.Error("session claims not in ascending marked_at order")
	}

	// A second session for the same student, later.
	s2 := f.createSession(t, "CS-3A", time.Hour)
	f.setNow(t0.Add(3 * time.Minute))
	if _, err := f.val.Submit(ctx, SubmitRequest{Token: s2.Token, RollNo: "CS-101"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	hist, err := f.val.ClaimsForStudent(ctx, "CS-101", 10)
	if err != nil {
		t.Fatalf("claims for student: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(hist))
	}
	if !hist[0].MarkedAt.After(hist[1].MarkedAt) {
		t.Error("student history not in descending marked_at order")
	}

	bounded, err := f.val.ClaimsForStudent(ctx, "CS-101", 1)
	if err != nil {
		t.Fatalf("claims for student bounded: %v", err)
	}
	if len(bounded) != 1 {
		t.Fatalf("limit not applied, got %d entries", len(bounded))
	}
	if bounded[0].SessionID != s2.ID {
		t.Error("bounded history did not keep the newest claim")
	}
}

func TestHistoryEmptySession(t *testing.T) {
	f := newFixture(t, false)
	s := f.createSession(t, "CS-3A", time.Hour)
	recs, err := f.val.ClaimsForSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("claims for empty session: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty slice, got %d", len(recs))
	}
}

func TestHistoryUnknownStudent(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.val.ClaimsForStudent(context.Background(), "ZZ-999", 10)
	if code := rejectionCode(t, err); code != CodeStudentNotFound {
		t.Errorf("code = %s, want %s", code, CodeStudentNotFound)
	}
}
