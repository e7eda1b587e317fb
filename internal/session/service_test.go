package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store for registry tests.
type memStore struct {
	mu      sync.Mutex
	byToken map[string]*Session
	byID    map[string]*Session
}

func newMemStore() *memStore {
	return &memStore{byToken: make(map[string]*Session), byID: make(map[string]*Session)}
}

func (m *memStore) Insert(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byToken[s.Token]; dup {
		return errors.New("duplicate token")
	}
	cp := s
	m.byToken[s.Token] = &cp
	m.byID[s.ID] = &cp
	return nil
}

func (m *memStore) GetByToken(_ context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byToken[token]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) SetInactive(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	s.Active = false
	return true, nil
}

func (m *memStore) ListByTeacher(_ context.Context, teacherID string, limit int) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Summary
	for _, s := range m.byID {
		if s.TeacherID == teacherID {
			res = append(res, Summary{Session: *s})
		}
	}
	return res, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreateSetsWindowAndToken(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	reg := NewRegistry(newMemStore()).WithClock(fixedClock(t0))

	s, err := reg.Create(context.Background(), "teacher-1", "Physics", "P-2", "B", 10*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Token == "" || len(s.Token) < 32 {
		t.Errorf("token too short to be a uuid: %q", s.Token)
	}
	if !s.CreatedAt.Equal(t0) {
		t.Errorf("created_at = %v, want %v", s.CreatedAt, t0)
	}
	if !s.ExpiresAt.Equal(t0.Add(10 * time.Minute)) {
		t.Errorf("expires_at = %v, want %v", s.ExpiresAt, t0.Add(10*time.Minute))
	}
	if !s.Active {
		t.Error("new session not active")
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	reg := NewRegistry(newMemStore())
	if _, err := reg.Create(context.Background(), "", "Physics", "P-2", "", time.Minute); err == nil {
		t.Error("expected error for missing teacher")
	}
	if _, err := reg.Create(context.Background(), "t", "Physics", "P-2", "", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
	if _, err := reg.Create(context.Background(), "t", "Physics", "P-2", "", -time.Minute); err == nil {
		t.Error("expected error for negative ttl")
	}
}

func TestTokensAreUnique(t *testing.T) {
	reg := NewRegistry(newMemStore())
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		s, err := reg.Create(context.Background(), "t", "Math", "M-1", "", time.Minute)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[s.Token] {
			t.Fatalf("duplicate token on iteration %d", i)
		}
		seen[s.Token] = true
	}
}

func TestValidateLifecycle(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	now := t0
	store := newMemStore()
	reg := NewRegistry(store).WithClock(func() time.Time { return now })

	s, err := reg.Create(context.Background(), "t", "Math", "M-1", "", 10*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := reg.Validate(context.Background(), s.Token); err != nil {
		t.Fatalf("validate fresh session: %v", err)
	}

	// Still live at the boundary instant.
	now = t0.Add(10 * time.Minute)
	if _, err := reg.Validate(context.Background(), s.Token); err != nil {
		t.Fatalf("validate at expiry boundary: %v", err)
	}

	// Permanently expired past the boundary.
	now = t0.Add(10*time.Minute + time.Second)
	if _, err := reg.Validate(context.Background(), s.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	now = t0.Add(time.Hour)
	if _, err := reg.Validate(context.Background(), s.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired to persist, got %v", err)
	}
}

func TestValidateUnknownToken(t *testing.T) {
	reg := NewRegistry(newMemStore())
	if _, err := reg.Validate(context.Background(), "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeactivateIsIdempotent(t *testing.T) {
	reg := NewRegistry(newMemStore())
	s, err := reg.Create(context.Background(), "t", "Math", "M-1", "", 10*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := reg.Deactivate(context.Background(), s.ID); err != nil {
		t.Fatalf("first deactivate: %v", err)
	}
	if err := reg.Deactivate(context.Background(), s.ID); err != nil {
		t.Fatalf("second deactivate should not error: %v", err)
	}

	got, err := reg.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Error("session still active after deactivation")
	}
	if _, err := reg.Validate(context.Background(), s.Token); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
}

func TestDeactivateUnknownID(t *testing.T) {
	reg := NewRegistry(newMemStore())
	if err := reg.Deactivate(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
