package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Validation failure reasons. Validate returns exactly one of these or
// the session itself; no other component derives validity on its own.
var (
	ErrNotFound = errors.New("session: token not found")
	ErrInactive = errors.New("session: deactivated")
	ErrExpired  = errors.New("session: expired")
)

// Store is the persistence surface the registry needs.
type Store interface {
	Insert(ctx context.Context, s Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	GetByID(ctx context.Context, id string) (*Session, error)
	SetInactive(ctx context.Context, id string) (bool, error)
	ListByTeacher(ctx context.Context, teacherID string, limit int) ([]Summary, error)
}

// Registry creates sessions and is the sole authority on their validity.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry creates a registry backed by a store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the registry clock, for tests.
func (g *Registry) WithClock(now func() time.Time) *Registry {
	g.now = now
	return g
}

// Create issues a fresh session with an unguessable token and persists
// it before returning. The token is a v4 UUID: 122 bits of randomness,
// treated as an opaque string everywhere downstream.
func (g *Registry) Create(ctx context.Context, teacherID, subject, className, section string, ttl time.Duration) (Session, error) {
	if teacherID == "" || subject == "" || className == "" {
		return Session{}, errors.New("session: teacher, subject and class required")
	}
	if ttl <= 0 {
		return Session{}, errors.New("session: ttl must be positive")
	}
	now := g.now()
	s := Session{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		TeacherID: teacherID,
		Subject:   subject,
		ClassName: className,
		Section:   section,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Active:    true,
	}
	if err := g.store.Insert(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Lookup returns the session for a token regardless of validity.
func (g *Registry) Lookup(ctx context.Context, token string) (Session, error) {
	s, err := g.store.GetByToken(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if s == nil {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// Validate resolves a token and checks the session is live: active and
// not past its expiry. Returns ErrNotFound, ErrInactive or ErrExpired.
func (g *Registry) Validate(ctx context.Context, token string) (Session, error) {
	s, err := g.Lookup(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if !s.Active {
		return Session{}, ErrInactive
	}
	if s.Expired(g.now()) {
		return Session{}, ErrExpired
	}
	return s, nil
}

// Deactivate turns a session off ahead of its natural expiry. The
// transition is one-way and idempotent; only an unknown id is an error.
func (g *Registry) Deactivate(ctx context.Context, id string) error {
	found, err := g.store.SetInactive(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Get returns a session by id.
func (g *Registry) Get(ctx context.Context, id string) (Session, error) {
	s, err := g.store.GetByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s == nil {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

// ListByTeacher returns a teacher's recent sessions with claim counts.
func (g *Registry) ListByTeacher(ctx context.Context, teacherID string, limit int) ([]Summary, error) {
	return g.store.ListByTeacher(ctx, teacherID, limit)
}
