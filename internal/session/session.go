package session

import "time"

// Session is a time-bounded attendance window identified by an opaque
// token. Validity is derived from the active flag and expiry, never
// stored.
type Session struct {
	ID        string
	Token     string
	TeacherID string
	Subject   string
	ClassName string
	Section   string
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
}

// Expired reports whether the session's window has passed. The boundary
// instant itself still counts as live.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Summary is a session with its accepted-claim count, used by the
// teacher dashboard listing.
type Summary struct {
	Session
	ClaimCount int
}
