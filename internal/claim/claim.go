// Package claim decides whether a scanned token marks a student present
// and records the decision exactly once per (session, student) pair.
package claim

import (
	"fmt"
	"time"
)

// Claim is a single recorded attendance. Claims are written once and
// never updated or deleted by this service.
type Claim struct {
	ID        string
	SessionID string
	StudentID string
	MarkedAt  time.Time
	IPAddress string
	UserAgent string
}

// Record is a claim joined with the student and session it belongs to,
// for reporting.
type Record struct {
	Claim
	StudentName string
	RollNo      string
	Subject     string
	ClassName   string
}

// Code identifies why a submission was rejected. The set is closed:
// every rejected submission carries exactly one of these, and callers
// can rely on the strings as a stable wire contract.
type Code string

const (
	CodeTokenNotFound    Code = "token_not_found"
	CodeSessionInactive  Code = "session_inactive"
	CodeSessionExpired   Code = "session_expired"
	CodeStudentNotFound  Code = "student_not_found"
	CodeWrongClass       Code = "wrong_class"
	CodeIdentityMismatch Code = "identity_mismatch"
	CodeAlreadyClaimed   Code = "already_claimed"
)

// RejectionError is an expected, user-facing submission outcome. Any
// other error from Submit means the store itself failed and the caller
// decides retry policy; retrying is safe because the insert is
// idempotent per pair.
type RejectionError struct {
	Code    Code
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("claim rejected (%s): %s", e.Code, e.Message)
}

func reject(code Code, msg string) *RejectionError {
	return &RejectionError{Code: code, Message: msg}
}

// Receipt is returned for an accepted claim.
type Receipt struct {
	SessionID   string
	StudentName string
	MarkedAt    time.Time
}
