package claim

import (
	"context"
	"errors"
	"strings"

	"rollcall/internal/roster"
	"rollcall/internal/session"
)

// Store is the persistence surface the validator needs. Insert must be
// atomic: the duplicate check and the write are a single operation.
type Store interface {
	Insert(ctx context.Context, c Claim) (Claim, bool, error)
	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
	ListByStudent(ctx context.Context, studentID string, limit int) ([]Record, error)
}

// SessionValidator is the registry as seen by the validator. All
// validity decisions go through it.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (session.Session, error)
}

// SubmitRequest is one attendance submission. StudentName and
// FatherName are optional identity hints; IPAddress and UserAgent are
// provenance only and never affect the decision.
type SubmitRequest struct {
	Token       string
	RollNo      string
	StudentName string
	FatherName  string
	IPAddress   string
	UserAgent   string
}

// Validator is the attendance state machine. For each (session,
// student) pair a submission either moves it from unclaimed to claimed
// or reports why not; there is no third state.
type Validator struct {
	sessions SessionValidator
	roster   roster.Lookup
	store    Store

	// strictIdentity checks any supplied identity field against the
	// roster. When false, the check runs only when both the student
	// name and the father name are supplied.
	strictIdentity bool
}

// NewValidator wires the validator to its collaborators.
func NewValidator(sessions SessionValidator, ros roster.Lookup, store Store, strictIdentity bool) *Validator {
	return &Validator{sessions: sessions, roster: ros, store: store, strictIdentity: strictIdentity}
}

// Submit evaluates one attendance submission. The outcome is either a
// Receipt or a *RejectionError with a stable code; anything else is a
// store failure. Resubmitting after already_claimed returns
// already_claimed forever and never records twice.
func (v *Validator) Submit(ctx context.Context, req SubmitRequest) (Receipt, error) {
	if req.Token == "" || req.RollNo == "" {
		return Receipt{}, errors.New("claim: token and roll number required")
	}

	sess, err := v.sessions.Validate(ctx, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return Receipt{}, reject(CodeTokenNotFound, "invalid session token")
		case errors.Is(err, session.ErrInactive):
			return Receipt{}, reject(CodeSessionInactive, "session has been closed")
		case errors.Is(err, session.ErrExpired):
			return Receipt{}, reject(CodeSessionExpired, "session has expired")
		}
		return Receipt{}, err
	}

	student, err := v.roster.Resolve(ctx, req.RollNo)
	if err != nil {
		return Receipt{}, err
	}
	if student == nil {
		return Receipt{}, reject(CodeStudentNotFound, "no student with this roll number")
	}

	if student.ClassName != sess.ClassName {
		return Receipt{}, reject(CodeWrongClass, "student not enrolled in this class")
	}

	if rej := v.checkIdentity(student, req); rej != nil {
		return Receipt{}, rej
	}

	rec, inserted, err := v.store.Insert(ctx, Claim{
		SessionID: sess.ID,
		StudentID: student.ID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return Receipt{}, err
	}
	if !inserted {
		return Receipt{}, reject(CodeAlreadyClaimed, "attendance already marked for this session")
	}

	return Receipt{SessionID: sess.ID, StudentName: student.Name, MarkedAt: rec.MarkedAt}, nil
}

// checkIdentity is the advisory cross-check of supplied names against
// the roster. It guards against someone typing a classmate's roll
// number; it is not a security boundary.
func (v *Validator) checkIdentity(student *roster.Student, req SubmitRequest) *RejectionError {
	checkName := req.StudentName != ""
	checkFather := req.FatherName != ""
	if !v.strictIdentity {
		// Original behavior: both fields or no check at all.
		if !checkName || !checkFather {
			return nil
		}
	}
	if checkName && !strings.EqualFold(student.Name, req.StudentName) {
		return reject(CodeIdentityMismatch, "student name does not match the roll number")
	}
	if checkFather && student.FatherName != "" && !strings.EqualFold(student.FatherName, req.FatherName) {
		return reject(CodeIdentityMismatch, "father's name does not match the student record")
	}
	return nil
}

// ClaimsForSession lists a session's claims ordered by marked_at
// ascending. A session with no claims yields an empty slice.
func (v *Validator) ClaimsForSession(ctx context.Context, sessionID string) ([]Record, error) {
	return v.store.ListBySession(ctx, sessionID)
}

// ClaimsForStudent lists a student's history newest first, at most
// limit entries (default 50).
func (v *Validator) ClaimsForStudent(ctx context.Context, rollNo string, limit int) ([]Record, error) {
	student, err := v.roster.Resolve(ctx, rollNo)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, reject(CodeStudentNotFound, "no student with this roll number")
	}
	return v.store.ListByStudent(ctx, student.ID, limit)
}
