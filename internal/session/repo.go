package session

import (
	"context"
	"database/sql"
	"errors"
)

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token, teacher_id, subject, class_name, section, created_at, expires_at, active)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9)
	`, s.ID, s.Token, s.TeacherID, s.Subject, s.ClassName, s.Section, s.CreatedAt, s.ExpiresAt, s.Active)
	return err
}

// GetByToken returns the session for a token, or nil when absent.
func (r *Repository) GetByToken(ctx context.Context, token string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, token, teacher_id, subject, class_name, COALESCE(section,''), created_at, expires_at, active
		FROM sessions WHERE token = $1
	`, token)
	return scanSession(row)
}

// GetByID returns the session by primary key, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, token, teacher_id, subject, class_name, COALESCE(section,''), created_at, expires_at, active
		FROM sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.Token, &s.TeacherID, &s.Subject, &s.ClassName, &s.Section, &s.CreatedAt, &s.ExpiresAt, &s.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// SetInactive flips the active flag off. Returns false when no session
// has the given id. Re-deactivating is a no-op that still reports true.
func (r *Repository) SetInactive(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// UPDATE matches rows regardless of current value, so zero rows
	// means the id does not exist.
	return false, nil
}

// ListByTeacher returns a teacher's sessions, newest first, with
// accepted-claim counts.
func (r *Repository) ListByTeacher(ctx context.Context, teacherID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.token, s.teacher_id, s.subject, s.class_name, COALESCE(s.section,''),
		       s.created_at, s.expires_at, s.active, COUNT(c.id)
		FROM sessions s
		LEFT JOIN claims c ON c.session_id = s.id
		WHERE s.teacher_id = $1
		GROUP BY s.id
		ORDER BY s.created_at DESC
		LIMIT $2
	`, teacherID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.Token, &sm.TeacherID, &sm.Subject, &sm.ClassName, &sm.Section,
			&sm.CreatedAt, &sm.ExpiresAt, &sm.Active, &sm.ClaimCount); err != nil {
			return nil, err
		}
		res = append(res, sm)
	}
	return res, rows.Err()
}
