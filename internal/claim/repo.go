package claim

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// Repository persists claims in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert records a claim if the (session, student) pair has none yet.
// The conflict target is the table's unique constraint, so the check
// and the write are one statement: concurrent submissions for the same
// pair can never both insert. Returns inserted=false on a duplicate.
// MarkedAt is assigned by the database, never by the client.
func (r *Repository) Insert(ctx context.Context, c Claim) (Claim, bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO claims (id, session_id, student_id, ip_address, user_agent)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''))
		ON CONFLICT (session_id, student_id) DO NOTHING
		RETURNING marked_at
	`, c.ID, c.SessionID, c.StudentID, c.IPAddress, c.UserAgent)
	if err := row.Scan(&c.MarkedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Claim{}, false, nil
		}
		return Claim{}, false, err
	}
	return c, true, nil
}

// ListBySession returns a session's claims oldest first. The id is the
// tiebreaker so the order is stable for equal timestamps.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.session_id, c.student_id, c.marked_at,
		       COALESCE(c.ip_address,''), COALESCE(c.user_agent,''),
		       st.name, st.roll_no, s.subject, s.class_name
		FROM claims c
		JOIN students st ON st.id = c.student_id
		JOIN sessions s  ON s.id = c.session_id
		WHERE c.session_id = $1
		ORDER BY c.marked_at ASC, c.id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// ListByStudent returns a student's claims newest first, bounded.
func (r *Repository) ListByStudent(ctx context.Context, studentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.session_id, c.student_id, c.marked_at,
		       COALESCE(c.ip_address,''), COALESCE(c.user_agent,''),
		       st.name, st.roll_no, s.subject, s.class_name
		FROM claims c
		JOIN students st ON st.id = c.student_id
		JOIN sessions s  ON s.id = c.session_id
		WHERE c.student_id = $1
		ORDER BY c.marked_at DESC, c.id DESC
		LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.MarkedAt,
			&rec.IPAddress, &rec.UserAgent, &rec.StudentName, &rec.RollNo, &rec.Subject, &rec.ClassName); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
