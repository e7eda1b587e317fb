// Package roster is the read-only system of record for students. The
// claim validator resolves roll numbers through it; nothing in this
// service writes roster rows outside of seeding.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Student is a roster entry. RollNo is the stable identity key; name
// and father name are display attributes used only for the advisory
// identity cross-check.
type Student struct {
	ID         string
	RollNo     string
	Name       string
	ClassName  string
	Email      string
	FatherName string
	CreatedAt  time.Time
}

// Lookup resolves roll numbers to roster entries. Returns nil, nil when
// the roll number is unknown.
type Lookup interface {
	Resolve(ctx context.Context, rollNo string) (*Student, error)
}

// Repository reads the roster from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Resolve returns the student with the given roll number, or nil when absent.
func (r *Repository) Resolve(ctx context.Context, rollNo string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, roll_no, name, class_name, COALESCE(email,''), COALESCE(father_name,''), created_at
		FROM students WHERE roll_no = $1
	`, rollNo)
	var st Student
	if err := row.Scan(&st.ID, &st.RollNo, &st.Name, &st.ClassName, &st.Email, &st.FatherName, &st.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// List returns the full roster ordered by roll number.
func (r *Repository) List(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, roll_no, name, class_name, COALESCE(email,''), COALESCE(father_name,''), created_at
		FROM students ORDER BY roll_no
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.RollNo, &st.Name, &st.ClassName, &st.Email, &st.FatherName, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// Upsert creates or refreshes a roster entry, used by seeding.
func (r *Repository) Upsert(ctx context.Context, st Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, roll_no, name, class_name, email, father_name)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''))
		ON CONFLICT (roll_no) DO UPDATE SET
			name = EXCLUDED.name,
			class_name = EXCLUDED.class_name,
			email = EXCLUDED.email,
			father_name = EXCLUDED.father_name
	`, st.ID, st.RollNo, st.Name, st.ClassName, st.Email, st.FatherName)
	return err
}
