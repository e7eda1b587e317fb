package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults and applies the schema.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

// migrate applies the schema. The UNIQUE (session_id, student_id) constraint
// on claims is the mechanism behind single-claim-per-student enforcement.
func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS teachers (
		id            UUID PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS students (
		id          UUID PRIMARY KEY,
		roll_no     TEXT UNIQUE NOT NULL,
		name        TEXT NOT NULL,
		class_name  TEXT NOT NULL,
		email       TEXT UNIQUE,
		father_name TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id         UUID PRIMARY KEY,
		token      TEXT UNIQUE NOT NULL,
		teacher_id UUID NOT NULL REFERENCES teachers(id),
		subject    TEXT NOT NULL,
		class_name TEXT NOT NULL,
		section    TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		active     BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS claims (
		id         UUID PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES sessions(id),
		student_id UUID NOT NULL REFERENCES students(id),
		marked_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ip_address TEXT,
		user_agent TEXT,
		UNIQUE (session_id, student_id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_teacher ON sessions(teacher_id);
	CREATE INDEX IF NOT EXISTS idx_claims_session   ON claims(session_id);
	CREATE INDEX IF NOT EXISTS idx_claims_student   ON claims(student_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
