// Package db is the embedded relational store for sessions, steps, and
// artifacts. It is an external collaborator per the specification, but the
// seam (a pure-Go sqlite driver behind a small Store type) still needs to
// exist in-process, so it is implemented and exercised here.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arcway-labs/pilot/internal/db/migrations"
)

// Store wraps the sqlite connection pool. Grounded on NeboLoop-nebo's
// internal/db/sqlite.go: WAL journal mode, synchronous NORMAL, and a
// single max-open/idle connection, which serializes all access — the spec
// describes writes as small and non-overlapping per session id, so a
// single connection is sufficient and avoids SQLITE_BUSY.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens the database, applies
// pragmas, runs migrations, and returns a ready Store.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db: create dir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	if err := migrations.Run(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: migrate: %w", err)
	}

	return &Store{db: sqlDB}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new sessions row.
func (s *Store) CreateSession(ctx context.Context, id, task, startURL, status string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, task, startUrl, status, createdAt, updatedAt) VALUES (?, ?, ?, ?, ?, ?)`,
		id, task, startURL, status, now, now,
	)
	if err != nil {
		return fmt.Errorf("db: create session: %w", err)
	}
	return nil
}

// UpdateSessionStatus updates status and updatedAt for an existing session.
func (s *Store) UpdateSessionStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updatedAt = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("db: update session status: %w", err)
	}
	return nil
}

// Step is one row of the steps table.
type Step struct {
	SessionID      string
	StepNumber     int
	Phase          string
	ActionType     string
	ActionDataJSON string
	Observation    string
	Error          string
}

// InsertStep appends a step row.
func (s *Store) InsertStep(ctx context.Context, step Step) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (sessionId, stepNumber, phase, actionType, actionDataJSON, observation, error, createdAt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.SessionID, step.StepNumber, step.Phase, nullIfEmpty(step.ActionType), nullIfEmpty(step.ActionDataJSON),
		nullIfEmpty(step.Observation), nullIfEmpty(step.Error), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("db: insert step: %w", err)
	}
	return nil
}

// RecentSteps returns the last limit steps for sessionID, newest first —
// the exact query documented in the specification's external-interfaces
// section, backing the short-term history store.
func (s *Store) RecentSteps(ctx context.Context, sessionID string, limit int) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sessionId, stepNumber, phase, COALESCE(actionType,''), COALESCE(actionDataJSON,''),
		        COALESCE(observation,''), COALESCE(error,'')
		 FROM steps WHERE sessionId = ? ORDER BY stepNumber DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("db: recent steps: %w", err)
	}
	defer rows.Close()

	var out []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.SessionID, &st.StepNumber, &st.Phase, &st.ActionType, &st.ActionDataJSON, &st.Observation, &st.Error); err != nil {
			return nil, fmt.Errorf("db: scan step: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// InsertArtifact records a screenshot or trace file against a step.
func (s *Store) InsertArtifact(ctx context.Context, sessionID string, stepNumber int, filePath, fileType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (sessionId, stepNumber, filePath, fileType, createdAt) VALUES (?, ?, ?, ?, ?)`,
		sessionID, stepNumber, filePath, fileType, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("db: insert artifact: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// MarshalActionData is a small helper so callers don't each reimplement
// "marshal or empty string".
func MarshalActionData(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
