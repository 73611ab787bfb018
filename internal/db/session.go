package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one survey run. EndedAt is nil while the run is live;
// DefectCount is filled in when the session ends.
type Session struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	DefectCount int64      `json:"defect_count"`
}

// StartSession creates a new survey session and returns it.
func (db *DB) StartSession(ctx context.Context, notes string) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Notes:     notes,
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO survey_sessions (id, started_at, notes)
		VALUES (?, ?, ?)`,
		s.ID, s.StartedAt, s.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// EndSession closes a session, stamping the end time and counting the
// defects recorded under it.
func (db *DB) EndSession(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE survey_sessions
		SET
			ended_at = ?,
			defect_count = (SELECT COUNT(*) FROM defects WHERE session_id = ?)
		WHERE id = ?`,
		time.Now().UTC(), id, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionByID returns one session, or ErrNotFound.
func (db *DB) SessionByID(ctx context.Context, id string) (*Session, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, notes, defect_count
		FROM survey_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return s, nil
}

// RecentSessions returns the newest sessions, newest first.
func (db *DB) RecentSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, notes, defect_count
		FROM survey_sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func scanSession(row scanner) (*Session, error) {
	var (
		s     Session
		ended sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.StartedAt, &ended, &s.Notes, &s.DefectCount); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}
