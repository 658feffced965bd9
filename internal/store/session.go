package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session is one Start/Stop cycle of the recognizer.
type Session struct {
	ID        string     `json:"id"`
	ModelPath string     `json:"model_path"`
	Threshold float64    `json:"threshold"`
	Frames    uint64     `json:"frames"`
	Accepted  uint64     `json:"accepted"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// SessionRepository provides access to sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Start inserts an open session. An empty ID is filled with a new UUID.
func (r *SessionRepository) Start(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, model_path, threshold, frames, accepted, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ModelPath, sess.Threshold, sess.Frames, sess.Accepted, sess.StartedAt,
	)
	return err
}

// End closes a session and records its final counters.
func (r *SessionRepository) End(id string, frames, accepted uint64, at time.Time) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET frames = ?, accepted = ?, ended_at = ? WHERE id = ?`,
		frames, accepted, at, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, model_path, threshold, frames, accepted, started_at, ended_at
		 FROM sessions WHERE id = ?`,
		id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// List returns up to limit sessions, newest first.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	rows, err := r.db.Query(
		`SELECT id, model_path, threshold, frames, accepted, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	sess := &Session{}
	var ended sql.NullTime
	if err := sc.Scan(&sess.ID, &sess.ModelPath, &sess.Threshold, &sess.Frames, &sess.Accepted,
		&sess.StartedAt, &ended); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}
