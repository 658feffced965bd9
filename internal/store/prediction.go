package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit is how many predictions Recent returns when asked
// for a non-positive number.
const DefaultHistoryLimit = 20

// Prediction is an accepted letter.
type Prediction struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id,omitempty"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// PredictionRepository stores the prediction history.
type PredictionRepository struct {
	db *sql.DB
}

// Predictions returns the prediction repository for this store.
func (s *Store) Predictions() *PredictionRepository {
	return &PredictionRepository{db: s.db}
}

// Create records a prediction. An empty ID is filled with a new UUID.
func (r *PredictionRepository) Create(p *Prediction) error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", p.Confidence)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	var session any
	if p.SessionID != "" {
		session = p.SessionID
	}

	_, err := r.db.Exec(
		`INSERT INTO predictions (id, session_id, label, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.ID, session, p.Label, p.Confidence, p.CreatedAt,
	)
	return err
}

// Recent returns the latest predictions, newest first.
func (r *PredictionRepository) Recent(limit int) ([]*Prediction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return r.query(
		`SELECT id, COALESCE(session_id, ''), label, confidence, created_at
		 FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
}

// BySession returns every prediction of a session in the order they were made.
func (r *PredictionRepository) BySession(sessionID string) ([]*Prediction, error) {
	return r.query(
		`SELECT id, COALESCE(session_id, ''), label, confidence, created_at
		 FROM predictions WHERE session_id = ? ORDER BY created_at, rowid`,
		sessionID,
	)
}

// Count returns the total number of stored predictions.
func (r *PredictionRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, err
}

func (r *PredictionRepository) query(q string, args ...any) ([]*Prediction, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Prediction
	for rows.Next() {
		p := &Prediction{}
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Label, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
