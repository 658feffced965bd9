package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// KeyThreshold is the settings key for the acceptance threshold.
const KeyThreshold = "threshold"

// SettingsRepository is a key/value view of the settings table.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value for key or ErrNotFound.
func (r *SettingsRepository) Get(key string) (string, error) {
	var v string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

// Set inserts or replaces a value.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// Threshold returns the stored acceptance threshold, or def when none is stored.
func (r *SettingsRepository) Threshold(def float64) (float64, error) {
	v, err := r.Get(KeyThreshold)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("stored threshold %q: %w", v, err)
	}
	return f, nil
}

// SetThreshold stores the acceptance threshold.
func (r *SettingsRepository) SetThreshold(v float64) error {
	return r.Set(KeyThreshold, strconv.FormatFloat(v, 'f', -1, 64))
}
