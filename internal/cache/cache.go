// Package cache holds the transient per-run provider-settings snapshot.
// The store exists only so the settings cycle can compare "new" vs
// "pending" without re-fetching; it is removed at the start of each device
// cycle and carries no state across runs.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed settings snapshot cache
type Store struct {
	path string
	conn *sql.DB
}

// Open creates or opens the cache file and ensures its schema
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS settings_snapshot (
		serial     TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	)`
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &Store{path: path, conn: conn}, nil
}

// Put stores a settings snapshot, overwriting any previous snapshot for
// the same serial. Overwrite, never append.
func (s *Store) Put(serial string, payload []byte) error {
	query := `INSERT OR REPLACE INTO settings_snapshot (serial, payload, fetched_at) VALUES (?, ?, ?)`
	if _, err := s.conn.Exec(query, serial, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store snapshot for %s: %w", serial, err)
	}
	return nil
}

// Get returns the stored snapshot for a serial, or nil when none exists
func (s *Store) Get(serial string) ([]byte, error) {
	var payload []byte
	query := `SELECT payload FROM settings_snapshot WHERE serial = ?`
	err := s.conn.QueryRow(query, serial).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", serial, err)
	}
	return payload, nil
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Clean removes a stale cache file from a previous run. Missing files are
// not an error.
func Clean(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}
