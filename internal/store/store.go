package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite tracking store holding delivery records, the
// publication catalog, recipients and their preferences.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the tracking store at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// GetStats returns aggregate statistics for the status command.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	row := db.conn.QueryRow(`SELECT
		COUNT(*),
		COUNT(downloaded_at),
		COUNT(email_sent_at),
		COUNT(uploaded_at),
		COUNT(archived_at)
		FROM delivery_records`)
	if err := row.Scan(&s.Editions, &s.Downloaded, &s.Emailed, &s.Uploaded, &s.Archived); err != nil {
		return nil, err
	}

	row = db.conn.QueryRow("SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM publications")
	if err := row.Scan(&s.Publications, &s.ActivePublications); err != nil {
		return nil, err
	}

	row = db.conn.QueryRow("SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM recipients")
	if err := row.Scan(&s.Recipients, &s.ActiveRecipients); err != nil {
		return nil, err
	}

	if err := db.conn.QueryRow("SELECT COUNT(*) FROM recipient_prefs").Scan(&s.Preferences); err != nil {
		return nil, err
	}

	return s, nil
}
