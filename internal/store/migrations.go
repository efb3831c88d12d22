package store

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS delivery_records (
    edition_key TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    publication_date TEXT,
    source_url TEXT,
    local_file TEXT,
    ingest_source TEXT,
    processed_at TEXT DEFAULT (datetime('now')),
    downloaded_at TEXT,
    email_sent_at TEXT,
    uploaded_at TEXT,
    archived_at TEXT,
    archive_url TEXT,
    archive_path TEXT,
    archive_container TEXT,
    archive_size INTEGER
);

CREATE TABLE IF NOT EXISTS publications (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    subscription_id TEXT,
    subscription_number TEXT,
    valid_from TEXT,
    valid_until TEXT,
    email_enabled INTEGER DEFAULT 1,
    upload_enabled INTEGER DEFAULT 1,
    folder TEXT NOT NULL DEFAULT '',
    organize_by_year INTEGER DEFAULT 1,
    is_active INTEGER DEFAULT 1,
    first_seen TEXT DEFAULT (datetime('now')),
    last_seen TEXT,
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS recipients (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    is_active INTEGER DEFAULT 1,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS recipient_prefs (
    recipient_id TEXT NOT NULL REFERENCES recipients(id),
    publication_id TEXT NOT NULL REFERENCES publications(id),
    enabled INTEGER DEFAULT 1,
    email_enabled INTEGER,
    upload_enabled INTEGER,
    folder TEXT,
    organize_by_year INTEGER,
    position INTEGER DEFAULT 0,
    send_count INTEGER DEFAULT 0,
    last_sent_at TEXT,
    PRIMARY KEY (recipient_id, publication_id)
);

CREATE INDEX IF NOT EXISTS idx_records_processed ON delivery_records(processed_at);
CREATE INDEX IF NOT EXISTS idx_records_title ON delivery_records(title);
CREATE INDEX IF NOT EXISTS idx_publications_subscription ON publications(subscription_id);
CREATE INDEX IF NOT EXISTS idx_publications_number ON publications(subscription_number);
CREATE INDEX IF NOT EXISTS idx_prefs_publication ON recipient_prefs(publication_id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
