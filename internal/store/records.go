package store

import (
	"database/sql"
	"fmt"
	"log"

	sq "github.com/Masterminds/squirrel"
)

const recordColumns = `edition_key, title, publication_date, source_url, local_file, ingest_source,
	processed_at, downloaded_at, email_sent_at, uploaded_at, archived_at,
	archive_url, archive_path, archive_container, archive_size`

// IsProcessed reports whether any delivery record exists for the key. Any
// record at all counts as handled; per-channel state is not consulted here.
// Read errors degrade to false so an edition is re-processed rather than
// silently lost.
func (db *DB) IsProcessed(key string) bool {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM delivery_records WHERE edition_key = ?", key).Scan(&n)
	if err != nil {
		log.Printf("delivery record lookup failed for %s: %v", key, err)
		return false
	}
	return n > 0
}

// MarkProcessed upserts the core fields of a delivery record. Existing
// fields are only overwritten by non-nil values; the ingest source and the
// processed timestamp keep their first-touch values.
func (db *DB) MarkProcessed(key, title string, publicationDate, sourceURL, localFile *string, ingestSource string) error {
	_, err := db.conn.Exec(
		`INSERT INTO delivery_records (edition_key, title, publication_date, source_url, local_file, ingest_source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(edition_key) DO UPDATE SET
			title = excluded.title,
			publication_date = COALESCE(excluded.publication_date, publication_date),
			source_url = COALESCE(excluded.source_url, source_url),
			local_file = COALESCE(excluded.local_file, local_file)`,
		key, title, publicationDate, sourceURL, localFile, ingestSource,
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", key, err)
	}
	return nil
}

// MarkDownloaded timestamps the download channel. A timestamp, once set, is
// never overwritten.
func (db *DB) MarkDownloaded(key string) error {
	return db.markChannel(key, "downloaded_at")
}

// MarkEmailSent timestamps the email channel.
func (db *DB) MarkEmailSent(key string) error {
	return db.markChannel(key, "email_sent_at")
}

// MarkUploaded timestamps the cloud-folder upload channel.
func (db *DB) MarkUploaded(key string) error {
	return db.markChannel(key, "uploaded_at")
}

// markChannel sets a channel timestamp if it is still empty. Touching an
// already-timestamped or missing record is a no-op, not an error.
func (db *DB) markChannel(key, column string) error {
	_, err := db.conn.Exec(
		fmt.Sprintf("UPDATE delivery_records SET %s = datetime('now') WHERE edition_key = ? AND %s IS NULL", column, column),
		key,
	)
	if err != nil {
		return fmt.Errorf("marking %s for %s: %w", column, key, err)
	}
	return nil
}

// MarkArchived timestamps the archive channel and stores the storage-sink
// locator. The locator fields track the latest successful archive write; the
// timestamp keeps its first value.
func (db *DB) MarkArchived(key, url, path, container string, size int64) error {
	_, err := db.conn.Exec(
		`UPDATE delivery_records SET
			archived_at = COALESCE(archived_at, datetime('now')),
			archive_url = ?, archive_path = ?, archive_container = ?, archive_size = ?
		WHERE edition_key = ?`,
		url, path, container, size, key,
	)
	if err != nil {
		return fmt.Errorf("marking archive for %s: %w", key, err)
	}
	return nil
}

// GetRecord returns a single delivery record, or nil if none exists.
func (db *DB) GetRecord(key string) (*DeliveryRecord, error) {
	row := db.conn.QueryRow(
		"SELECT "+recordColumns+" FROM delivery_records WHERE edition_key = ?", key,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ForceClear deletes a delivery record so the edition is redone from scratch
// on the next run. Already-delivered artifacts are untouched. Returns
// whether a record existed.
func (db *DB) ForceClear(key string) (bool, error) {
	res, err := db.conn.Exec("DELETE FROM delivery_records WHERE edition_key = ?", key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeOlderThan deletes records whose processed timestamp is older than the
// given number of days. Returns the number of deleted records.
func (db *DB) PurgeOlderThan(days int) (int64, error) {
	res, err := db.conn.Exec(
		"DELETE FROM delivery_records WHERE processed_at < datetime('now', ?)",
		fmt.Sprintf("-%d days", days),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListRecords returns delivery records matching the filter, newest first.
func (db *DB) ListRecords(f RecordFilter) ([]DeliveryRecord, error) {
	q := sq.Select(recordColumns).From("delivery_records").OrderBy("processed_at DESC")
	if f.TitleLike != "" {
		q = q.Where(sq.Like{"title": "%" + f.TitleLike + "%"})
	}
	if f.Since != "" {
		q = q.Where(sq.GtOrEq{"processed_at": f.Since})
	}
	if f.MissingChannel != "" {
		col, ok := channelColumn(f.MissingChannel)
		if !ok {
			return nil, fmt.Errorf("unknown channel %q", f.MissingChannel)
		}
		q = q.Where(sq.Eq{col: nil})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func channelColumn(channel string) (string, bool) {
	switch channel {
	case "download":
		return "downloaded_at", true
	case "email":
		return "email_sent_at", true
	case "upload":
		return "uploaded_at", true
	case "archive":
		return "archived_at", true
	}
	return "", false
}

func scanRecords(rows *sql.Rows) ([]DeliveryRecord, error) {
	var records []DeliveryRecord
	for rows.Next() {
		var r DeliveryRecord
		if err := rows.Scan(&r.EditionKey, &r.Title, &r.PublicationDate, &r.SourceURL,
			&r.LocalFile, &r.IngestSource, &r.ProcessedAt, &r.DownloadedAt, &r.EmailSentAt,
			&r.UploadedAt, &r.ArchivedAt, &r.ArchiveURL, &r.ArchivePath,
			&r.ArchiveContainer, &r.ArchiveSize); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(row *sql.Row) (*DeliveryRecord, error) {
	var r DeliveryRecord
	if err := row.Scan(&r.EditionKey, &r.Title, &r.PublicationDate, &r.SourceURL,
		&r.LocalFile, &r.IngestSource, &r.ProcessedAt, &r.DownloadedAt, &r.EmailSentAt,
		&r.UploadedAt, &r.ArchivedAt, &r.ArchiveURL, &r.ArchivePath,
		&r.ArchiveContainer, &r.ArchiveSize); err != nil {
		return nil, err
	}
	return &r, nil
}
