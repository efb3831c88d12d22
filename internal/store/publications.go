package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const publicationColumns = `id, name, subscription_id, subscription_number, valid_from, valid_until,
	email_enabled, upload_enabled, folder, organize_by_year, is_active, first_seen, last_seen, updated_at`

// InsertPublication creates a catalog entry and returns its id. New
// publications start active with both channels enabled; deliveries still
// require explicit recipient opt-in.
func (db *DB) InsertPublication(name string, subscriptionID, subscriptionNumber, validFrom, validUntil *string, folder string) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		`INSERT INTO publications (id, name, subscription_id, subscription_number, valid_from, valid_until, folder, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
		id, name, subscriptionID, subscriptionNumber, validFrom, validUntil, folder,
	)
	if err != nil {
		return "", fmt.Errorf("inserting publication %q: %w", name, err)
	}
	return id, nil
}

// GetPublication returns a publication by catalog id, or nil.
func (db *DB) GetPublication(id string) (*Publication, error) {
	row := db.conn.QueryRow(
		"SELECT "+publicationColumns+" FROM publications WHERE id = ?", id,
	)
	return nilOnNoRows(scanPublication(row))
}

// GetPublicationBySubscriptionID returns the catalog entry linked to the
// given portal subscription id, preferring an active one.
func (db *DB) GetPublicationBySubscriptionID(subscriptionID string) (*Publication, error) {
	row := db.conn.QueryRow(
		"SELECT "+publicationColumns+` FROM publications
		WHERE subscription_id = ?
		ORDER BY is_active DESC, COALESCE(last_seen, first_seen) DESC LIMIT 1`,
		subscriptionID,
	)
	return nilOnNoRows(scanPublication(row))
}

// FindRenewalCandidate returns the best catalog entry for a subscription
// number whose id changed upstream: an inactive or expired publication with
// the same number, most recently active first.
func (db *DB) FindRenewalCandidate(subscriptionNumber string) (*Publication, error) {
	row := db.conn.QueryRow(
		"SELECT "+publicationColumns+` FROM publications
		WHERE subscription_number = ?
		  AND (is_active = 0 OR (valid_until IS NOT NULL AND valid_until < date('now')))
		ORDER BY COALESCE(last_seen, first_seen) DESC, updated_at DESC LIMIT 1`,
		subscriptionNumber,
	)
	return nilOnNoRows(scanPublication(row))
}

// RenewPublication relinks an existing catalog entry to a new subscription
// id issued by the provider. The row is updated in place so folder, channel
// flags and every recipient preference keyed on the catalog id carry
// forward.
func (db *DB) RenewPublication(id, subscriptionID, name string, validFrom, validUntil *string) error {
	_, err := db.conn.Exec(
		`UPDATE publications SET
			subscription_id = ?, name = ?, valid_from = ?, valid_until = ?,
			is_active = 1, last_seen = datetime('now'), updated_at = datetime('now')
		WHERE id = ?`,
		subscriptionID, name, validFrom, validUntil, id,
	)
	return err
}

// TouchPublication refreshes discovery bookkeeping for a subscription that
// is still visible upstream.
func (db *DB) TouchPublication(id, name string, validFrom, validUntil *string) error {
	_, err := db.conn.Exec(
		`UPDATE publications SET
			name = ?, valid_from = COALESCE(?, valid_from), valid_until = COALESCE(?, valid_until),
			is_active = 1, last_seen = datetime('now'), updated_at = datetime('now')
		WHERE id = ?`,
		name, validFrom, validUntil, id,
	)
	return err
}

// SetPublicationActive flips the active flag. Publications are never
// hard-deleted; past deliveries must stay attributable.
func (db *DB) SetPublicationActive(id string, active bool) error {
	_, err := db.conn.Exec(
		"UPDATE publications SET is_active = ?, updated_at = datetime('now') WHERE id = ?",
		boolToInt(active), id,
	)
	return err
}

// UpdatePublication updates the delivery defaults that are set. Nil fields
// stay untouched.
func (db *DB) UpdatePublication(id string, emailEnabled, uploadEnabled, organizeByYear *bool, folder *string) error {
	var updates []string
	var args []any

	if emailEnabled != nil {
		updates = append(updates, "email_enabled = ?")
		args = append(args, boolToInt(*emailEnabled))
	}
	if uploadEnabled != nil {
		updates = append(updates, "upload_enabled = ?")
		args = append(args, boolToInt(*uploadEnabled))
	}
	if organizeByYear != nil {
		updates = append(updates, "organize_by_year = ?")
		args = append(args, boolToInt(*organizeByYear))
	}
	if folder != nil {
		updates = append(updates, "folder = ?")
		args = append(args, *folder)
	}
	if len(updates) == 0 {
		return nil
	}

	updates = append(updates, "updated_at = datetime('now')")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE publications SET %s WHERE id = ?", strings.Join(updates, ", "))
	_, err := db.conn.Exec(query, args...)
	return err
}

// ListPublications returns catalog entries, optionally only active ones,
// ordered by name.
func (db *DB) ListPublications(activeOnly bool) ([]Publication, error) {
	query := "SELECT " + publicationColumns + " FROM publications"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPublications(rows)
}

// FindPublication resolves a CLI reference: catalog id, subscription id, or
// (case-insensitive) name.
func (db *DB) FindPublication(ref string) (*Publication, error) {
	if p, err := db.GetPublication(ref); err != nil || p != nil {
		return p, err
	}
	if p, err := db.GetPublicationBySubscriptionID(ref); err != nil || p != nil {
		return p, err
	}
	row := db.conn.QueryRow(
		"SELECT "+publicationColumns+" FROM publications WHERE name = ? COLLATE NOCASE ORDER BY is_active DESC LIMIT 1",
		ref,
	)
	return nilOnNoRows(scanPublication(row))
}

func scanPublications(rows *sql.Rows) ([]Publication, error) {
	var pubs []Publication
	for rows.Next() {
		p, err := scanPublicationFields(rows.Scan)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, *p)
	}
	return pubs, rows.Err()
}

func scanPublication(row *sql.Row) (*Publication, error) {
	return scanPublicationFields(row.Scan)
}

func scanPublicationFields(scan func(...any) error) (*Publication, error) {
	var p Publication
	var email, upload, organize, active int
	if err := scan(&p.ID, &p.Name, &p.SubscriptionID, &p.SubscriptionNumber,
		&p.ValidFrom, &p.ValidUntil, &email, &upload, &p.Folder, &organize,
		&active, &p.FirstSeen, &p.LastSeen, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.EmailEnabled = email != 0
	p.UploadEnabled = upload != 0
	p.OrganizeByYear = organize != 0
	p.IsActive = active != 0
	return &p, nil
}

func nilOnNoRows(p *Publication, err error) (*Publication, error) {
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
