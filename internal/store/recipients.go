package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const preferenceColumns = `recipient_id, publication_id, enabled, email_enabled, upload_enabled,
	folder, organize_by_year, position, send_count, last_sent_at`

// InsertRecipient creates a recipient. Returns the id on success, "" if the
// email already exists.
func (db *DB) InsertRecipient(email string) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		"INSERT INTO recipients (id, email) VALUES (?, ?)", id, email,
	)
	if err != nil {
		// Duplicate email constraint
		return "", nil //nolint: nilerr
	}
	return id, nil
}

// GetRecipientByEmail returns a recipient by email, or nil.
func (db *DB) GetRecipientByEmail(email string) (*Recipient, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, is_active, created_at FROM recipients WHERE email = ?", email,
	)
	r, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRecipients returns recipients ordered by email.
func (db *DB) ListRecipients(activeOnly bool) ([]Recipient, error) {
	query := "SELECT id, email, is_active, created_at FROM recipients"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY email"

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		var active int
		if err := rows.Scan(&r.ID, &r.Email, &active, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.IsActive = active != 0
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// SetRecipientActive flips a recipient's active flag.
func (db *DB) SetRecipientActive(id string, active bool) error {
	_, err := db.conn.Exec(
		"UPDATE recipients SET is_active = ? WHERE id = ?", boolToInt(active), id,
	)
	return err
}

// DeleteRecipient removes a recipient and all their preferences.
func (db *DB) DeleteRecipient(id string) error {
	if _, err := db.conn.Exec("DELETE FROM recipient_prefs WHERE recipient_id = ?", id); err != nil {
		return fmt.Errorf("deleting preferences: %w", err)
	}
	_, err := db.conn.Exec("DELETE FROM recipients WHERE id = ?", id)
	return err
}

// UpsertPreference creates or replaces a recipient's settings for one
// publication. Position, send counter and last-sent survive updates; new
// entries append to the end of the recipient's list.
func (db *DB) UpsertPreference(p Preference) error {
	_, err := db.conn.Exec(
		`INSERT INTO recipient_prefs (recipient_id, publication_id, enabled, email_enabled, upload_enabled, folder, organize_by_year, position)
		VALUES (?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM recipient_prefs WHERE recipient_id = ?))
		ON CONFLICT(recipient_id, publication_id) DO UPDATE SET
			enabled = excluded.enabled,
			email_enabled = excluded.email_enabled,
			upload_enabled = excluded.upload_enabled,
			folder = excluded.folder,
			organize_by_year = excluded.organize_by_year`,
		p.RecipientID, p.PublicationID, boolToInt(p.Enabled), p.EmailEnabled,
		p.UploadEnabled, p.Folder, p.OrganizeByYear, p.RecipientID,
	)
	if err != nil {
		return fmt.Errorf("storing preference: %w", err)
	}
	return nil
}

// GetPreference returns one preference entry, or nil.
func (db *DB) GetPreference(recipientID, publicationID string) (*Preference, error) {
	row := db.conn.QueryRow(
		"SELECT "+preferenceColumns+" FROM recipient_prefs WHERE recipient_id = ? AND publication_id = ?",
		recipientID, publicationID,
	)
	p, err := scanPreference(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPreferences returns a recipient's preference list in its defined order.
func (db *DB) GetPreferences(recipientID string) ([]Preference, error) {
	rows, err := db.conn.Query(
		"SELECT "+preferenceColumns+" FROM recipient_prefs WHERE recipient_id = ? ORDER BY position",
		recipientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		p, err := scanPreference(rows.Scan)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, *p)
	}
	return prefs, rows.Err()
}

// RemovePreference deletes one preference entry. Returns whether it existed.
func (db *DB) RemovePreference(recipientID, publicationID string) (bool, error) {
	res, err := db.conn.Exec(
		"DELETE FROM recipient_prefs WHERE recipient_id = ? AND publication_id = ?",
		recipientID, publicationID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PreferencesForPublication returns every recipient holding a preference
// entry for the publication, paired with that entry. Eligibility filtering
// (active, enabled, channel) happens in the resolver, not here.
func (db *DB) PreferencesForPublication(publicationID string) ([]RecipientPreference, error) {
	rows, err := db.conn.Query(
		`SELECT r.id, r.email, r.is_active, r.created_at,
			p.recipient_id, p.publication_id, p.enabled, p.email_enabled, p.upload_enabled,
			p.folder, p.organize_by_year, p.position, p.send_count, p.last_sent_at
		FROM recipients r
		JOIN recipient_prefs p ON p.recipient_id = r.id
		WHERE p.publication_id = ?
		ORDER BY p.position, r.email`,
		publicationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []RecipientPreference
	for rows.Next() {
		var rp RecipientPreference
		var rActive, pEnabled int
		if err := rows.Scan(&rp.Recipient.ID, &rp.Recipient.Email, &rActive, &rp.Recipient.CreatedAt,
			&rp.Pref.RecipientID, &rp.Pref.PublicationID, &pEnabled, &rp.Pref.EmailEnabled,
			&rp.Pref.UploadEnabled, &rp.Pref.Folder, &rp.Pref.OrganizeByYear,
			&rp.Pref.Position, &rp.Pref.SendCount, &rp.Pref.LastSentAt); err != nil {
			return nil, err
		}
		rp.Recipient.IsActive = rActive != 0
		rp.Pref.Enabled = pEnabled != 0
		pairs = append(pairs, rp)
	}
	return pairs, rows.Err()
}

// BumpPreferenceSent increments the send counter after an edition email
// actually went out to the recipient.
func (db *DB) BumpPreferenceSent(recipientID, publicationID string) error {
	_, err := db.conn.Exec(
		`UPDATE recipient_prefs SET send_count = send_count + 1, last_sent_at = datetime('now')
		WHERE recipient_id = ? AND publication_id = ?`,
		recipientID, publicationID,
	)
	return err
}

func scanRecipient(row *sql.Row) (*Recipient, error) {
	var r Recipient
	var active int
	if err := row.Scan(&r.ID, &r.Email, &active, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.IsActive = active != 0
	return &r, nil
}

func scanPreference(scan func(...any) error) (*Preference, error) {
	var p Preference
	var enabled int
	if err := scan(&p.RecipientID, &p.PublicationID, &enabled, &p.EmailEnabled,
		&p.UploadEnabled, &p.Folder, &p.OrganizeByYear, &p.Position,
		&p.SendCount, &p.LastSentAt); err != nil {
		return nil, err
	}
	p.Enabled = enabled != 0
	return &p, nil
}
