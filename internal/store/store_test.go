package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

// addPublication inserts a minimal catalog entry for tests and returns its id.
func addPublication(t *testing.T, db *DB, name, subscriptionID, subscriptionNumber string) string {
	t.Helper()
	id, err := db.InsertPublication(name, ptr(subscriptionID), ptr(subscriptionNumber), nil, nil, name)
	if err != nil {
		t.Fatalf("insert publication: %v", err)
	}
	return id
}

// addRecipient inserts a recipient for tests and returns its id.
func addRecipient(t *testing.T, db *DB, email string) string {
	t.Helper()
	id, err := db.InsertRecipient(email)
	if err != nil {
		t.Fatalf("insert recipient: %v", err)
	}
	if id == "" {
		t.Fatalf("recipient %s already exists", email)
	}
	return id
}

func TestGetStats(t *testing.T) {
	db := openTestStore(t)

	pubID := addPublication(t, db, "Megatrend Folger", "sub-1", "100234")
	recID := addRecipient(t, db, "anna@example.de")
	if err := db.UpsertPreference(Preference{RecipientID: recID, PublicationID: pubID, Enabled: true}); err != nil {
		t.Fatalf("upsert preference: %v", err)
	}

	db.MarkProcessed("2019-05-02_megatrend-folger_18-2019", "Megatrend Folger 18/2019", nil, nil, nil, "live")
	db.MarkDownloaded("2019-05-02_megatrend-folger_18-2019")

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Editions != 1 {
		t.Errorf("expected 1 edition, got %d", stats.Editions)
	}
	if stats.Downloaded != 1 {
		t.Errorf("expected 1 downloaded, got %d", stats.Downloaded)
	}
	if stats.Emailed != 0 {
		t.Errorf("expected 0 emailed, got %d", stats.Emailed)
	}
	if stats.Publications != 1 || stats.ActivePublications != 1 {
		t.Errorf("unexpected publication stats: %+v", stats)
	}
	if stats.Recipients != 1 || stats.Preferences != 1 {
		t.Errorf("unexpected recipient stats: %+v", stats)
	}
}
