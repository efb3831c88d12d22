package store

import (
	"testing"
)

const testKey = "2019-05-02_megatrend-folger_18-2019"

func TestIsProcessedMonotonic(t *testing.T) {
	db := openTestStore(t)

	if db.IsProcessed(testKey) {
		t.Error("fresh store must not report the key as processed")
	}

	if err := db.MarkProcessed(testKey, "Megatrend Folger 18/2019", ptr("2019-05-02"), nil, nil, "live"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !db.IsProcessed(testKey) {
			t.Fatalf("expected is-processed to stay true (check %d)", i)
		}
	}
}

func TestMarkProcessedUpsertEnriches(t *testing.T) {
	db := openTestStore(t)

	if err := db.MarkProcessed(testKey, "Megatrend Folger 18/2019", ptr("2019-05-02"), ptr("https://kiosk.example.de/dl/18"), nil, "backfill"); err != nil {
		t.Fatalf("first MarkProcessed: %v", err)
	}

	// A later touch with fewer fields must not clear what is already there,
	// and the ingest source keeps its first value.
	if err := db.MarkProcessed(testKey, "Megatrend Folger 18/2019", nil, nil, ptr("/data/editions/18.pdf"), "live"); err != nil {
		t.Fatalf("second MarkProcessed: %v", err)
	}

	rec, err := db.GetRecord(testKey)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.PublicationDate == nil || *rec.PublicationDate != "2019-05-02" {
		t.Error("publication date was lost by the second upsert")
	}
	if rec.SourceURL == nil || *rec.SourceURL != "https://kiosk.example.de/dl/18" {
		t.Error("source url was lost by the second upsert")
	}
	if rec.LocalFile == nil || *rec.LocalFile != "/data/editions/18.pdf" {
		t.Error("local file was not added by the second upsert")
	}
	if rec.IngestSource == nil || *rec.IngestSource != "backfill" {
		t.Errorf("ingest source must keep its first-touch value, got %v", rec.IngestSource)
	}
}

func TestChannelTimestampsAreIndependent(t *testing.T) {
	db := openTestStore(t)
	db.MarkProcessed(testKey, "Megatrend Folger 18/2019", nil, nil, nil, "live")

	if err := db.MarkDownloaded(testKey); err != nil {
		t.Fatalf("MarkDownloaded: %v", err)
	}
	if err := db.MarkEmailSent(testKey); err != nil {
		t.Fatalf("MarkEmailSent: %v", err)
	}

	rec, _ := db.GetRecord(testKey)
	if rec.DownloadedAt == nil || rec.EmailSentAt == nil {
		t.Fatal("expected download and email timestamps")
	}
	if rec.UploadedAt != nil || rec.ArchivedAt != nil {
		t.Error("upload/archive must stay empty until marked")
	}
}

func TestChannelTimestampNeverOverwritten(t *testing.T) {
	db := openTestStore(t)
	db.MarkProcessed(testKey, "Megatrend Folger 18/2019", nil, nil, nil, "live")
	db.MarkDownloaded(testKey)

	rec, _ := db.GetRecord(testKey)
	first := *rec.DownloadedAt

	// Pin the stored value somewhere recognizable, then mark again.
	if _, err := db.conn.Exec("UPDATE delivery_records SET downloaded_at = '2001-01-01 00:00:00' WHERE edition_key = ?", testKey); err != nil {
		t.Fatalf("pinning timestamp: %v", err)
	}
	if err := db.MarkDownloaded(testKey); err != nil {
		t.Fatalf("second MarkDownloaded: %v", err)
	}

	rec, _ = db.GetRecord(testKey)
	if *rec.DownloadedAt != "2001-01-01 00:00:00" {
		t.Errorf("timestamp was overwritten: first %q, now %q", first, *rec.DownloadedAt)
	}
}

func TestMarkChannelWithoutRecord(t *testing.T) {
	db := openTestStore(t)
	// Marking a channel for an unknown key is a no-op, not an error.
	if err := db.MarkUploaded("2024-01-01_unknown_1-2024"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.IsProcessed("2024-01-01_unknown_1-2024") {
		t.Error("channel mark must not create a record")
	}
}

func TestMarkArchivedStoresLocator(t *testing.T) {
	db := openTestStore(t)
	db.MarkProcessed(testKey, "Megatrend Folger 18/2019", nil, nil, nil, "backfill")

	if err := db.MarkArchived(testKey,
		"https://storage.googleapis.com/newsletter-archive/editions/Megatrend Folger/2019/x.pdf",
		"editions/Megatrend Folger/2019/x.pdf", "newsletter-archive", 482133); err != nil {
		t.Fatalf("MarkArchived: %v", err)
	}

	rec, _ := db.GetRecord(testKey)
	if rec.ArchivedAt == nil {
		t.Fatal("expected archive timestamp")
	}
	if rec.ArchiveContainer == nil || *rec.ArchiveContainer != "newsletter-archive" {
		t.Error("expected archive container")
	}
	if rec.ArchiveSize == nil || *rec.ArchiveSize != 482133 {
		t.Error("expected archive size")
	}
}

func TestForceClear(t *testing.T) {
	db := openTestStore(t)
	db.MarkProcessed(testKey, "Megatrend Folger 18/2019", nil, nil, nil, "live")

	cleared, err := db.ForceClear(testKey)
	if err != nil {
		t.Fatalf("ForceClear: %v", err)
	}
	if !cleared {
		t.Error("expected ForceClear to report a deleted record")
	}
	if db.IsProcessed(testKey) {
		t.Error("record must be gone after ForceClear")
	}

	cleared, err = db.ForceClear(testKey)
	if err != nil {
		t.Fatalf("second ForceClear: %v", err)
	}
	if cleared {
		t.Error("second ForceClear must report nothing deleted")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	db := openTestStore(t)
	db.MarkProcessed("2019-05-02_megatrend-folger_18-2019", "Megatrend Folger 18/2019", nil, nil, nil, "backfill")
	db.MarkProcessed("2024-03-21_die-800-prozent-strategie_12-2024", "Die 800 Prozent Strategie 12/2024", nil, nil, nil, "live")

	if _, err := db.conn.Exec(
		"UPDATE delivery_records SET processed_at = datetime('now', '-400 days') WHERE edition_key = ?",
		"2019-05-02_megatrend-folger_18-2019",
	); err != nil {
		t.Fatalf("aging record: %v", err)
	}

	n, err := db.PurgeOlderThan(365)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged record, got %d", n)
	}
	if db.IsProcessed("2019-05-02_megatrend-folger_18-2019") {
		t.Error("old record must be purged")
	}
	if !db.IsProcessed("2024-03-21_die-800-prozent-strategie_12-2024") {
		t.Error("recent record must survive the purge")
	}
}

func TestListRecordsFilters(t *testing.T) {
	db := openTestStore(t)
	db.MarkProcessed("2019-05-02_megatrend-folger_18-2019", "Megatrend Folger 18/2019", nil, nil, nil, "backfill")
	db.MarkProcessed("2024-03-21_die-800-prozent-strategie_12-2024", "Die 800 Prozent Strategie 12/2024", nil, nil, nil, "live")
	db.MarkUploaded("2024-03-21_die-800-prozent-strategie_12-2024")

	all, err := db.ListRecords(RecordFilter{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	byTitle, err := db.ListRecords(RecordFilter{TitleLike: "Megatrend"})
	if err != nil {
		t.Fatalf("ListRecords title filter: %v", err)
	}
	if len(byTitle) != 1 || byTitle[0].EditionKey != "2019-05-02_megatrend-folger_18-2019" {
		t.Errorf("unexpected title filter result: %+v", byTitle)
	}

	missingUpload, err := db.ListRecords(RecordFilter{MissingChannel: "upload"})
	if err != nil {
		t.Fatalf("ListRecords missing filter: %v", err)
	}
	if len(missingUpload) != 1 || missingUpload[0].Title != "Megatrend Folger 18/2019" {
		t.Errorf("unexpected missing-channel result: %+v", missingUpload)
	}

	if _, err := db.ListRecords(RecordFilter{MissingChannel: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown channel")
	}
}
