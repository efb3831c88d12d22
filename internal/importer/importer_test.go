package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pressbote/pressbote/internal/archive"
	"github.com/pressbote/pressbote/internal/store"
)

type fakeSink struct {
	objects map[string][]byte
	fail    bool
}

func newFakeSink() *fakeSink { return &fakeSink{objects: map[string][]byte{}} }

func (f *fakeSink) Archive(ctx context.Context, data []byte, dest string, meta map[string]string) (archive.Locator, error) {
	if f.fail {
		return archive.Locator{}, os.ErrPermission
	}
	f.objects[dest] = data
	return archive.Locator{URL: "gs://test/" + dest, Path: dest, Container: "test", Size: int64(len(data))}, nil
}

func (f *fakeSink) Exists(ctx context.Context, dest string) (bool, error) {
	_, ok := f.objects[dest]
	return ok, nil
}

func (f *fakeSink) FetchCached(ctx context.Context, dest string) ([]byte, bool, error) {
	data, ok := f.objects[dest]
	return data, ok, nil
}

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestParseFilename(t *testing.T) {
	cases := []struct {
		name  string
		date  string
		title string
		ok    bool
	}{
		{"2019-05-02 Megatrend Folger 18-2019.pdf", "2019-05-02", "Megatrend Folger 18-2019", true},
		{"2019-05-02 Megatrend Folger 18-2019.PDF", "2019-05-02", "Megatrend Folger 18-2019", true},
		{"2024-03-21 Die 800% Strategie 12-2024.pdf", "2024-03-21", "Die 800% Strategie 12-2024", true},
		{"notes.pdf", "", "", false},
		{"2019-99-99 Broken.pdf", "", "", false},
		{"2019-05-02.pdf", "", "", false},
		{"2019-05-02 Title.txt", "", "", false},
	}
	for _, tc := range cases {
		date, title, err := ParseFilename(tc.name)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
			}
			continue
		}
		if date != tc.date || title != tc.title {
			t.Errorf("%s: got (%q, %q), want (%q, %q)", tc.name, date, title, tc.date, tc.title)
		}
	}
}

func TestImportDir(t *testing.T) {
	db := openTestStore(t)
	sink := newFakeSink()
	dir := t.TempDir()

	writeFile := func(name string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("pdf"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeFile("2019-05-02 Megatrend Folger 18-2019.pdf")
	// Uppercase extension: admitted and parsed, not counted as unparsable.
	writeFile("2020-01-09 Boersen-Signale 2-2020.PDF")
	writeFile("garbage.pdf")
	writeFile("README.md")

	im := &Importer{DB: db, Sink: sink}
	res, err := im.ImportDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportDir: %v", err)
	}

	if res.Seen != 3 {
		t.Errorf("Seen = %d, want 3 (non-pdf ignored)", res.Seen)
	}
	if res.Imported != 2 || res.Unparsable != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if !db.IsProcessed("2020-01-09_boersen-signale_2-2020") {
		t.Error("uppercase-extension edition not recorded")
	}

	key := "2019-05-02_megatrend-folger_18-2019"
	if !db.IsProcessed(key) {
		t.Fatal("imported edition not recorded")
	}
	rec, err := db.GetRecord(key)
	if err != nil || rec == nil {
		t.Fatalf("record missing: %v", err)
	}
	if rec.IngestSource == nil || *rec.IngestSource != "import" {
		t.Errorf("ingest source = %v, want import", rec.IngestSource)
	}
	if rec.LocalFile == nil {
		t.Error("local file reference missing")
	}
	if rec.ArchivedAt == nil {
		t.Error("archive timestamp missing")
	}
	if len(sink.objects) != 2 {
		t.Errorf("archived objects = %d, want 2", len(sink.objects))
	}
}

func TestImportDirSkipsKnownEditions(t *testing.T) {
	db := openTestStore(t)
	sink := newFakeSink()
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "2019-05-02 Megatrend Folger 18-2019.pdf"), []byte("pdf"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The live path already handled this edition; the key matches across
	// ingestion paths.
	key := "2019-05-02_megatrend-folger_18-2019"
	if err := db.MarkProcessed(key, "Megatrend Folger 18/2019", nil, nil, nil, "live"); err != nil {
		t.Fatal(err)
	}

	im := &Importer{DB: db, Sink: sink}
	res, err := im.ImportDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportDir: %v", err)
	}
	if res.Skipped != 1 || res.Imported != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(sink.objects) != 0 {
		t.Error("known edition must not be re-archived")
	}

	// The existing record keeps its original ingestion tag.
	rec, _ := db.GetRecord(key)
	if rec.IngestSource == nil || *rec.IngestSource != "live" {
		t.Errorf("ingest source = %v, want live", rec.IngestSource)
	}
}

func TestImportArchiveFailureLeavesNoRecord(t *testing.T) {
	db := openTestStore(t)
	sink := newFakeSink()
	sink.fail = true
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "2019-05-02 Megatrend Folger 18-2019.pdf"), []byte("pdf"), 0o644); err != nil {
		t.Fatal(err)
	}

	im := &Importer{DB: db, Sink: sink}
	res, err := im.ImportDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportDir: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	if db.IsProcessed("2019-05-02_megatrend-folger_18-2019") {
		t.Error("failed import must leave no record so a later pass retries")
	}
}
