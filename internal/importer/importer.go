// Package importer ingests editions from a local directory of previously
// downloaded PDFs. Filenames follow the display shape "YYYY-MM-DD Title.pdf"
// written by the delivery path, so an import of an old archive yields the
// same edition keys as live polling or backfill would.
package importer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pressbote/pressbote/internal/archive"
	"github.com/pressbote/pressbote/internal/edition"
	"github.com/pressbote/pressbote/internal/store"
)

// Result summarizes one import pass.
type Result struct {
	Seen       int
	Imported   int
	Skipped    int
	Failed     int
	Unparsable int
}

// Importer ingests local PDFs into the archive and the tracking store.
type Importer struct {
	DB   *store.DB
	Sink archive.Sink
}

// ParseFilename reverse-parses the display filename shape into its date and
// title parts. The extension is matched case-insensitively, the same way
// ImportDir and Watch admit files.
func ParseFilename(name string) (date, title string, err error) {
	ext := filepath.Ext(name)
	if !strings.EqualFold(ext, ".pdf") {
		return "", "", fmt.Errorf("%s: not a pdf", name)
	}
	base := strings.TrimSuffix(name, ext)

	parts := strings.SplitN(base, " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("%s: expected \"YYYY-MM-DD Title.pdf\"", name)
	}
	if _, err := time.Parse("2006-01-02", parts[0]); err != nil {
		return "", "", fmt.Errorf("%s: bad date prefix: %w", name, err)
	}
	return parts[0], parts[1], nil
}

// ImportDir ingests every PDF in the directory, non-recursively. Files with
// unusable names are reported and skipped, never silently dropped.
func (im *Importer) ImportDir(ctx context.Context, dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading import directory: %w", err)
	}

	res := &Result{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {
			continue
		}
		im.importFile(ctx, filepath.Join(dir, entry.Name()), res)
	}
	return res, nil
}

// importFile ingests a single PDF. Archival failures leave no record so a
// later pass retries the file.
func (im *Importer) importFile(ctx context.Context, path string, res *Result) {
	res.Seen++
	name := filepath.Base(path)

	date, title, err := ParseFilename(name)
	if err != nil {
		log.Printf("import: %v", err)
		res.Unparsable++
		return
	}

	key, err := edition.Canonicalize(date, title)
	if err != nil {
		log.Printf("import: %s: %v", name, err)
		res.Unparsable++
		return
	}

	if im.DB.IsProcessed(key) {
		res.Skipped++
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("import: reading %s: %v", path, err)
		res.Failed++
		return
	}

	day, _ := time.Parse("2006-01-02", date)
	e := edition.Edition{Title: title, Date: day}
	dest := edition.ArchivePath(edition.Name(title), e)

	loc, err := im.Sink.Archive(ctx, data, dest, map[string]string{
		"edition-key": key,
		"imported":    "true",
	})
	if err != nil {
		log.Printf("import: archiving %s: %v", name, err)
		res.Failed++
		return
	}

	if err := im.DB.MarkProcessed(key, title, &date, nil, &path, "import"); err != nil {
		log.Printf("import: %v", err)
		res.Failed++
		return
	}
	if err := im.DB.MarkDownloaded(key); err != nil {
		log.Printf("import: %s: %v", key, err)
	}
	if err := im.DB.MarkArchived(key, loc.URL, loc.Path, loc.Container, loc.Size); err != nil {
		log.Printf("import: %s: %v", key, err)
	}

	log.Printf("import: ingested %s (%s)", name, key)
	res.Imported++
}

// Watch keeps importing PDFs as they appear in the directory until the
// context is cancelled. Files are processed sequentially, one event at a
// time.
func (im *Importer) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	log.Printf("import: watching %s", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".pdf") {
				continue
			}
			// Give the writer a moment to finish the file.
			time.Sleep(500 * time.Millisecond)
			res := &Result{}
			im.importFile(ctx, event.Name, res)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("import: watch error: %v", err)
		}
	}
}
