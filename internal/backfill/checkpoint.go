package backfill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Item is one completed backfill entry.
type Item struct {
	ProcessedAt string `json:"processed_at"`
	Title       string `json:"title"`
}

// Checkpoint is the crash-safe progress map of a bulk ingestion run, keyed
// by "{publicationID}:{editionTitle}". The file is rewritten after every
// completed item, never batched, so a crash loses at most the one in-flight
// item.
type Checkpoint struct {
	path  string
	items map[string]Item
}

// LoadCheckpoint reads an existing checkpoint file, or starts an empty map
// when none exists. A lost file is not an error; completion is re-verified
// against the tracker and the storage sink anyway.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	c := &Checkpoint{path: path, items: map[string]Item{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &c.items); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	return c, nil
}

// Key builds the checkpoint key for one edition of one publication.
func Key(publicationID, title string) string {
	return publicationID + ":" + title
}

// Done reports whether the item completed in an earlier run.
func (c *Checkpoint) Done(key string) bool {
	_, ok := c.items[key]
	return ok
}

// Len returns the number of completed items.
func (c *Checkpoint) Len() int {
	return len(c.items)
}

// MarkDone records one completed item and rewrites the file immediately.
func (c *Checkpoint) MarkDone(key, title string) error {
	c.items[key] = Item{
		ProcessedAt: time.Now().Format(time.RFC3339),
		Title:       title,
	}
	return c.save()
}

// save writes the map atomically: temp file in the same directory, then
// rename over the old file.
func (c *Checkpoint) save() error {
	data, err := json.MarshalIndent(c.items, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}
