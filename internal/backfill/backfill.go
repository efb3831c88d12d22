// Package backfill is the bulk historical ingestion path. It walks a
// publication's paginated edition archive, downloads and archives every
// edition not yet known, and checkpoints progress after each item so an
// interrupted run resumes where it stopped. Old editions are never emailed
// or uploaded; the durable archive is the point of a backfill.
package backfill

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/pressbote/pressbote/internal/archive"
	"github.com/pressbote/pressbote/internal/edition"
	"github.com/pressbote/pressbote/internal/portal"
	"github.com/pressbote/pressbote/internal/store"
)

// Result summarizes one backfill run for a publication.
type Result struct {
	Pages      int
	Seen       int
	Ingested   int
	Skipped    int
	Failed     int
	Unparsable int
}

// Runner drives the backfill for one publication at a time. Pacing is a
// fixed inter-request delay applied after every page fetch and every item
// download, with a hard page-count ceiling; the policy is static, not
// adaptive.
type Runner struct {
	DB         *store.DB
	Source     portal.Source
	Sink       archive.Sink
	Checkpoint *Checkpoint

	Delay    time.Duration
	MaxPages int
	DryRun   bool
}

// Run ingests the historical editions of one publication.
func (r *Runner) Run(ctx context.Context, pub store.Publication) (*Result, error) {
	if pub.SubscriptionID == nil || *pub.SubscriptionID == "" {
		return nil, fmt.Errorf("%s has no subscription id", pub.Name)
	}
	maxPages := r.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}

	limiter := rate.NewLimiter(rate.Every(r.Delay), 1)
	if r.Delay <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	res := &Result{}
	for page := 1; page <= maxPages; page++ {
		editions, hasMore, err := r.Source.Editions(ctx, *pub.SubscriptionID, page)
		if err != nil {
			return res, fmt.Errorf("page %d: %w", page, err)
		}
		res.Pages++
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}

		for _, e := range editions {
			res.Seen++
			if err := r.processItem(ctx, pub, e, res); err != nil {
				return res, err
			}
			if err := limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		if !hasMore {
			break
		}
	}
	return res, nil
}

// processItem ingests one edition unless it is already done. Completion is
// checked against the checkpoint map, the tracking store and the storage
// sink's own existence check, so a lost checkpoint file self-heals.
func (r *Runner) processItem(ctx context.Context, pub store.Publication, e edition.Edition, res *Result) error {
	ckKey := Key(pub.ID, e.Title)
	if r.Checkpoint.Done(ckKey) {
		res.Skipped++
		return nil
	}

	key, err := e.Key()
	if err != nil {
		log.Printf("backfill %s: unusable title %q: %v", pub.Name, e.Title, err)
		res.Unparsable++
		return nil
	}

	dest := edition.ArchivePath(pub.Name, e)
	if r.DB.IsProcessed(key) {
		res.Skipped++
		return r.Checkpoint.MarkDone(ckKey, e.Title)
	}
	if exists, err := r.Sink.Exists(ctx, dest); err == nil && exists {
		// Archived by an earlier run whose record or checkpoint got lost;
		// recreate the record and move on.
		log.Printf("backfill %s: %s already archived, recording", pub.Name, key)
		if err := r.record(key, e); err != nil {
			return err
		}
		res.Skipped++
		return r.Checkpoint.MarkDone(ckKey, e.Title)
	}

	if r.DryRun {
		log.Printf("backfill %s: would ingest %q (%s)", pub.Name, e.Title, key)
		res.Ingested++
		return nil
	}

	data, err := r.Source.Download(ctx, e.DownloadURL)
	if err != nil {
		log.Printf("backfill %s: downloading %q: %v", pub.Name, e.Title, err)
		res.Failed++
		return nil
	}

	loc, err := r.Sink.Archive(ctx, data, dest, map[string]string{
		"publication": pub.Name,
		"edition-key": key,
	})
	if err != nil {
		// Not checkpointed, so the next run retries this item.
		log.Printf("backfill %s: archiving %q: %v", pub.Name, e.Title, err)
		res.Failed++
		return nil
	}

	if err := r.record(key, e); err != nil {
		return err
	}
	if err := r.DB.MarkArchived(key, loc.URL, loc.Path, loc.Container, loc.Size); err != nil {
		log.Printf("backfill %s: %v", key, err)
	}

	res.Ingested++
	return r.Checkpoint.MarkDone(ckKey, e.Title)
}

func (r *Runner) record(key string, e edition.Edition) error {
	date := e.Date.Format("2006-01-02")
	srcURL := e.DownloadURL
	if err := r.DB.MarkProcessed(key, e.Title, &date, &srcURL, nil, "backfill"); err != nil {
		return err
	}
	if err := r.DB.MarkDownloaded(key); err != nil {
		log.Printf("backfill %s: %v", key, err)
	}
	return nil
}
