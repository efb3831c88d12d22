// Package deliver runs the sequential delivery state machine: per
// publication, discover editions, gate on the tracking store, download,
// fan out to email and cloud folders, archive, and record progress per
// channel. One consolidated summary is produced per run.
package deliver

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pressbote/pressbote/internal/archive"
	"github.com/pressbote/pressbote/internal/cloudfolder"
	"github.com/pressbote/pressbote/internal/edition"
	"github.com/pressbote/pressbote/internal/fault"
	"github.com/pressbote/pressbote/internal/mail"
	"github.com/pressbote/pressbote/internal/portal"
	"github.com/pressbote/pressbote/internal/store"
)

// Orchestrator composes the delivery steps for a run. A nil mailer, drive or
// sink disables that channel; the tracking store and content source are
// mandatory. Not safe for concurrent use: publications are processed
// strictly one at a time, and each publication's working state stays local
// to its processing call.
type Orchestrator struct {
	db     *store.DB
	source portal.Source
	mailer mail.Sender
	drive  cloudfolder.Drive
	sink   archive.Sink
}

// New creates the orchestrator.
func New(db *store.DB, source portal.Source, mailer mail.Sender, drive cloudfolder.Drive, sink archive.Sink) *Orchestrator {
	return &Orchestrator{db: db, source: source, mailer: mailer, drive: drive, sink: sink}
}

// Run processes the publications sequentially and returns the consolidated
// result. A run-fatal error (authentication, configuration) aborts the loop;
// any other per-publication error is isolated to that publication.
func (o *Orchestrator) Run(ctx context.Context, pubs []store.Publication) *Result {
	r := &Result{RunID: uuid.NewString(), StartedAt: time.Now()}

	for _, pub := range pubs {
		pr := o.runPublication(ctx, pub)
		r.Publications = append(r.Publications, pr)
		if pr.Err != nil && fault.Fatal(pr.Err) {
			r.Fatal = pr.Err
			break
		}
	}

	r.FinishedAt = time.Now()
	return r
}

// runPublication polls the newest editions of one publication and processes
// whatever the tracking store has not seen yet.
func (o *Orchestrator) runPublication(ctx context.Context, pub store.Publication) PublicationResult {
	pr := PublicationResult{Name: pub.Name}

	if pub.SubscriptionID == nil || *pub.SubscriptionID == "" {
		pr.Outcome = OutcomeSkipped
		log.Printf("%s: no subscription id, skipping", pub.Name)
		return pr
	}

	editions, _, err := o.source.Editions(ctx, *pub.SubscriptionID, 1)
	if err != nil {
		pr.Outcome = OutcomeFailed
		pr.Transient = fault.Transient(err)
		pr.Err = fmt.Errorf("listing editions: %w", err)
		return pr
	}

	hardFailure := false
	for _, e := range editions {
		st := o.processEdition(ctx, pub, e)
		switch {
		case st.err != nil && fault.Fatal(st.err):
			pr.Outcome = OutcomeFailed
			pr.Err = st.err
			return pr
		case st.err != nil:
			pr.Failed++
			if !fault.Transient(st.err) {
				hardFailure = true
			}
			log.Printf("%s: edition %q failed: %v", pub.Name, e.Title, st.err)
		case st.skipped:
			pr.Skipped++
		default:
			pr.Editions++
			pr.Emailed += st.emailed
			pr.Uploaded += st.uploaded
		}
	}

	switch {
	case pr.Failed > 0:
		pr.Outcome = OutcomeFailed
		pr.Transient = !hardFailure
	case pr.Editions == 0:
		pr.Outcome = OutcomeSkipped
	default:
		pr.Outcome = OutcomeSucceeded
	}
	return pr
}

// editionStatus is the outcome of one edition's pass through the state
// machine.
type editionStatus struct {
	skipped  bool
	emailed  int
	uploaded int
	err      error
}

// processEdition drives one edition through download, email, upload and
// archive. A download failure is terminal and leaves no record, so the next
// run retries from scratch. An email failure is non-fatal. When upload is
// enabled and every sub-upload fails, the edition is deliberately not marked
// processed: durable off-platform delivery is the residual guarantee and
// must be retried. Archival is always best-effort.
func (o *Orchestrator) processEdition(ctx context.Context, pub store.Publication, e edition.Edition) editionStatus {
	key, err := e.Key()
	if err != nil {
		// Unparsable titles are reported and skipped, never silently dropped.
		return editionStatus{err: err}
	}

	if o.db.IsProcessed(key) {
		return editionStatus{skipped: true}
	}

	log.Printf("%s: processing edition %q (%s)", pub.Name, e.Title, key)

	data, err := o.source.Download(ctx, e.DownloadURL)
	if err != nil {
		return editionStatus{err: fmt.Errorf("download: %w", err)}
	}

	emailed, err := o.sendEmails(pub, e, data)
	if err != nil {
		return editionStatus{err: err}
	}

	uploaded, err := o.uploadToFolders(ctx, pub, e, data)
	if err != nil {
		return editionStatus{err: err}
	}

	date := e.Date.Format("2006-01-02")
	srcURL := e.DownloadURL
	if err := o.db.MarkProcessed(key, e.Title, &date, &srcURL, nil, "live"); err != nil {
		return editionStatus{err: err}
	}
	if err := o.db.MarkDownloaded(key); err != nil {
		log.Printf("%s: %v", key, err)
	}
	if emailed > 0 {
		if err := o.db.MarkEmailSent(key); err != nil {
			log.Printf("%s: %v", key, err)
		}
	}
	if uploaded > 0 {
		if err := o.db.MarkUploaded(key); err != nil {
			log.Printf("%s: %v", key, err)
		}
	}

	o.archiveEdition(ctx, pub, e, key, data)

	return editionStatus{emailed: emailed, uploaded: uploaded}
}

// sendEmails mails the edition to every email-eligible recipient. Individual
// send failures are logged and never abort the remaining recipients.
func (o *Orchestrator) sendEmails(pub store.Publication, e edition.Edition, data []byte) (int, error) {
	if !pub.EmailEnabled || o.mailer == nil {
		return 0, nil
	}

	recipients, err := EligibleRecipients(o.db, pub, ChannelEmail)
	if err != nil {
		return 0, fmt.Errorf("resolving email recipients: %w", err)
	}

	subject := fmt.Sprintf("%s — new edition %s", pub.Name, e.Date.Format("2006-01-02"))
	body := fmt.Sprintf("A new edition of **%s** is attached.\n\n- Title: %s\n- Date: %s\n",
		pub.Name, e.Title, e.Date.Format("2006-01-02"))

	sent := 0
	for _, rp := range recipients {
		if err := o.mailer.SendEdition(rp.Recipient.Email, subject, body, e.Filename(), data); err != nil {
			log.Printf("emailing %s to %s: %v", e.Title, rp.Recipient.Email, err)
			continue
		}
		sent++
		if err := o.db.BumpPreferenceSent(rp.Recipient.ID, rp.Pref.PublicationID); err != nil {
			log.Printf("bumping send counter for %s: %v", rp.Recipient.Email, err)
		}
	}
	return sent, nil
}

// uploadToFolders performs the batched cloud-folder uploads. Sub-upload
// failures are recorded but never abort the remaining ones; the step as a
// whole fails only when uploads were planned and none succeeded.
func (o *Orchestrator) uploadToFolders(ctx context.Context, pub store.Publication, e edition.Edition, data []byte) (int, error) {
	if !pub.UploadEnabled || o.drive == nil {
		return 0, nil
	}

	recipients, err := EligibleRecipients(o.db, pub, ChannelUpload)
	if err != nil {
		return 0, fmt.Errorf("resolving upload recipients: %w", err)
	}

	plan := PlanUploads(pub, e.Year(), recipients)
	done := 0
	var lastErr error
	for _, up := range plan {
		if err := o.uploadOne(ctx, up.Folder, e.Filename(), data); err != nil {
			if fault.Fatal(err) {
				return done, err
			}
			lastErr = err
			log.Printf("uploading %s to %q: %v", e.Title, up.Folder, err)
			continue
		}
		done++
	}

	if len(plan) > 0 && done == 0 {
		return 0, fmt.Errorf("all %d upload(s) failed: %w", len(plan), lastErr)
	}
	return done, nil
}

func (o *Orchestrator) uploadOne(ctx context.Context, folder, filename string, data []byte) error {
	folderID, err := o.drive.EnsureFolderPath(ctx, folder)
	if err != nil {
		return err
	}
	_, err = o.drive.Upload(ctx, folderID, filename, data)
	return err
}

// archiveEdition writes the payload to the durable sink and records the
// locator. Failures are logged and never escalate.
func (o *Orchestrator) archiveEdition(ctx context.Context, pub store.Publication, e edition.Edition, key string, data []byte) {
	if o.sink == nil {
		return
	}

	dest := edition.ArchivePath(pub.Name, e)
	loc, err := o.sink.Archive(ctx, data, dest, map[string]string{
		"publication": pub.Name,
		"edition-key": key,
	})
	if err != nil {
		log.Printf("archiving %s: %v", key, err)
		return
	}
	if err := o.db.MarkArchived(key, loc.URL, loc.Path, loc.Container, loc.Size); err != nil {
		log.Printf("recording archive locator for %s: %v", key, err)
	}
}
