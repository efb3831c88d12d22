// Package reconcile matches the subscriptions visible on the portal account
// against the publication catalog. It recognizes provider-side renewals,
// which issue a new subscription id for the same logical subscription, and
// soft-deletes whatever is no longer visible upstream.
package reconcile

import (
	"fmt"
	"log"
	"time"

	"github.com/pressbote/pressbote/internal/edition"
	"github.com/pressbote/pressbote/internal/portal"
	"github.com/pressbote/pressbote/internal/store"
)

// Result summarizes one reconciliation pass.
type Result struct {
	New         int
	Renewed     int
	Refreshed   int
	Deactivated int
}

// Reconcile updates the catalog from the currently visible subscriptions.
// Matching is by subscription id first; unmatched subscriptions fall back to
// the subscription number among inactive or expired entries, which is the
// renewal case. Renewals update the existing row in place so folder, channel
// flags and recipient preferences carry forward. Publications no longer
// visible, or past their tracked active window, are marked inactive, never
// deleted.
func Reconcile(db *store.DB, subs []portal.Subscription) (*Result, error) {
	r := &Result{}
	visible := make(map[string]bool, len(subs))

	for _, sub := range subs {
		existing, err := db.GetPublicationBySubscriptionID(sub.ID)
		if err != nil {
			return nil, fmt.Errorf("looking up subscription %s: %w", sub.ID, err)
		}
		if existing != nil {
			if err := db.TouchPublication(existing.ID, sub.Title, sub.ValidFrom, sub.ValidUntil); err != nil {
				return nil, fmt.Errorf("refreshing %q: %w", sub.Title, err)
			}
			r.Refreshed++
			visible[existing.ID] = true
			continue
		}

		if sub.Number != "" {
			candidate, err := db.FindRenewalCandidate(sub.Number)
			if err != nil {
				return nil, fmt.Errorf("finding renewal candidate for %s: %w", sub.Number, err)
			}
			if candidate != nil {
				log.Printf("renewal: subscription %s -> %s for %q", orEmpty(candidate.SubscriptionID), sub.ID, sub.Title)
				if err := db.RenewPublication(candidate.ID, sub.ID, sub.Title, sub.ValidFrom, sub.ValidUntil); err != nil {
					return nil, fmt.Errorf("renewing %q: %w", sub.Title, err)
				}
				r.Renewed++
				visible[candidate.ID] = true
				continue
			}
		}

		folder := edition.SanitizeFolder(sub.Title)
		id, err := db.InsertPublication(sub.Title, &sub.ID, &sub.Number, sub.ValidFrom, sub.ValidUntil, folder)
		if err != nil {
			return nil, fmt.Errorf("adding %q: %w", sub.Title, err)
		}
		log.Printf("new publication %q (%s)", sub.Title, id)
		r.New++
		visible[id] = true
	}

	// Soft-delete what the portal no longer shows or what is past its
	// active window.
	pubs, err := db.ListPublications(true)
	if err != nil {
		return nil, fmt.Errorf("listing publications: %w", err)
	}
	today := time.Now().Format("2006-01-02")
	for _, p := range pubs {
		expired := p.ValidUntil != nil && *p.ValidUntil < today
		if visible[p.ID] && !expired {
			continue
		}
		log.Printf("deactivating %q (visible=%v expired=%v)", p.Name, visible[p.ID], expired)
		if err := db.SetPublicationActive(p.ID, false); err != nil {
			return nil, fmt.Errorf("deactivating %q: %w", p.Name, err)
		}
		r.Deactivated++
	}

	return r, nil
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
