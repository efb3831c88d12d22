package reconcile

import (
	"path/filepath"
	"testing"

	"github.com/pressbote/pressbote/internal/portal"
	"github.com/pressbote/pressbote/internal/store"
)

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReconcileNewSubscription(t *testing.T) {
	db := openTestStore(t)

	r, err := Reconcile(db, []portal.Subscription{
		{ID: "sub-1", Number: "100234", Title: "Megatrend Folger"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if r.New != 1 {
		t.Errorf("New = %d, want 1", r.New)
	}

	pub, err := db.GetPublicationBySubscriptionID("sub-1")
	if err != nil || pub == nil {
		t.Fatalf("publication not created: %v", err)
	}
	if !pub.IsActive || !pub.EmailEnabled || !pub.UploadEnabled {
		t.Errorf("new publication should start active with both channels enabled: %+v", pub)
	}
	if pub.Folder != "Megatrend Folger" {
		t.Errorf("default folder = %q", pub.Folder)
	}
}

func TestReconcileRenewalUpdatesInPlace(t *testing.T) {
	db := openTestStore(t)

	// Original subscription, later expired and deactivated upstream.
	subID := "sub-old"
	nr := "100234"
	id, err := db.InsertPublication("Die 800% Strategie", &subID, &nr, nil, nil, "Strategie")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	off := false
	if err := db.UpdatePublication(id, &off, nil, nil, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := db.SetPublicationActive(id, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	// The provider reissues the subscription under a new id and the current
	// name; same number.
	r, err := Reconcile(db, []portal.Subscription{
		{ID: "sub-new", Number: nr, Title: "Die 800 Prozent Strategie"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if r.Renewed != 1 || r.New != 0 {
		t.Fatalf("expected one renewal and no new rows, got %+v", r)
	}

	pubs, err := db.ListPublications(false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pubs) != 1 {
		t.Fatalf("renewal must not create a duplicate row, got %d rows", len(pubs))
	}

	pub := pubs[0]
	if pub.ID != id {
		t.Error("catalog id must survive the renewal")
	}
	if pub.SubscriptionID == nil || *pub.SubscriptionID != "sub-new" {
		t.Errorf("subscription id not replaced: %+v", pub.SubscriptionID)
	}
	if pub.Name != "Die 800 Prozent Strategie" {
		t.Errorf("name not refreshed: %q", pub.Name)
	}
	if !pub.IsActive {
		t.Error("renewed publication must be reactivated")
	}
	// Inherited settings carry forward: email stayed disabled from before.
	if pub.EmailEnabled {
		t.Error("channel settings must carry forward through a renewal")
	}
	if pub.Folder != "Strategie" {
		t.Errorf("folder must carry forward, got %q", pub.Folder)
	}
}

func TestReconcileDisappearedSubscriptionDeactivated(t *testing.T) {
	db := openTestStore(t)

	subID := "sub-1"
	nr := "100234"
	if _, err := db.InsertPublication("Megatrend Folger", &subID, &nr, nil, nil, "Megatrend Folger"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	r, err := Reconcile(db, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if r.Deactivated != 1 {
		t.Errorf("Deactivated = %d, want 1", r.Deactivated)
	}

	pubs, err := db.ListPublications(false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pubs) != 1 {
		t.Fatal("publication must be soft-deleted, not removed")
	}
	if pubs[0].IsActive {
		t.Error("publication should be inactive")
	}
}

func TestReconcileExpiredWindowDeactivated(t *testing.T) {
	db := openTestStore(t)

	subID := "sub-1"
	nr := "100234"
	until := "2020-01-01"
	if _, err := db.InsertPublication("Megatrend Folger", &subID, &nr, nil, &until, "Megatrend Folger"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Still visible upstream, but past its tracked active window.
	r, err := Reconcile(db, []portal.Subscription{
		{ID: "sub-1", Number: nr, Title: "Megatrend Folger", ValidUntil: &until},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if r.Deactivated != 1 {
		t.Errorf("Deactivated = %d, want 1", r.Deactivated)
	}
}
