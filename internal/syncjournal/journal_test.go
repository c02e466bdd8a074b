package syncjournal

import (
	"context"
	"testing"
	"time"

	"github.com/goldpos/syncd/internal/localstore"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	store, err := localstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestLogChangeCoalescesSameRecord(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	payload1 := `{"name":"first"}`
	if err := j.LogChange(ctx, "products", "prod-1", ActionInsert, &payload1); err != nil {
		t.Fatalf("first LogChange: %v", err)
	}

	payload2 := `{"name":"second"}`
	if err := j.LogChange(ctx, "products", "prod-1", ActionUpdate, &payload2); err != nil {
		t.Fatalf("second LogChange: %v", err)
	}

	entries, err := j.PendingChanges(ctx, "products")
	if err != nil {
		t.Fatalf("PendingChanges: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 coalesced entry", len(entries))
	}
	if entries[0].Action != ActionUpdate || *entries[0].Payload != payload2 {
		t.Errorf("entry not coalesced to latest write: %+v", entries[0])
	}
}

func TestPendingChangesExcludesDeadLettered(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.LogChange(ctx, "products", "prod-1", ActionInsert, nil); err != nil {
		t.Fatalf("LogChange: %v", err)
	}

	entries, err := j.PendingChanges(ctx, "products")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 pending entry, got %d, err=%v", len(entries), err)
	}
	id := entries[0].ID

	for i := 0; i < maxRetries; i++ {
		if err := j.MarkFailed(ctx, id, "boom"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
	}

	entries, err = j.PendingChanges(ctx, "products")
	if err != nil {
		t.Fatalf("PendingChanges after dead-letter: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected dead-lettered entry to be excluded, got %d", len(entries))
	}
}

func TestMarkSyncedRemovesFromPending(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.LogChange(ctx, "customers", "cust-1", ActionInsert, nil); err != nil {
		t.Fatalf("LogChange: %v", err)
	}
	entries, _ := j.PendingChanges(ctx, "customers")
	if len(entries) != 1 {
		t.Fatalf("setup: want 1 pending entry, got %d", len(entries))
	}

	if err := j.MarkSynced(ctx, entries[0].ID); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	entries, err := j.PendingChanges(ctx, "customers")
	if err != nil {
		t.Fatalf("PendingChanges: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no pending entries after sync, got %d", len(entries))
	}
}

func TestAllPendingChangesOrdersFIFOAcrossTables(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.LogChange(ctx, "products", "p1", ActionInsert, nil); err != nil {
		t.Fatalf("LogChange p1: %v", err)
	}
	if err := j.LogChange(ctx, "inventory", "i1", ActionInsert, nil); err != nil {
		t.Fatalf("LogChange i1: %v", err)
	}

	entries, err := j.AllPendingChanges(ctx)
	if err != nil {
		t.Fatalf("AllPendingChanges: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].RecordID != "p1" || entries[1].RecordID != "i1" {
		t.Errorf("unexpected FIFO order: %+v", entries)
	}
}

func TestCleanupOldRecordsRemovesOnlyStaleSynced(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.LogChange(ctx, "products", "p1", ActionInsert, nil); err != nil {
		t.Fatalf("LogChange: %v", err)
	}
	entries, _ := j.PendingChanges(ctx, "products")
	id := entries[0].ID
	if err := j.MarkSynced(ctx, id); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	stale := time.Now().Add(-8 * 24 * time.Hour)
	if err := j.db.Table("sync_log").Where("id = ?", id).Update("synced_at", stale).Error; err != nil {
		t.Fatalf("backdate synced_at: %v", err)
	}

	removed, err := j.CleanupOldRecords(ctx)
	if err != nil {
		t.Fatalf("CleanupOldRecords: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestCountPending(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	count, err := j.CountPending(ctx)
	if err != nil || count != 0 {
		t.Fatalf("expected 0 pending initially, got %d, err=%v", count, err)
	}

	if err := j.LogChange(ctx, "products", "p1", ActionInsert, nil); err != nil {
		t.Fatalf("LogChange: %v", err)
	}
	count, err = j.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
