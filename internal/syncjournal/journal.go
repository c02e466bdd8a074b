// Package syncjournal is the Change Journal (C5): the append-and-coalesce
// log of pending local mutations that the Push Coordinator replays.
//
// Grounded on original_source/src-tauri/src/sync/change_tracker.rs —
// the coalescing ON CONFLICT upsert, the retry_count<5 dead-letter filter,
// and FIFO-per-table replay ordering are ported field for field.
package syncjournal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/goldpos/syncd/internal/localstore"
)

// Action values a journal entry may carry, matching §3's action enum.
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// maxRetries is the dead-letter threshold: an entry with retry_count >= 5
// is excluded from every pending-changes query, per §4.5.
const maxRetries = 5

// retentionWindow is how long a synced entry survives before CleanupOldRecords removes it.
const retentionWindow = 7 * 24 * time.Hour

// Journal is the Change Journal component, backed by the local store's
// sync_log table.
type Journal struct {
	db *gorm.DB
}

// New constructs a Journal over an open local store.
func New(store *localstore.Store) *Journal {
	return &Journal{db: store.DB}
}

// LogChange records a pending mutation. A second call for the same
// (table, record) pair coalesces into the existing row instead of adding a
// new one: the action and payload are overwritten, synced is reset to
// false, and created_at is bumped to now, so FIFO replay ordering reflects
// the most recent edit rather than the first one. Matches the original's
// ON CONFLICT(table_name, record_id) DO UPDATE clause exactly.
func (j *Journal) LogChange(ctx context.Context, table, recordID, action string, payload *string) error {
	now := time.Now()
	entry := localstore.JournalEntry{
		ID:        uuid.New().String(),
		TableName: table,
		RecordID:  recordID,
		Action:    action,
		Payload:   payload,
		Synced:    false,
		CreatedAt: now,
	}

	err := j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "table_name"}, {Name: "record_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"action", "payload", "synced", "created_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("log change for %s %s: %w", table, recordID, err)
	}
	return nil
}

// PendingChanges returns pending, non-dead-lettered entries for a single
// table in FIFO (created_at ascending) order.
func (j *Journal) PendingChanges(ctx context.Context, table string) ([]localstore.JournalEntry, error) {
	var entries []localstore.JournalEntry
	err := j.db.WithContext(ctx).
		Where("table_name = ? AND synced = ? AND retry_count < ?", table, false, maxRetries).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("get pending changes for %s: %w", table, err)
	}
	return entries, nil
}

// AllPendingChanges returns pending, non-dead-lettered entries across every
// table in FIFO order.
func (j *Journal) AllPendingChanges(ctx context.Context) ([]localstore.JournalEntry, error) {
	var entries []localstore.JournalEntry
	err := j.db.WithContext(ctx).
		Where("synced = ? AND retry_count < ?", false, maxRetries).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("get all pending changes: %w", err)
	}
	return entries, nil
}

// CountPending returns the number of pending, non-dead-lettered entries.
func (j *Journal) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := j.db.WithContext(ctx).Model(&localstore.JournalEntry{}).
		Where("synced = ? AND retry_count < ?", false, maxRetries).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count pending changes: %w", err)
	}
	return count, nil
}

// MarkSynced flips an entry to synced and stamps synced_at.
func (j *Journal) MarkSynced(ctx context.Context, id string) error {
	now := time.Now()
	err := j.db.WithContext(ctx).Model(&localstore.JournalEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{"synced": true, "synced_at": now}).Error
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", id, err)
	}
	return nil
}

// MarkFailed records an error message and increments retry_count. It does
// not itself check whether the threshold has been crossed — PendingChanges'
// retry_count < 5 filter is what excludes a dead-lettered entry from future
// replay, exactly as in the original.
func (j *Journal) MarkFailed(ctx context.Context, id, errMsg string) error {
	err := j.db.WithContext(ctx).Model(&localstore.JournalEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"error_message": errMsg,
			"retry_count":   gorm.Expr("retry_count + 1"),
		}).Error
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return nil
}

// CleanupOldRecords deletes synced entries older than the retention
// window and returns how many rows were removed.
func (j *Journal) CleanupOldRecords(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-retentionWindow)
	res := j.db.WithContext(ctx).
		Where("synced = ? AND synced_at < ?", true, cutoff).
		Delete(&localstore.JournalEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup old journal records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
