// Package syncpush is the Push Coordinator (C6): it replays pending
// change-journal entries against the remote in a fixed dependency order,
// marking each entry synced or failed as it goes.
//
// Grounded on original_source/src-tauri/src/sync/push.rs — the five-table
// push order, the build-lookups-then-replay-per-table shape, and the
// deliberate delete-is-log-only behavior are ported exactly; see
// SPEC_FULL.md §12 for why transaction_items is absent from this order.
package syncpush

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/goldpos/syncd/internal/localstore"
	"github.com/goldpos/syncd/internal/sfclient"
	"github.com/goldpos/syncd/internal/sfmapper"
	"github.com/goldpos/syncd/internal/syncjournal"
	"github.com/goldpos/syncd/internal/syncmetrics"
)

// pushOrder is the fixed dependency order from §4.6: branches are
// pre-provisioned and never pushed.
var pushOrder = []string{"products", "inventory", "customers", "gold_prices", "transactions"}

// Result accumulates the outcome of a push run, mergeable across tables.
type Result struct {
	RecordsPushed int
	Errors        []string
}

func (r *Result) merge(other Result) {
	r.RecordsPushed += other.RecordsPushed
	r.Errors = append(r.Errors, other.Errors...)
}

func (r Result) Success() bool { return len(r.Errors) == 0 }

// Coordinator is the Push Coordinator.
type Coordinator struct {
	db      *gorm.DB
	api     *sfclient.API
	journal *syncjournal.Journal
}

// New constructs a Push Coordinator over an open local store and the
// remote API facade.
func New(store *localstore.Store, api *sfclient.API) *Coordinator {
	return &Coordinator{db: store.DB, api: api, journal: syncjournal.New(store)}
}

// PushAll replays every pending change in the five synced tables, in
// dependency order, resolving foreign keys through a lookup bundle built
// fresh from the current salesforce_id columns.
func (c *Coordinator) PushAll(ctx context.Context) (Result, error) {
	var result Result

	lookups, err := c.buildLookups(ctx)
	if err != nil {
		return result, fmt.Errorf("build lookups: %w", err)
	}

	for _, table := range pushOrder {
		tableResult, err := c.pushTable(ctx, table, lookups)
		if err != nil {
			return result, fmt.Errorf("push %s: %w", table, err)
		}
		result.merge(tableResult)
	}

	if err := c.updateLastPushAt(ctx); err != nil {
		return result, fmt.Errorf("update watermark: %w", err)
	}

	return result, nil
}

func (c *Coordinator) pushTable(ctx context.Context, table string, lookups sfmapper.Lookups) (Result, error) {
	var result Result

	changes, err := c.journal.PendingChanges(ctx, table)
	if err != nil {
		return result, err
	}

	for _, change := range changes {
		sfID, pushErr := c.pushChange(ctx, change, lookups)
		if pushErr != nil {
			if markErr := c.journal.MarkFailed(ctx, change.ID, pushErr.Error()); markErr != nil {
				return result, markErr
			}
			syncmetrics.PushErrorsTotal.WithLabelValues(table).Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", table, change.RecordID, pushErr))
			continue
		}

		if sfID != "" {
			if err := c.updateSalesforceID(ctx, table, change.RecordID, sfID); err != nil {
				return result, err
			}
		}
		if err := c.journal.MarkSynced(ctx, change.ID); err != nil {
			return result, err
		}
		result.RecordsPushed++
	}

	return result, nil
}

// pushChange dispatches one journal entry by action and table name,
// returning the remote id assigned (empty for a matched-not-created
// upsert or for deletes).
func (c *Coordinator) pushChange(ctx context.Context, change localstore.JournalEntry, lookups sfmapper.Lookups) (string, error) {
	switch change.Action {
	case syncjournal.ActionDelete:
		return "", c.handleDelete(ctx, change.TableName, change.RecordID)
	case syncjournal.ActionInsert, syncjournal.ActionUpdate:
		return c.handleUpsert(ctx, change.TableName, change.RecordID, lookups)
	default:
		return "", fmt.Errorf("unknown action: %s", change.Action)
	}
}

// handleDelete only logs the intent, matching the original's commented-out
// client.delete_record call — data integrity favors keeping the remote
// record over propagating a local delete (§4.6, §9 decision log).
func (c *Coordinator) handleDelete(ctx context.Context, table, recordID string) error {
	sfID, err := c.getSalesforceID(ctx, table, recordID)
	if err != nil {
		return err
	}
	if sfID != "" {
		log.Info().Str("table", table).Str("recordId", recordID).Str("salesforceId", sfID).
			Msg("would delete remote record (soft-delete only, remote delete not performed)")
	}
	return nil
}

func (c *Coordinator) handleUpsert(ctx context.Context, table, recordID string, lookups sfmapper.Lookups) (string, error) {
	switch table {
	case "products":
		var p localstore.Product
		if err := c.db.WithContext(ctx).First(&p, "id = ?", recordID).Error; err != nil {
			return "", fmt.Errorf("product not found: %w", err)
		}
		return c.api.UpsertProduct(ctx, sfmapper.ProductToRemote(p))

	case "inventory":
		var inv localstore.Inventory
		if err := c.db.WithContext(ctx).First(&inv, "id = ?", recordID).Error; err != nil {
			return "", fmt.Errorf("inventory not found: %w", err)
		}
		sfInv, err := sfmapper.InventoryToRemote(inv, lookups)
		if err != nil {
			return "", err
		}
		return c.api.UpsertInventory(ctx, sfInv)

	case "customers":
		var cust localstore.Customer
		if err := c.db.WithContext(ctx).First(&cust, "id = ?", recordID).Error; err != nil {
			return "", fmt.Errorf("customer not found: %w", err)
		}
		return c.api.UpsertCustomer(ctx, sfmapper.CustomerToRemote(cust))

	case "gold_prices":
		var gp localstore.GoldPrice
		if err := c.db.WithContext(ctx).First(&gp, "id = ?", recordID).Error; err != nil {
			return "", fmt.Errorf("gold price not found: %w", err)
		}
		return c.api.CreateGoldPrice(ctx, sfmapper.GoldPriceToRemote(gp))

	case "transactions":
		var tx localstore.Transaction
		if err := c.db.WithContext(ctx).First(&tx, "id = ?", recordID).Error; err != nil {
			return "", fmt.Errorf("transaction not found: %w", err)
		}
		sfTx, err := sfmapper.TransactionToRemote(tx, lookups)
		if err != nil {
			return "", err
		}
		return c.api.UpsertTransaction(ctx, sfTx)

	default:
		return "", fmt.Errorf("unknown table: %s", table)
	}
}

// buildLookups rebuilds the local-id -> remote-id bundle from scratch on
// every push run — it is never cached across runs.
func (c *Coordinator) buildLookups(ctx context.Context) (sfmapper.Lookups, error) {
	lookups := sfmapper.NewLookups()

	if err := loadLookup(ctx, c.db, "branches", lookups.Branches); err != nil {
		return lookups, err
	}
	if err := loadLookup(ctx, c.db, "products", lookups.Products); err != nil {
		return lookups, err
	}
	if err := loadLookup(ctx, c.db, "inventory", lookups.Inventory); err != nil {
		return lookups, err
	}
	if err := loadLookup(ctx, c.db, "customers", lookups.Customers); err != nil {
		return lookups, err
	}
	if err := loadLookup(ctx, c.db, "transactions", lookups.Transactions); err != nil {
		return lookups, err
	}

	return lookups, nil
}

type idPair struct {
	ID           string
	SalesforceID string
}

func loadLookup(ctx context.Context, db *gorm.DB, table string, into map[string]string) error {
	var rows []idPair
	err := db.WithContext(ctx).Table(table).
		Select("id, salesforce_id").
		Where("salesforce_id IS NOT NULL").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("load %s lookups: %w", table, err)
	}
	for _, r := range rows {
		into[r.ID] = r.SalesforceID
	}
	return nil
}

func (c *Coordinator) getSalesforceID(ctx context.Context, table, recordID string) (string, error) {
	var row struct{ SalesforceID *string }
	err := c.db.WithContext(ctx).Table(table).Select("salesforce_id").Where("id = ?", recordID).Take(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", fmt.Errorf("get salesforce id for %s/%s: %w", table, recordID, err)
	}
	if row.SalesforceID == nil {
		return "", nil
	}
	return *row.SalesforceID, nil
}

func (c *Coordinator) updateSalesforceID(ctx context.Context, table, recordID, sfID string) error {
	err := c.db.WithContext(ctx).Table(table).Where("id = ?", recordID).Update("salesforce_id", sfID).Error
	if err != nil {
		return fmt.Errorf("update salesforce id for %s/%s: %w", table, recordID, err)
	}
	return nil
}

// updateLastPushAt stamps the watermark row of each table in pushOrder
// with the current time, mirroring the conceptual update_last_push_at the original
// push path implies (§12).
func (c *Coordinator) updateLastPushAt(ctx context.Context) error {
	for _, table := range pushOrder {
		wm := localstore.Watermark{TableName: table}
		if err := c.db.WithContext(ctx).
			Where(localstore.Watermark{TableName: table}).
			FirstOrCreate(&wm).Error; err != nil {
			return err
		}
		now := time.Now()
		if err := c.db.WithContext(ctx).Model(&localstore.Watermark{}).
			Where("table_name = ?", table).
			Update("last_push_at", &now).Error; err != nil {
			return err
		}
	}
	return nil
}
