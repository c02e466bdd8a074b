// Package syncpull is the Pull Coordinator (C7): a watermarked fetch of
// remote records into the local store, upserting by natural key and
// resolving foreign keys through a reverse lookup rebuilt fresh on every
// run.
//
// Grounded on original_source/src-tauri/src/sync/pull.rs — the
// gold_prices/products/inventory sub-pull order, the reverse-lookup
// resolution of product/branch foreign keys, and the "skip on missing
// product, default branch" rule are ported field for field.
package syncpull

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/goldpos/syncd/internal/localstore"
	"github.com/goldpos/syncd/internal/sfclient"
	"github.com/goldpos/syncd/internal/sfmapper"
	"github.com/goldpos/syncd/internal/syncmetrics"
)

// defaultBranchCode is the fallback local branch used when a pulled
// inventory row references a remote branch with no known local
// counterpart, per §4.7.
const defaultBranchCode = "default"

// Result accumulates the outcome of a pull run, mergeable across tables.
type Result struct {
	RecordsPulled int
	Errors        []string
}

func (r *Result) merge(other Result) {
	r.RecordsPulled += other.RecordsPulled
	r.Errors = append(r.Errors, other.Errors...)
}

func (r Result) Success() bool { return len(r.Errors) == 0 }

// Coordinator is the Pull Coordinator.
type Coordinator struct {
	db  *gorm.DB
	api *sfclient.API
}

// New constructs a Pull Coordinator over an open local store and the
// remote API facade.
func New(store *localstore.Store, api *sfclient.API) *Coordinator {
	return &Coordinator{db: store.DB, api: api}
}

// PullAll runs the three sub-pulls in order — gold_prices, products,
// inventory — merging their results into a single PullResult, per §4.7.
func (c *Coordinator) PullAll(ctx context.Context) (Result, error) {
	var result Result

	gp, err := c.PullGoldPrices(ctx, false)
	if err != nil {
		return result, fmt.Errorf("pull gold prices: %w", err)
	}
	result.merge(gp)

	prod, err := c.pullProducts(ctx)
	if err != nil {
		return result, fmt.Errorf("pull products: %w", err)
	}
	result.merge(prod)

	inv, err := c.PullInventory(ctx, "")
	if err != nil {
		return result, fmt.Errorf("pull inventory: %w", err)
	}
	result.merge(inv)

	return result, nil
}

// PullGoldPrices fetches gold prices. When quickToday is true (the
// dedicated quick-pull entrypoint, §4.7/§4.8's pull_gold_prices), the
// fetch is constrained to today's date in local time; a full sync run
// passes quickToday=false and uses the table's last_pull_at watermark
// with no date bound.
func (c *Coordinator) PullGoldPrices(ctx context.Context, quickToday bool) (Result, error) {
	var result Result
	const table = "gold_prices"

	since := ""
	dateEquals := ""
	if quickToday {
		dateEquals = time.Now().Local().Format("2006-01-02")
	} else {
		wm, err := c.loadWatermark(ctx, table)
		if err != nil {
			return result, err
		}
		if wm.LastPullAt != nil {
			since = wm.LastPullAt.UTC().Format(time.RFC3339)
		}
	}

	remote, err := c.api.GetGoldPrices(ctx, since, dateEquals)
	if err != nil {
		return result, err
	}

	seen := make(map[string]bool, len(remote))
	for _, sf := range remote {
		key := fmt.Sprintf("%s|%s|%d", sf.Date, sf.GoldType, sf.Purity)
		if seen[key] {
			continue
		}
		seen[key] = true

		local := sfmapper.GoldPriceFromRemote(sf)
		if err := c.upsertGoldPrice(ctx, local); err != nil {
			syncmetrics.PullErrorsTotal.WithLabelValues(table).Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("gold_prices/%s: %v", sf.ID, err))
			continue
		}
		result.RecordsPulled++
	}

	if err := c.advanceWatermark(ctx, table, result.RecordsPulled); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Coordinator) upsertGoldPrice(ctx context.Context, gp localstore.GoldPrice) error {
	var existing localstore.GoldPrice
	err := c.db.WithContext(ctx).
		Where("date = ? AND gold_type = ? AND purity = ?", gp.Date, gp.GoldType, gp.Purity).
		First(&existing).Error
	switch {
	case err == nil:
		gp.ID = existing.ID
		gp.CreatedAt = existing.CreatedAt
		return c.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"buy_price":     gp.BuyPrice,
			"sell_price":    gp.SellPrice,
			"source":        gp.Source,
			"salesforce_id": gp.SalesforceID,
		}).Error
	case err == gorm.ErrRecordNotFound:
		gp.ID = newLocalID()
		gp.CreatedAt = time.Now()
		return c.db.WithContext(ctx).Create(&gp).Error
	default:
		return err
	}
}

// pullProducts fetches products modified since the table's watermark and
// upserts by sku or salesforce_id.
func (c *Coordinator) pullProducts(ctx context.Context) (Result, error) {
	var result Result
	const table = "products"

	wm, err := c.loadWatermark(ctx, table)
	if err != nil {
		return result, err
	}
	since := ""
	if wm.LastPullAt != nil {
		since = wm.LastPullAt.UTC().Format(time.RFC3339)
	}

	remote, err := c.api.GetProducts(ctx, since)
	if err != nil {
		return result, err
	}

	for _, sf := range remote {
		local := sfmapper.ProductFromRemote(sf)
		if err := c.upsertProduct(ctx, local); err != nil {
			syncmetrics.PullErrorsTotal.WithLabelValues(table).Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("products/%s: %v", sf.ID, err))
			continue
		}
		result.RecordsPulled++
	}

	if err := c.advanceWatermark(ctx, table, result.RecordsPulled); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Coordinator) upsertProduct(ctx context.Context, p localstore.Product) error {
	var existing localstore.Product
	q := c.db.WithContext(ctx)
	err := q.Where("sku = ? OR salesforce_id = ?", p.SKU, p.SalesforceID).First(&existing).Error
	switch {
	case err == nil:
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		return c.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"name":          p.Name,
			"description":   p.Description,
			"gold_type":     p.GoldType,
			"gold_purity":   p.GoldPurity,
			"weight_gram":   p.WeightGram,
			"labor_cost":    p.LaborCost,
			"is_active":     p.IsActive,
			"salesforce_id": p.SalesforceID,
		}).Error
	case err == gorm.ErrRecordNotFound:
		p.ID = newLocalID()
		p.CreatedAt = time.Now()
		return c.db.WithContext(ctx).Create(&p).Error
	default:
		return err
	}
}

// PullInventory fetches inventory rows, optionally restricted to a single
// local branch by resolving its salesforce_id and passing it as a remote
// branch filter (§4.3/§4.7). If branchID names no local branch, or that
// branch has no salesforce_id, no branch filter is sent and inventory for
// every branch is pulled. It is the target of both PullAll and C8's
// scoped pull_inventory(branch_filter?) entrypoint.
func (c *Coordinator) PullInventory(ctx context.Context, branchID string) (Result, error) {
	var result Result
	const table = "inventory"

	wm, err := c.loadWatermark(ctx, table)
	if err != nil {
		return result, err
	}
	since := ""
	if wm.LastPullAt != nil {
		since = wm.LastPullAt.UTC().Format(time.RFC3339)
	}

	branchRemoteID := ""
	if branchID != "" {
		var branch localstore.Branch
		if err := c.db.WithContext(ctx).First(&branch, "id = ?", branchID).Error; err == nil && branch.SalesforceID != nil {
			branchRemoteID = *branch.SalesforceID
		}
	}

	remote, err := c.api.GetInventory(ctx, since, branchRemoteID)
	if err != nil {
		return result, err
	}

	rlk, defaultBranchID, err := c.buildReverseLookups(ctx)
	if err != nil {
		return result, err
	}

	for _, sf := range remote {
		local, ok := sfmapper.InventoryFromRemote(sf, rlk, defaultBranchID)
		if !ok {
			syncmetrics.PullErrorsTotal.WithLabelValues(table).Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("Product %s not found for inventory %s", sf.Product, sf.ID))
			continue
		}
		if err := c.upsertInventory(ctx, local); err != nil {
			syncmetrics.PullErrorsTotal.WithLabelValues(table).Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("inventory/%s: %v", sf.ID, err))
			continue
		}
		result.RecordsPulled++
	}

	if err := c.advanceWatermark(ctx, table, result.RecordsPulled); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Coordinator) upsertInventory(ctx context.Context, inv localstore.Inventory) error {
	var existing localstore.Inventory
	err := c.db.WithContext(ctx).
		Where("barcode = ? OR salesforce_id = ?", inv.Barcode, inv.SalesforceID).
		First(&existing).Error
	switch {
	case err == nil:
		inv.ID = existing.ID
		inv.CreatedAt = existing.CreatedAt
		// Remote-wins for mutable fields, per §4.7; product/branch/barcode
		// are treated as immutable identity once established locally.
		return c.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"status":         inv.Status,
			"location":       inv.Location,
			"purchase_price": inv.PurchasePrice,
			"notes":          inv.Notes,
			"supplier":       inv.Supplier,
			"sold_at":        inv.SoldAt,
			"salesforce_id":  inv.SalesforceID,
		}).Error
	case err == gorm.ErrRecordNotFound:
		inv.ID = newLocalID()
		inv.CreatedAt = time.Now()
		return c.db.WithContext(ctx).Create(&inv).Error
	default:
		return err
	}
}

// buildReverseLookups rebuilds remote_id -> local_id maps for products and
// branches from local rows with a non-null salesforce_id, and resolves the
// local "default" branch's id for inventory rows whose remote branch has
// no local counterpart. Never cached across runs (§4.7, §9).
func (c *Coordinator) buildReverseLookups(ctx context.Context) (sfmapper.ReverseLookups, string, error) {
	rlk := sfmapper.NewReverseLookups()

	type idPair struct {
		ID           string
		SalesforceID string
	}

	var products []idPair
	if err := c.db.WithContext(ctx).Table("products").
		Select("id, salesforce_id").Where("salesforce_id IS NOT NULL").Find(&products).Error; err != nil {
		return rlk, "", fmt.Errorf("load product reverse lookup: %w", err)
	}
	for _, p := range products {
		rlk.Products[p.SalesforceID] = p.ID
	}

	var branches []idPair
	if err := c.db.WithContext(ctx).Table("branches").
		Select("id, salesforce_id").Where("salesforce_id IS NOT NULL").Find(&branches).Error; err != nil {
		return rlk, "", fmt.Errorf("load branch reverse lookup: %w", err)
	}
	for _, b := range branches {
		rlk.Branches[b.SalesforceID] = b.ID
	}

	var defaultBranch localstore.Branch
	defaultBranchID := defaultBranchCode
	if err := c.db.WithContext(ctx).Where("code = ?", defaultBranchCode).First(&defaultBranch).Error; err == nil {
		defaultBranchID = defaultBranch.ID
	}

	return rlk, defaultBranchID, nil
}

func (c *Coordinator) loadWatermark(ctx context.Context, table string) (localstore.Watermark, error) {
	wm := localstore.Watermark{TableName: table}
	err := c.db.WithContext(ctx).
		Where(localstore.Watermark{TableName: table}).
		FirstOrCreate(&wm).Error
	if err != nil {
		return wm, fmt.Errorf("load watermark for %s: %w", table, err)
	}
	return wm, nil
}

// advanceWatermark stamps last_pull_at to now and adds pulled to the
// running records_pulled total, matching §4.7 step 4 exactly.
func (c *Coordinator) advanceWatermark(ctx context.Context, table string, pulled int) error {
	now := time.Now()
	err := c.db.WithContext(ctx).Model(&localstore.Watermark{}).
		Where("table_name = ?", table).
		Updates(map[string]any{
			"last_pull_at":   &now,
			"records_pulled": gorm.Expr("records_pulled + ?", pulled),
		}).Error
	if err != nil {
		return fmt.Errorf("advance watermark for %s: %w", table, err)
	}
	log.Debug().Str("table", table).Int("pulled", pulled).Msg("watermark advanced")
	return nil
}

func newLocalID() string {
	return uuid.New().String()
}
