// Package sfmapper is the bidirectional Mapper (C4): static, per-entity
// field-rename tables between the local store's rows and their remote
// wire shape, dispatched by table name rather than reflection.
//
// Grounded on original_source/src-tauri/src/salesforce/mapper.rs (the
// SfLookups local-id -> remote-id bundle and the ToSalesforce/
// FromSalesforce trait split) and the teacher's rest_types.go (hand-written
// struct-to-struct field renames rather than a generic mapping library —
// the field set is small, fixed, and known at compile time, so a reflection-
// based mapper would add indirection without buying anything; see
// DESIGN.md's stdlib-only justification for this package).
package sfmapper

import (
	"fmt"

	"github.com/goldpos/syncd/internal/localstore"
	"github.com/goldpos/syncd/internal/sfclient"
)

// Lookups holds local-id -> remote-id maps, rebuilt fresh from the local
// store's salesforce_id columns at the start of each push run (§4.6).
type Lookups struct {
	Branches     map[string]string
	Products     map[string]string
	Inventory    map[string]string
	Customers    map[string]string
	Transactions map[string]string
}

// NewLookups returns an empty, ready-to-populate Lookups bundle.
func NewLookups() Lookups {
	return Lookups{
		Branches:     make(map[string]string),
		Products:     make(map[string]string),
		Inventory:    make(map[string]string),
		Customers:    make(map[string]string),
		Transactions: make(map[string]string),
	}
}

// ReverseLookups holds remote-id -> local-id maps, rebuilt fresh at the
// start of each pull run — never cached across runs, per §4.7.
type ReverseLookups struct {
	Branches map[string]string
	Products map[string]string
}

// NewReverseLookups returns an empty, ready-to-populate ReverseLookups bundle.
func NewReverseLookups() ReverseLookups {
	return ReverseLookups{
		Branches: make(map[string]string),
		Products: make(map[string]string),
	}
}

// ErrFieldRequired is returned when a push-direction conversion needs a
// remote id a Lookups bundle doesn't have yet (the referenced row hasn't
// been pushed, or its own push failed earlier in the same run).
type ErrFieldRequired struct {
	Table string
	Field string
	ID    string
}

func (e ErrFieldRequired) Error() string {
	return fmt.Sprintf("%s: no remote id resolved for %s %q", e.Table, e.Field, e.ID)
}

// BranchToRemote converts a local branch row to its wire shape. Branches
// are pre-provisioned and never pushed by the coordinators (§4.6), but the
// conversion is kept for symmetry and administrative tooling.
func BranchToRemote(b localstore.Branch) sfclient.SfBranch {
	return sfclient.SfBranch{
		Name:     b.Name,
		Code:     b.Code,
		Address:  b.Address,
		Phone:    b.Phone,
		IsActive: b.IsActive,
	}
}

// ProductToRemote converts a local product row; products carry no foreign
// keys into other synced tables.
func ProductToRemote(p localstore.Product) sfclient.SfProduct {
	sku := ""
	if p.SKU != nil {
		sku = *p.SKU
	}
	desc := ""
	if p.Description != nil {
		desc = *p.Description
	}
	return sfclient.SfProduct{
		Name:        p.Name,
		SKU:         sku,
		Description: desc,
		GoldType:    p.GoldType,
		GoldPurity:  p.GoldPurity,
		WeightGram:  p.WeightGram,
		LaborCost:   p.LaborCost,
		IsActive:    p.IsActive,
	}
}

// ProductFromRemote converts a pulled remote product back to a local row,
// preserving its remote id.
func ProductFromRemote(sf sfclient.SfProduct) localstore.Product {
	sku := sf.SKU
	return localstore.Product{
		SKU:          &sku,
		Name:         sf.Name,
		Description:  &sf.Description,
		GoldType:     sf.GoldType,
		GoldPurity:   sf.GoldPurity,
		WeightGram:   sf.WeightGram,
		LaborCost:    sf.LaborCost,
		IsActive:     sf.IsActive,
		SalesforceID: &sf.ID,
	}
}

// InventoryToRemote converts a local inventory row, resolving its product
// and branch foreign keys through lk. Returns ErrFieldRequired if either
// referenced row has no resolved remote id yet.
func InventoryToRemote(inv localstore.Inventory, lk Lookups) (sfclient.SfInventory, error) {
	productSfID, ok := lk.Products[inv.ProductID]
	if !ok {
		return sfclient.SfInventory{}, ErrFieldRequired{Table: "inventory", Field: "product_id", ID: inv.ProductID}
	}
	branchSfID, ok := lk.Branches[inv.BranchID]
	if !ok {
		return sfclient.SfInventory{}, ErrFieldRequired{Table: "inventory", Field: "branch_id", ID: inv.BranchID}
	}

	location, supplier, notes := "", "", ""
	if inv.Location != nil {
		location = *inv.Location
	}
	if inv.Supplier != nil {
		supplier = *inv.Supplier
	}
	if inv.Notes != nil {
		notes = *inv.Notes
	}
	purchaseDate := ""
	if inv.PurchaseDate != nil {
		purchaseDate = *inv.PurchaseDate
	}

	return sfclient.SfInventory{
		Name:          inv.Barcode,
		Barcode:       inv.Barcode,
		Product:       productSfID,
		Branch:        branchSfID,
		Status:        inv.Status,
		Location:      location,
		PurchasePrice: inv.PurchasePrice,
		PurchaseDate:  purchaseDate,
		Supplier:      supplier,
		Notes:         notes,
		SoldAt:        inv.SoldAt,
	}, nil
}

// InventoryFromRemote converts a pulled remote inventory row back to a
// local row. Product and branch are resolved through rlk; if the remote
// product id has no known local counterpart the caller should skip the
// record (§4.7 — "products must be pulled before inventory so this lookup
// can succeed"). A remote branch id with no local counterpart falls back
// to defaultBranchID rather than being skipped, matching the original's
// "default" fallback.
func InventoryFromRemote(sf sfclient.SfInventory, rlk ReverseLookups, defaultBranchID string) (localstore.Inventory, bool) {
	productID, ok := rlk.Products[sf.Product]
	if !ok {
		return localstore.Inventory{}, false
	}

	branchID, ok := rlk.Branches[sf.Branch]
	if !ok {
		branchID = defaultBranchID
	}

	inv := localstore.Inventory{
		ProductID:     productID,
		BranchID:      branchID,
		Barcode:       sf.Barcode,
		Status:        sf.Status,
		PurchasePrice: sf.PurchasePrice,
		SalesforceID:  &sf.ID,
	}
	if sf.Location != "" {
		inv.Location = &sf.Location
	}
	if sf.PurchaseDate != "" {
		inv.PurchaseDate = &sf.PurchaseDate
	}
	if sf.Supplier != "" {
		inv.Supplier = &sf.Supplier
	}
	if sf.Notes != "" {
		inv.Notes = &sf.Notes
	}
	inv.SoldAt = sf.SoldAt

	return inv, true
}

// GoldPriceToRemote converts a local gold price row. Gold prices have no
// stable external key, so the push coordinator always Creates (§4.6) —
// this conversion never needs a Lookups bundle.
func GoldPriceToRemote(gp localstore.GoldPrice) sfclient.SfGoldPrice {
	source := ""
	if gp.Source != nil {
		source = *gp.Source
	}
	return sfclient.SfGoldPrice{
		Name:      fmt.Sprintf("%s-%s-%d", gp.Date, gp.GoldType, gp.Purity),
		Date:      gp.Date,
		GoldType:  gp.GoldType,
		Purity:    gp.Purity,
		BuyPrice:  gp.BuyPrice,
		SellPrice: gp.SellPrice,
		Source:    source,
	}
}

// GoldPriceFromRemote converts a pulled remote gold price row back to a
// local row; its composite natural key (date, gold_type, purity) is used
// by the pull coordinator to detect a local duplicate before inserting.
func GoldPriceFromRemote(sf sfclient.SfGoldPrice) localstore.GoldPrice {
	return localstore.GoldPrice{
		Date:         sf.Date,
		GoldType:     sf.GoldType,
		Purity:       sf.Purity,
		BuyPrice:     sf.BuyPrice,
		SellPrice:    sf.SellPrice,
		Source:       &sf.Source,
		SalesforceID: &sf.ID,
	}
}

// CustomerToRemote converts a local customer row. sfclient's
// API.UpsertCustomer decides Create-vs-Upsert by inspecting Phone itself,
// so this conversion just carries the field through.
func CustomerToRemote(c localstore.Customer) sfclient.SfCustomer {
	phone, nik, address, notes := "", "", "", ""
	if c.Phone != nil {
		phone = *c.Phone
	}
	if c.NIK != nil {
		nik = *c.NIK
	}
	if c.Address != nil {
		address = *c.Address
	}
	if c.Notes != nil {
		notes = *c.Notes
	}
	return sfclient.SfCustomer{
		Name:              c.Name,
		Phone:             phone,
		NIK:               nik,
		Address:           address,
		Notes:             notes,
		TotalTransactions: c.TotalTransactions,
	}
}

// TransactionToRemote converts a local transaction row, resolving its
// branch and (optional) customer foreign keys through lk.
func TransactionToRemote(t localstore.Transaction, lk Lookups) (sfclient.SfTransaction, error) {
	branchSfID, ok := lk.Branches[t.BranchID]
	if !ok {
		return sfclient.SfTransaction{}, ErrFieldRequired{Table: "transactions", Field: "branch_id", ID: t.BranchID}
	}

	var customerSfID string
	if t.CustomerID != nil {
		customerSfID, ok = lk.Customers[*t.CustomerID]
		if !ok {
			return sfclient.SfTransaction{}, ErrFieldRequired{Table: "transactions", Field: "customer_id", ID: *t.CustomerID}
		}
	}

	notes := ""
	if t.Notes != nil {
		notes = *t.Notes
	}

	return sfclient.SfTransaction{
		Name:          t.InvoiceNo,
		InvoiceNumber: t.InvoiceNo,
		Branch:        branchSfID,
		Customer:      customerSfID,
		Type:          t.Type,
		Subtotal:      t.Subtotal,
		Discount:      t.Discount,
		TotalAmount:   t.TotalAmount,
		Notes:         notes,
		Status:        t.Status,
		CreatedAt:     t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}, nil
}

// TransactionItemToRemote converts a local transaction item, resolving its
// transaction and inventory foreign keys through lk. Kept for facade
// completeness; no coordinator in this module calls it (§4.6, §4.3).
func TransactionItemToRemote(ti localstore.TransactionItem, lk Lookups) (sfclient.SfTransactionItem, error) {
	txSfID, ok := lk.Transactions[ti.TransactionID]
	if !ok {
		return sfclient.SfTransactionItem{}, ErrFieldRequired{Table: "transaction_items", Field: "transaction_id", ID: ti.TransactionID}
	}
	invSfID, ok := lk.Inventory[ti.InventoryID]
	if !ok {
		return sfclient.SfTransactionItem{}, ErrFieldRequired{Table: "transaction_items", Field: "inventory_id", ID: ti.InventoryID}
	}

	return sfclient.SfTransactionItem{
		Name:        fmt.Sprintf("item-%s", ti.ID),
		Transaction: txSfID,
		Inventory:   invSfID,
		Quantity:    ti.Quantity,
		UnitPrice:   ti.UnitPrice,
		Subtotal:    float64(ti.Subtotal),
	}, nil
}
