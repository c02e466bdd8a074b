// Package localstore is the embedded relational store the sync core reads
// and writes: the synced business tables, the change journal, per-table
// watermarks, and the singleton sync configuration.
//
// Schema and natural keys are ported from the desktop application's own
// SQLite schema (branches, products, inventory, gold_prices, customers,
// transactions, transaction_items, payments); the sync core only concerns
// itself with the columns it reads or writes and the remote-id column each
// synced table carries.
package localstore

import "time"

// Branch is pre-provisioned by operator setup; the sync core treats its
// remote-id as already present and never pushes branches itself.
type Branch struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	Code         string `gorm:"uniqueIndex"`
	Address      string
	Phone        string
	IsActive     bool `gorm:"default:true"`
	SalesforceID *string `gorm:"column:salesforce_id;uniqueIndex"`
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

func (Branch) TableName() string { return "branches" }

type Product struct {
	ID           string `gorm:"primaryKey"`
	CategoryID   *string
	SKU          *string `gorm:"column:sku;uniqueIndex"`
	Name         string
	Description  *string
	GoldType     string
	GoldPurity   int
	WeightGram   float64
	LaborCost    int64
	Images       *string
	IsActive     bool `gorm:"default:true"`
	SalesforceID *string `gorm:"column:salesforce_id;uniqueIndex"`
	CreatedAt    time.Time
}

func (Product) TableName() string { return "products" }

type Inventory struct {
	ID            string `gorm:"primaryKey"`
	ProductID     string
	BranchID      string
	Barcode       string `gorm:"uniqueIndex"`
	Status        string `gorm:"default:available"`
	Location      *string
	PurchasePrice int64
	PurchaseDate  *string
	Supplier      *string
	Notes         *string
	SoldAt        *string
	SalesforceID  *string `gorm:"column:salesforce_id;uniqueIndex"`
	CreatedAt     time.Time
}

func (Inventory) TableName() string { return "inventory" }

// GoldPrice has no stable external key on the remote side; its natural key
// is the local composite (date, gold_type, purity) used for both local
// dedup and pull-side upsert matching.
type GoldPrice struct {
	ID           string `gorm:"primaryKey"`
	Date         string
	GoldType     string
	Purity       int
	BuyPrice     int64
	SellPrice    int64
	Source       *string
	SalesforceID *string `gorm:"column:salesforce_id;uniqueIndex"`
	CreatedAt    time.Time
}

func (GoldPrice) TableName() string { return "gold_prices" }

type Customer struct {
	ID                 string `gorm:"primaryKey"`
	Name               string
	Phone              *string
	NIK                *string
	Address            *string
	Notes              *string
	TotalTransactions  int
	SalesforceID       *string `gorm:"column:salesforce_id;uniqueIndex"`
	CreatedAt          time.Time
}

func (Customer) TableName() string { return "customers" }

type Transaction struct {
	ID           string `gorm:"primaryKey"`
	BranchID     string
	UserID       string
	CustomerID   *string
	InvoiceNo    string `gorm:"column:invoice_no;uniqueIndex"`
	Type         string
	Subtotal     int64
	Discount     int64
	TotalAmount  int64
	Notes        *string
	Status       string `gorm:"default:pending"`
	SalesforceID *string `gorm:"column:salesforce_id;uniqueIndex"`
	CreatedAt    time.Time
}

func (Transaction) TableName() string { return "transactions" }

// TransactionItem is a synced business table per the data model, but the
// sync core never journals or replays it: the remote schema's
// Transaction_Item__c object is reachable from the Remote API (C3) but no
// push/pull coordinator drives it. See DESIGN.md / SPEC_FULL.md §12.
type TransactionItem struct {
	ID            string `gorm:"primaryKey"`
	TransactionID string
	InventoryID   string
	Quantity      int `gorm:"default:1"`
	UnitPrice     int64
	Subtotal      int64
	GoldPriceRef  *int
	SalesforceID  *string `gorm:"column:salesforce_id;uniqueIndex"`
}

func (TransactionItem) TableName() string { return "transaction_items" }

// Payment is local-only: it carries no remote-id column because the
// remote schema has no room for a one-to-many payment split against a
// single transaction. Kept for completeness of the local store, never
// touched by the sync core.
type Payment struct {
	ID            string `gorm:"primaryKey"`
	TransactionID string
	Method        string
	Amount        int64
	ReferenceNo   *string
	BankName      *string
	Status        string `gorm:"default:pending"`
	PaidAt        *string
	CreatedAt     time.Time
}

func (Payment) TableName() string { return "payments" }

// JournalEntry is the change journal (sync log): one row per pending or
// historical mutation of a synced table, keyed by (table_name, record_id)
// while unsynced.
type JournalEntry struct {
	ID           string `gorm:"primaryKey"`
	TableName    string `gorm:"column:table_name;uniqueIndex:idx_journal_table_record"`
	RecordID     string `gorm:"column:record_id;uniqueIndex:idx_journal_table_record"`
	Action       string
	Payload      *string
	Synced       bool `gorm:"index:idx_journal_synced"`
	SyncedAt     *time.Time
	ErrorMessage *string
	RetryCount   int
	CreatedAt    time.Time
}

func (JournalEntry) TableName() string { return "sync_log" }

// Watermark is the per-table sync_metadata row.
type Watermark struct {
	TableName       string `gorm:"primaryKey;column:table_name"`
	LastPullAt      *time.Time
	LastPushAt      *time.Time
	LastFullSyncAt  *time.Time
	RecordsPulled   int64
	RecordsPushed   int64
}

func (Watermark) TableName() string { return "sync_metadata" }

// SyncConfig is the singleton credentials/settings row. There is exactly
// one row, with ID "default".
type SyncConfig struct {
	ID                   string `gorm:"primaryKey"`
	ClientID             string `gorm:"column:sf_client_id"`
	ClientSecret         string `gorm:"column:sf_client_secret"`
	Username             string `gorm:"column:sf_username"`
	Password             string `gorm:"column:sf_password"`
	SecurityToken        string `gorm:"column:sf_security_token"`
	InstanceURL          string `gorm:"column:sf_instance_url"`
	IsSandbox            bool
	SyncEnabled          bool
	SyncIntervalMinutes  int
	CreatedAt            time.Time
	UpdatedAt            *time.Time
}

func (SyncConfig) TableName() string { return "sync_config" }

// DefaultConfigID is the fixed primary key of the singleton sync_config row.
const DefaultConfigID = "default"
