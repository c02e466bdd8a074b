package sfclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// API is the typed Remote API facade (C3): one method per remote object and
// operation, per §4.3. It owns the exact field-rename tables and SOQL
// select lists, leaving retry/backoff/pagination to the embedded Client.
type API struct {
	*Client
}

// NewAPI wraps an existing low-level Client with the typed facade.
func NewAPI(c *Client) *API {
	return &API{Client: c}
}

// SfBranch is the remote Branch__c shape.
type SfBranch struct {
	ID       string `json:"Id,omitempty"`
	Name     string `json:"Name"`
	Code     string `json:"Code__c"`
	Address  string `json:"Address__c,omitempty"`
	Phone    string `json:"Phone__c,omitempty"`
	IsActive bool   `json:"Is_Active__c"`
}

func (a *API) GetBranches(ctx context.Context) ([]SfBranch, error) {
	return queryEntity[SfBranch](ctx, a.Client,
		"SELECT Id, Name, Code__c, Address__c, Phone__c, Is_Active__c FROM Branch__c")
}

func (a *API) UpsertBranch(ctx context.Context, b SfBranch) (string, error) {
	return a.upsertRecord(ctx, "Branch__c", "Code__c", b.Code, b)
}

// SfProduct is the remote Product__c shape.
type SfProduct struct {
	ID          string  `json:"Id,omitempty"`
	Name        string  `json:"Name"`
	SKU         string  `json:"SKU__c"`
	Description string  `json:"Description__c,omitempty"`
	GoldType    string  `json:"Gold_Type__c"`
	GoldPurity  int     `json:"Gold_Purity__c"`
	WeightGram  float64 `json:"Weight_Gram__c"`
	LaborCost   int64   `json:"Labor_Cost__c"`
	IsActive    bool    `json:"Is_Active__c"`
}

// GetProducts lists products, optionally restricted to rows modified after
// since (RFC3339), matching §4.7's incremental pull via last_pull_at.
func (a *API) GetProducts(ctx context.Context, since string) ([]SfProduct, error) {
	soql := "SELECT Id, Name, SKU__c, Description__c, Gold_Type__c, Gold_Purity__c, " +
		"Weight_Gram__c, Labor_Cost__c, Is_Active__c FROM Product__c"
	if since != "" {
		soql += fmt.Sprintf(" WHERE LastModifiedDate > %s", soql2DateTime(since))
	}
	return queryEntity[SfProduct](ctx, a.Client, soql)
}

func (a *API) UpsertProduct(ctx context.Context, p SfProduct) (string, error) {
	return a.upsertRecord(ctx, "Product__c", "SKU__c", p.SKU, p)
}

// SfInventory is the remote Inventory__c shape. Branch and Product are
// lookup fields holding the *remote* id of the related Branch__c/Product__c
// record, resolved by the mapper before the wire call.
type SfInventory struct {
	ID            string  `json:"Id,omitempty"`
	Name          string  `json:"Name"`
	Barcode       string  `json:"Barcode__c"`
	Product       string  `json:"Product__c"`
	Branch        string  `json:"Branch__c"`
	Status        string  `json:"Status__c"`
	Location      string  `json:"Location__c,omitempty"`
	PurchasePrice int64   `json:"Purchase_Price__c,omitempty"`
	PurchaseDate  string  `json:"Purchase_Date__c,omitempty"`
	Supplier      string  `json:"Supplier__c,omitempty"`
	Notes         string  `json:"Notes__c,omitempty"`
	SoldAt        *string `json:"Sold_At__c,omitempty"`
}

// GetInventory lists inventory rows, optionally constrained to rows
// modified after since (RFC3339) and/or belonging to a single branch's
// remote id, per §4.3 — the two predicates conjoin with AND when both are
// supplied.
func (a *API) GetInventory(ctx context.Context, since, branchRemoteID string) ([]SfInventory, error) {
	soql := "SELECT Id, Name, Barcode__c, Product__c, Branch__c, Status__c, Location__c, " +
		"Purchase_Price__c, Purchase_Date__c, Supplier__c, Notes__c, Sold_At__c FROM Inventory__c"
	soql += soqlWhere(soqlPredicates(since, branchRemoteID))
	return queryEntity[SfInventory](ctx, a.Client, soql)
}

func (a *API) UpsertInventory(ctx context.Context, inv SfInventory) (string, error) {
	return a.upsertRecord(ctx, "Inventory__c", "Barcode__c", inv.Barcode, inv)
}

// BatchUpsertInventory drives §4.2's BatchUpsert/composite path for
// inventory, keyed by barcode. The Push Coordinator does not call it: it
// replays inventory one record at a time through UpsertInventory.
func (a *API) BatchUpsertInventory(ctx context.Context, items []BatchUpsertItem) ([]BatchResult, error) {
	return a.batchUpsert(ctx, "Inventory__c", "Barcode__c", items)
}

// SfGoldPrice is the remote Gold_Price__c shape. There is no stable
// external id field for this object — every push is a Create, one per
// journal entry; rows are matched by (date, gold_type, purity) only on the
// pull side.
type SfGoldPrice struct {
	ID        string `json:"Id,omitempty"`
	Name      string `json:"Name"`
	Date      string `json:"Date__c"`
	GoldType  string `json:"Gold_Type__c"`
	Purity    int    `json:"Purity__c"`
	BuyPrice  int64  `json:"Buy_Price__c"`
	SellPrice int64  `json:"Sell_Price__c"`
	Source    string `json:"Source__c,omitempty"`
}

// GetGoldPrices lists gold price rows. since (RFC3339) bounds the full
// sync's incremental pull; dateEquals (YYYY-MM-DD) is used instead by the
// dedicated quick-pull to constrain the fetch to a single calendar date,
// per §4.7 — the two are mutually exclusive in practice but both flow
// through the same AND-conjoined predicate builder.
func (a *API) GetGoldPrices(ctx context.Context, since, dateEquals string) ([]SfGoldPrice, error) {
	soql := "SELECT Id, Name, Date__c, Gold_Type__c, Purity__c, Buy_Price__c, Sell_Price__c, Source__c FROM Gold_Price__c"
	var preds []string
	if since != "" {
		preds = append(preds, fmt.Sprintf("LastModifiedDate > %s", soql2DateTime(since)))
	}
	if dateEquals != "" {
		preds = append(preds, fmt.Sprintf("Date__c = %s", dateEquals))
	}
	soql += soqlWhere(preds)
	return queryEntity[SfGoldPrice](ctx, a.Client, soql)
}

func (a *API) CreateGoldPrice(ctx context.Context, gp SfGoldPrice) (string, error) {
	return a.createRecord(ctx, "Gold_Price__c", gp)
}

// SfCustomer is the remote Customer__c shape.
type SfCustomer struct {
	ID                string `json:"Id,omitempty"`
	Name              string `json:"Name"`
	Phone             string `json:"Phone__c,omitempty"`
	NIK               string `json:"NIK__c,omitempty"`
	Address           string `json:"Address__c,omitempty"`
	Notes             string `json:"Notes__c,omitempty"`
	TotalTransactions int    `json:"Total_Transactions__c,omitempty"`
}

func (a *API) GetCustomers(ctx context.Context) ([]SfCustomer, error) {
	return queryEntity[SfCustomer](ctx, a.Client,
		"SELECT Id, Name, Phone__c, NIK__c, Address__c, Notes__c, Total_Transactions__c FROM Customer__c")
}

// UpsertCustomer upserts on phone when present; phone is not guaranteed
// unique on the remote side the way code/SKU/barcode/invoice_no are, so a
// customer without a phone number is always created fresh, per §4.6.
func (a *API) UpsertCustomer(ctx context.Context, cust SfCustomer) (string, error) {
	if cust.Phone == "" {
		return a.createRecord(ctx, "Customer__c", cust)
	}
	return a.upsertRecord(ctx, "Customer__c", "Phone__c", cust.Phone, cust)
}

// SfTransaction is the remote Transaction__c shape.
type SfTransaction struct {
	ID            string `json:"Id,omitempty"`
	Name          string `json:"Name"`
	InvoiceNumber string `json:"Invoice_Number__c"`
	Branch        string `json:"Branch__c"`
	Customer      string `json:"Customer__c,omitempty"`
	Type          string `json:"Type__c"`
	Subtotal      int64  `json:"Subtotal__c"`
	Discount      int64  `json:"Discount__c,omitempty"`
	TotalAmount   int64  `json:"Total_Amount__c"`
	Notes         string `json:"Notes__c,omitempty"`
	Status        string `json:"Status__c"`
	CreatedAt     string `json:"Created_At__c,omitempty"`
}

func (a *API) GetTransactions(ctx context.Context) ([]SfTransaction, error) {
	return queryEntity[SfTransaction](ctx, a.Client,
		"SELECT Id, Name, Invoice_Number__c, Branch__c, Customer__c, Type__c, Subtotal__c, "+
			"Discount__c, Total_Amount__c, Notes__c, Status__c, Created_At__c FROM Transaction__c")
}

func (a *API) UpsertTransaction(ctx context.Context, tx SfTransaction) (string, error) {
	return a.upsertRecord(ctx, "Transaction__c", "Invoice_Number__c", tx.InvoiceNumber, tx)
}

// SfTransactionItem is the remote Transaction_Item__c shape. The facade
// keeps these methods for completeness — the Push and Pull Coordinators
// never call them, matching the original implementation, which wires this
// object's API methods but never drives them from its sync coordinators.
type SfTransactionItem struct {
	ID          string  `json:"Id,omitempty"`
	Name        string  `json:"Name"`
	Transaction string  `json:"Transaction__c"`
	Inventory   string  `json:"Inventory__c"`
	Quantity    int     `json:"Quantity__c"`
	UnitPrice   int64   `json:"Unit_Price__c"`
	Subtotal    float64 `json:"Subtotal__c"`
}

func (a *API) GetTransactionItems(ctx context.Context) ([]SfTransactionItem, error) {
	return queryEntity[SfTransactionItem](ctx, a.Client,
		"SELECT Id, Name, Transaction__c, Inventory__c, Quantity__c, Unit_Price__c, Subtotal__c FROM Transaction_Item__c")
}

func (a *API) CreateTransactionItem(ctx context.Context, item SfTransactionItem) (string, error) {
	return a.createRecord(ctx, "Transaction_Item__c", item)
}

// DeleteRecord exposes the low-level client's delete verb on the facade for
// administrative callers; the sync coordinators do not call it for
// business records (§4.6).
func (a *API) DeleteRecord(ctx context.Context, sobject, remoteID string) error {
	return a.deleteRecord(ctx, sobject, remoteID)
}

// TestConnection runs a minimal, cheap query to confirm the access token
// and instance URL actually work end to end, per §4.1/§4.8's test_connection.
func (a *API) TestConnection(ctx context.Context) error {
	_, err := a.get(ctx, "limits")
	return err
}

// soql2DateTime passes an RFC3339 timestamp through as a SOQL datetime
// literal; SOQL accepts ISO-8601 datetimes unquoted in a WHERE clause.
func soql2DateTime(since string) string {
	return strings.TrimSpace(since)
}

// soqlPredicates builds the optional since/branch predicate pair the pull
// methods conjoin with AND, per §4.3.
func soqlPredicates(since, branchRemoteID string) []string {
	var preds []string
	if since != "" {
		preds = append(preds, fmt.Sprintf("LastModifiedDate > %s", soql2DateTime(since)))
	}
	if branchRemoteID != "" {
		preds = append(preds, fmt.Sprintf("Branch__c = '%s'", branchRemoteID))
	}
	return preds
}

// soqlWhere joins predicates with AND and prefixes " WHERE " when non-empty.
func soqlWhere(preds []string) string {
	if len(preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(preds, " AND ")
}

// queryEntity runs soql via queryAll and decodes every record into T,
// returning a SchemaMismatchError if any record fails to decode.
func queryEntity[T any](ctx context.Context, c *Client, soql string) ([]T, error) {
	raw, err := c.queryAll(ctx, soql)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &out[i]); err != nil {
			return nil, SchemaMismatchError{Body: string(r), Err: fmt.Errorf("decode record %d: %w", i, err)}
		}
	}
	return out, nil
}
