package syncpull

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goldpos/syncd/internal/localstore"
	"github.com/goldpos/syncd/internal/sfauth"
	"github.com/goldpos/syncd/internal/sfclient"
)

type fakeTokens struct{ instanceURL string }

func (f fakeTokens) GetToken(ctx context.Context) (sfauth.Token, error) {
	return sfauth.Token{AccessToken: "tok", InstanceURL: f.instanceURL, ObtainedAt: time.Now()}, nil
}
func (f fakeTokens) RefreshToken(ctx context.Context) (sfauth.Token, error) { return f.GetToken(ctx) }

func newTestCoordinator(t *testing.T, handler http.HandlerFunc) (*Coordinator, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := sfclient.New(fakeTokens{instanceURL: srv.URL})
	api := sfclient.NewAPI(client)

	return New(store, api), store
}

func writeQueryResult(w http.ResponseWriter, records any) {
	raw, _ := json.Marshal(records)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"totalSize": 1,
		"done":      true,
		"records":   json.RawMessage(raw),
	})
}

func TestPullGoldPricesInsertsNewRow(t *testing.T) {
	coord, store := newTestCoordinator(t, func(w http.ResponseWriter, r *http.Request) {
		writeQueryResult(w, []sfclient.SfGoldPrice{
			{ID: "a0G001", Date: "2026-07-29", GoldType: "LM", Purity: 999, BuyPrice: 1_500_000, SellPrice: 1_520_000},
		})
	})
	ctx := context.Background()

	result, err := coord.PullGoldPrices(ctx, true)
	if err != nil {
		t.Fatalf("PullGoldPrices: %v", err)
	}
	if result.RecordsPulled != 1 || !result.Success() {
		t.Fatalf("unexpected result: %+v", result)
	}

	var gp localstore.GoldPrice
	if err := store.DB.Where("date = ? AND gold_type = ? AND purity = ?", "2026-07-29", "LM", 999).First(&gp).Error; err != nil {
		t.Fatalf("reload gold price: %v", err)
	}
	if gp.SalesforceID == nil || *gp.SalesforceID != "a0G001" {
		t.Errorf("salesforce_id not recorded: %+v", gp)
	}

	var wm localstore.Watermark
	if err := store.DB.First(&wm, "table_name = ?", "gold_prices").Error; err != nil {
		t.Fatalf("load watermark: %v", err)
	}
	if wm.LastPullAt == nil {
		t.Error("expected last_pull_at to be stamped")
	}
}

func TestPullGoldPricesDedupesSamePage(t *testing.T) {
	coord, store := newTestCoordinator(t, func(w http.ResponseWriter, r *http.Request) {
		writeQueryResult(w, []sfclient.SfGoldPrice{
			{ID: "a0G001", Date: "2026-07-29", GoldType: "LM", Purity: 999, BuyPrice: 1, SellPrice: 2},
			{ID: "a0G001", Date: "2026-07-29", GoldType: "LM", Purity: 999, BuyPrice: 1, SellPrice: 2},
		})
	})
	ctx := context.Background()

	result, err := coord.PullGoldPrices(ctx, true)
	if err != nil {
		t.Fatalf("PullGoldPrices: %v", err)
	}
	if result.RecordsPulled != 1 {
		t.Fatalf("expected the duplicate natural key to be deduped, got %d", result.RecordsPulled)
	}

	var count int64
	store.DB.Model(&localstore.GoldPrice{}).Count(&count)
	if count != 1 {
		t.Errorf("expected exactly one row, got %d", count)
	}
}

func TestPullInventorySkipsUnresolvedProduct(t *testing.T) {
	coord, store := newTestCoordinator(t, func(w http.ResponseWriter, r *http.Request) {
		writeQueryResult(w, []sfclient.SfInventory{
			{ID: "a0I001", Barcode: "BC-1", Product: "a0P-missing", Branch: "a0B-missing", Status: "in_stock"},
		})
	})
	ctx := context.Background()

	result, err := coord.PullInventory(ctx, "")
	if err != nil {
		t.Fatalf("PullInventory: %v", err)
	}
	if result.RecordsPulled != 0 {
		t.Fatalf("expected 0 pulled (unresolved product), got %d", result.RecordsPulled)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "a0I001") {
		t.Fatalf("expected an unresolved-product error naming the record, got %+v", result.Errors)
	}

	var count int64
	store.DB.Model(&localstore.Inventory{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no inventory row to be created, got %d", count)
	}
}

func TestPullInventoryFallsBackToDefaultBranch(t *testing.T) {
	coord, store := newTestCoordinator(t, func(w http.ResponseWriter, r *http.Request) {
		writeQueryResult(w, []sfclient.SfInventory{
			{ID: "a0I002", Barcode: "BC-2", Product: "a0P001", Branch: "a0B-missing", Status: "in_stock"},
		})
	})
	ctx := context.Background()

	productSfID := "a0P001"
	product := localstore.Product{ID: "prod-1", Name: "Gold Ring", GoldType: "LM", GoldPurity: 999, CreatedAt: time.Now(), SalesforceID: &productSfID}
	if err := store.DB.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	defaultBranch := localstore.Branch{ID: "branch-default", Name: "Main", Code: "default", CreatedAt: time.Now()}
	if err := store.DB.Create(&defaultBranch).Error; err != nil {
		t.Fatalf("seed default branch: %v", err)
	}

	result, err := coord.PullInventory(ctx, "")
	if err != nil {
		t.Fatalf("PullInventory: %v", err)
	}
	if result.RecordsPulled != 1 || !result.Success() {
		t.Fatalf("unexpected result: %+v", result)
	}

	var inv localstore.Inventory
	if err := store.DB.First(&inv, "barcode = ?", "BC-2").Error; err != nil {
		t.Fatalf("reload inventory: %v", err)
	}
	if inv.BranchID != "branch-default" {
		t.Errorf("BranchID = %q, want fallback to default branch", inv.BranchID)
	}
}

func TestPullAllRunsGoldPricesProductsInventoryInOrder(t *testing.T) {
	var order []string
	coord, _ := newTestCoordinator(t, func(w http.ResponseWriter, r *http.Request) {
		soql := r.URL.Query().Get("q")
		switch {
		case strings.Contains(soql, "Gold_Price__c"):
			order = append(order, "gold_prices")
			writeQueryResult(w, []sfclient.SfGoldPrice{})
		case strings.Contains(soql, "Product__c"):
			order = append(order, "products")
			writeQueryResult(w, []sfclient.SfProduct{})
		case strings.Contains(soql, "Inventory__c"):
			order = append(order, "inventory")
			writeQueryResult(w, []sfclient.SfInventory{})
		default:
			t.Fatalf("unexpected query: %s", soql)
		}
	})
	ctx := context.Background()

	if _, err := coord.PullAll(ctx); err != nil {
		t.Fatalf("PullAll: %v", err)
	}

	want := []string{"gold_prices", "products", "inventory"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
