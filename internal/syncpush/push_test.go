package syncpush

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goldpos/syncd/internal/localstore"
	"github.com/goldpos/syncd/internal/sfauth"
	"github.com/goldpos/syncd/internal/sfclient"
	"github.com/goldpos/syncd/internal/syncjournal"
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

func TestPushAllUpsertsProductAndRecordsRemoteID(t *testing.T) {
	coord, store := newTestCoordinator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "a0P000001", "success": true, "created": true})
	})
	ctx := context.Background()

	product := localstore.Product{ID: "prod-1", Name: "Gold Ring", GoldType: "LM", GoldPurity: 999, CreatedAt: time.Now()}
	sku := "SKU-001"
	product.SKU = &sku
	if err := store.DB.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	j := syncjournal.New(store)
	if err := j.LogChange(ctx, "products", "prod-1", syncjournal.ActionInsert, nil); err != nil {
		t.Fatalf("LogChange: %v", err)
	}

	result, err := coord.PushAll(ctx)
	if err != nil {
		t.Fatalf("PushAll: %v", err)
	}
	if result.RecordsPushed != 1 || !result.Success() {
		t.Fatalf("unexpected result: %+v", result)
	}

	var reloaded localstore.Product
	if err := store.DB.First(&reloaded, "id = ?", "prod-1").Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if reloaded.SalesforceID == nil || *reloaded.SalesforceID != "a0P000001" {
		t.Errorf("salesforce_id not recorded: %+v", reloaded)
	}

	pending, err := j.PendingChanges(ctx, "products")
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending changes after successful push, got %d, err=%v", len(pending), err)
	}
}

func TestPushAllMarksFailedOnServerError(t *testing.T) {
	coord, store := newTestCoordinator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`[{"message":"bad sku","errorCode":"INVALID_FIELD"}]`))
	})
	ctx := context.Background()

	product := localstore.Product{ID: "prod-2", Name: "Gold Bracelet", GoldType: "UBS", GoldPurity: 750, CreatedAt: time.Now()}
	sku := "SKU-002"
	product.SKU = &sku
	if err := store.DB.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	j := syncjournal.New(store)
	if err := j.LogChange(ctx, "products", "prod-2", syncjournal.ActionInsert, nil); err != nil {
		t.Fatalf("LogChange: %v", err)
	}

	result, err := coord.PushAll(ctx)
	if err != nil {
		t.Fatalf("PushAll: %v", err)
	}
	if result.RecordsPushed != 0 || result.Success() {
		t.Fatalf("expected a recorded error, got %+v", result)
	}

	pending, err := j.PendingChanges(ctx, "products")
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected the failed entry to remain pending with incremented retry_count, got %d, err=%v", len(pending), err)
	}
	if pending[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", pending[0].RetryCount)
	}
}

func TestPushAllLogsButDoesNotDeleteRemote(t *testing.T) {
	var calls int
	coord, store := newTestCoordinator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	sfID := "a0P000002"
	product := localstore.Product{ID: "prod-3", Name: "Gold Chain", GoldType: "LM", GoldPurity: 916, CreatedAt: time.Now(), SalesforceID: &sfID}
	if err := store.DB.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	j := syncjournal.New(store)
	if err := j.LogChange(ctx, "products", "prod-3", syncjournal.ActionDelete, nil); err != nil {
		t.Fatalf("LogChange: %v", err)
	}

	result, err := coord.PushAll(ctx)
	if err != nil {
		t.Fatalf("PushAll: %v", err)
	}
	if !result.Success() {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if calls != 0 {
		t.Errorf("expected no remote calls for a delete action, got %d", calls)
	}
}
