package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goldpos/syncd/internal/config"
	"github.com/goldpos/syncd/internal/localstore"
	"github.com/goldpos/syncd/internal/sfauth"
)

// newTestEngine wires a real Engine against a single httptest.Server that
// answers both the OAuth2 token endpoint and the sobjects/query endpoints,
// so RunFullSync exercises the full push-then-pull path end to end.
func newTestEngine(t *testing.T, queryHandler http.HandlerFunc) (*Engine, *httptest.Server) {
	t.Helper()

	store, err := localstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var instanceURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"token_type":   "Bearer",
			"instance_url": instanceURL,
		})
	})
	mux.HandleFunc("/services/data/v59.0/query", queryHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	instanceURL = srv.URL

	engine := New(store)
	// Bypass Configure's sandbox/production URL derivation so the OAuth2
	// token endpoint points at the fake server instead of the real
	// Salesforce login hosts.
	engine.tokens.SetCredentials(sfauth.Credentials{
		ClientID: "cid", ClientSecret: "csecret", Username: "u", Password: "p", LoginURL: srv.URL,
	})
	engine.mu.Lock()
	engine.syncEnabled = true
	engine.mu.Unlock()
	return engine, srv
}

func emptyQueryResponse(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"totalSize": 0, "done": true, "records": []any{}})
}

func TestConfigureFailsWithoutCredentials(t *testing.T) {
	store, err := localstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	defer store.Close()

	engine := New(store)
	err = engine.Configure(config.Config{})
	if err != config.ErrMissingCredentials {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestRunFullSyncSucceedsWithEmptyRemote(t *testing.T) {
	engine, _ := newTestEngine(t, emptyQueryResponse)

	result, err := engine.RunFullSync(context.Background())
	if err != nil {
		t.Fatalf("RunFullSync: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestGetStatusReflectsConfiguredCredentials(t *testing.T) {
	engine, _ := newTestEngine(t, emptyQueryResponse)

	status, err := engine.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !status.IsConnected {
		t.Error("expected IsConnected once credentials are configured")
	}
	if status.PendingChanges != 0 {
		t.Errorf("PendingChanges = %d, want 0", status.PendingChanges)
	}
}

func TestRunFullSyncConcurrentCallReturnsBusy(t *testing.T) {
	reachedPull := make(chan struct{})
	release := make(chan struct{})
	var queriesSeen int

	engine, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		queriesSeen++
		if queriesSeen == 1 {
			close(reachedPull)
			<-release
		}
		emptyQueryResponse(w, r)
	})

	resultCh := make(chan error, 1)
	go func() {
		_, err := engine.RunFullSync(context.Background())
		resultCh <- err
	}()

	select {
	case <-reachedPull:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first sync to reach its pull phase")
	}

	_, err := engine.RunFullSync(context.Background())
	if err != ErrBusy {
		t.Fatalf("expected ErrBusy for the concurrent call, got %v", err)
	}

	close(release)

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("first sync unexpectedly failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first sync to finish")
	}

	// The gate must be clear again after both calls have returned.
	if _, err := engine.RunFullSync(context.Background()); err != nil {
		t.Fatalf("expected the gate to be released after the first run completed, got %v", err)
	}
}

func TestRunFullSyncQueryContainsExpectedSOQL(t *testing.T) {
	var sawSOQL string
	engine, _ := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if strings.Contains(q, "Gold_Price__c") {
			sawSOQL = q
		}
		emptyQueryResponse(w, r)
	})

	if _, err := engine.RunFullSync(context.Background()); err != nil {
		t.Fatalf("RunFullSync: %v", err)
	}
	if sawSOQL == "" {
		t.Fatal("expected a Gold_Price__c query during pull")
	}
}
