// Package adminapi is a thin local operator/supervisor control surface
// for the Sync Engine (C8): status, manual trigger, and the scoped pull
// entrypoints, nothing business-domain-facing.
//
// Grounded on the teacher's internal/httpapi/router.go (chi mux,
// middleware.Logger/Recoverer chain, writeJSON helper), trimmed to the
// handful of routes a local supervisor or desktop shell needs against C8.
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/goldpos/syncd/internal/syncengine"
	"github.com/goldpos/syncd/internal/syncmetrics"
)

// Server holds the Sync Engine the admin routes act on.
type Server struct {
	Engine *syncengine.Engine
}

// Router builds the admin mux: request id, structured access logging,
// panic recovery, then the sync control routes plus an unauthenticated
// Prometheus scrape endpoint.
func (s *Server) Router() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(syncmetrics.All()...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/status", s.handleStatus)
	r.Post("/test-connection", s.handleTestConnection)
	r.Post("/sync", s.handleRunFullSync)
	r.Post("/sync/gold-prices", s.handlePullGoldPrices)
	r.Post("/sync/inventory", s.handlePullInventory)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

type statusResp struct {
	IsConnected    bool    `json:"isConnected"`
	SyncEnabled    bool    `json:"syncEnabled"`
	LastSyncAt     *string `json:"lastSyncAt,omitempty"`
	PendingChanges int64   `json:"pendingChanges"`
	ErrorMessage   *string `json:"errorMessage,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Engine.GetStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := statusResp{
		IsConnected:    status.IsConnected,
		SyncEnabled:    status.SyncEnabled,
		PendingChanges: status.PendingChanges,
		ErrorMessage:   status.ErrorMessage,
	}
	if status.LastSyncAt != nil {
		ts := status.LastSyncAt.UTC().Format(time.RFC3339)
		resp.LastSyncAt = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	msg, err := s.Engine.TestConnection(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

type syncResultResp struct {
	Success       bool     `json:"success"`
	RecordsPushed int      `json:"recordsPushed"`
	RecordsPulled int      `json:"recordsPulled"`
	Errors        []string `json:"errors"`
	CompletedAt   string   `json:"completedAt"`
}

func (s *Server) handleRunFullSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.Engine.RunFullSync(r.Context())
	if err != nil {
		if err == syncengine.ErrBusy {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "sync already in progress"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncResultResp{
		Success:       result.Success,
		RecordsPushed: result.RecordsPushed,
		RecordsPulled: result.RecordsPulled,
		Errors:        result.Errors,
		CompletedAt:   result.CompletedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePullGoldPrices(w http.ResponseWriter, r *http.Request) {
	result, err := s.Engine.PullGoldPrices(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncResultResp{
		Success:       result.Success,
		RecordsPulled: result.RecordsPulled,
		Errors:        result.Errors,
		CompletedAt:   result.CompletedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePullInventory(w http.ResponseWriter, r *http.Request) {
	branch := r.URL.Query().Get("branch")
	result, err := s.Engine.PullInventory(r.Context(), branch)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncResultResp{
		Success:       result.Success,
		RecordsPulled: result.RecordsPulled,
		Errors:        result.Errors,
		CompletedAt:   result.CompletedAt.UTC().Format(time.RFC3339),
	})
}
