// Package syncengine is the Sync Engine (C8): lifecycle, configuration,
// the at-most-one sync gate, scheduled periodic sync, and the external
// status snapshot that ties together C1 (sfauth), C2/C3 (sfclient),
// C5 (syncjournal), C6 (syncpush) and C7 (syncpull).
//
// Grounded on original_source/src-tauri/src/sync/engine.rs (the RwLock
// gate, configure/test_connection/get_status/run_full_sync shape, the
// background tick loop) and the teacher's graceful-shutdown pattern in
// cmd/mcpbridge/main.go, generalized here to a cron-driven ticker.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/goldpos/syncd/internal/config"
	"github.com/goldpos/syncd/internal/localstore"
	"github.com/goldpos/syncd/internal/sfauth"
	"github.com/goldpos/syncd/internal/sfclient"
	"github.com/goldpos/syncd/internal/syncjournal"
	"github.com/goldpos/syncd/internal/syncmetrics"
	"github.com/goldpos/syncd/internal/syncpull"
	"github.com/goldpos/syncd/internal/syncpush"
)

// ErrBusy is returned by RunFullSync when another run already holds the
// at-most-one gate (§5, §7: Busy).
var ErrBusy = errors.New("sync already in progress")

// Status is the external status snapshot, per §4.8's get_status().
type Status struct {
	IsConnected    bool
	SyncEnabled    bool
	LastSyncAt     *time.Time
	PendingChanges int64
	ErrorMessage   *string
}

// Result is the SyncResult shape from §4.8/§7.
type Result struct {
	Success       bool
	RecordsPushed int
	RecordsPulled int
	Errors        []string
	CompletedAt   time.Time
}

// Engine is the Sync Engine (C8).
type Engine struct {
	store   *localstore.Store
	tokens  *sfauth.Manager
	journal *syncjournal.Journal
	push    *syncpush.Coordinator
	pull    *syncpull.Coordinator

	mu          sync.Mutex
	syncing     bool
	lastError   *string
	syncEnabled bool

	cron *cron.Cron
}

// New wires every sync component together over an open local store.
func New(store *localstore.Store) *Engine {
	tokens := sfauth.NewManager()
	client := sfclient.New(tokens)
	api := sfclient.NewAPI(client)

	return &Engine{
		store:   store,
		tokens:  tokens,
		journal: syncjournal.New(store),
		push:    syncpush.New(store, api),
		pull:    syncpull.New(store, api),
	}
}

// Configure validates the config and forwards credentials to the Token
// Manager, deriving the login URL from IsSandbox, per §4.8's configure().
func (e *Engine) Configure(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	creds := sfauth.NewCredentials(cfg.ClientID, cfg.ClientSecret, cfg.Username, cfg.Password, cfg.SecurityToken, cfg.IsSandbox)
	e.tokens.SetCredentials(creds)

	e.mu.Lock()
	e.syncEnabled = cfg.SyncEnabled
	e.mu.Unlock()

	return nil
}

// TestConnection delegates to the Token Manager, per §4.8.
func (e *Engine) TestConnection(ctx context.Context) (string, error) {
	return e.tokens.TestConnection(ctx)
}

// GetStatus snapshots the engine's externally visible state, per §4.8's
// get_status(). IsConnected reflects whether credentials are configured,
// not a live network probe — a status check should never itself perform
// I/O that could trigger a token refresh or consume a retry budget.
func (e *Engine) GetStatus(ctx context.Context) (Status, error) {
	e.mu.Lock()
	enabled := e.syncEnabled
	lastErr := e.lastError
	e.mu.Unlock()

	pending, err := e.journal.CountPending(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count pending changes: %w", err)
	}
	syncmetrics.PendingChanges.Set(float64(pending))

	lastSyncAt, err := e.maxLastPullAt(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load last sync time: %w", err)
	}

	return Status{
		IsConnected:    e.tokens.HasCredentials(),
		SyncEnabled:    enabled,
		LastSyncAt:     lastSyncAt,
		PendingChanges: pending,
		ErrorMessage:   lastErr,
	}, nil
}

func (e *Engine) maxLastPullAt(ctx context.Context) (*time.Time, error) {
	var watermarks []localstore.Watermark
	if err := e.store.DB.WithContext(ctx).Find(&watermarks).Error; err != nil {
		return nil, err
	}
	var max *time.Time
	for _, wm := range watermarks {
		if wm.LastPullAt == nil {
			continue
		}
		if max == nil || wm.LastPullAt.After(*max) {
			max = wm.LastPullAt
		}
	}
	return max, nil
}

// acquire implements the at-most-one gate: the first caller to find
// syncing false flips it true, clears the previous run's error, and
// proceeds; any concurrent caller observes true and fails fast with
// ErrBusy, per §5's invariant and §8's testable property 6.
func (e *Engine) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		return false
	}
	e.syncing = true
	e.lastError = nil
	syncmetrics.SyncGateHeld.Set(1)
	return true
}

// release always clears the gate, on both the success and failure paths.
func (e *Engine) release(errMsg *string) {
	e.mu.Lock()
	e.syncing = false
	e.lastError = errMsg
	e.mu.Unlock()
	syncmetrics.SyncGateHeld.Set(0)
}

// RunFullSync acquires the gate, runs push then pull, and releases the
// gate on every exit path, per §4.8/§4.6/§4.7.
func (e *Engine) RunFullSync(ctx context.Context) (Result, error) {
	if !e.acquire() {
		syncmetrics.SyncBusyTotal.Inc()
		return Result{}, ErrBusy
	}

	start := time.Now()
	var result Result
	var runErr error

	pushResult, err := e.push.PushAll(ctx)
	if err != nil {
		runErr = fmt.Errorf("push phase: %w", err)
	} else {
		result.RecordsPushed = pushResult.RecordsPushed
		result.Errors = append(result.Errors, pushResult.Errors...)
	}

	if runErr == nil {
		pullResult, err := e.pull.PullAll(ctx)
		if err != nil {
			runErr = fmt.Errorf("pull phase: %w", err)
		} else {
			result.RecordsPulled = pullResult.RecordsPulled
			result.Errors = append(result.Errors, pullResult.Errors...)
		}
	}

	result.CompletedAt = time.Now()
	result.Success = runErr == nil && len(result.Errors) == 0

	syncmetrics.SyncDurationSeconds.Observe(time.Since(start).Seconds())
	syncmetrics.PushRecordsTotal.WithLabelValues("all").Add(float64(result.RecordsPushed))
	syncmetrics.PullRecordsTotal.WithLabelValues("all").Add(float64(result.RecordsPulled))

	var lastErr *string
	if runErr != nil {
		msg := runErr.Error()
		lastErr = &msg
	} else if !result.Success {
		msg := fmt.Sprintf("%d record error(s) during sync", len(result.Errors))
		lastErr = &msg
	}
	e.release(lastErr)

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// PullGoldPrices is the scoped quick-pull variant from §4.8, returning a
// Result with only pull counters populated.
func (e *Engine) PullGoldPrices(ctx context.Context) (Result, error) {
	r, err := e.pull.PullGoldPrices(ctx, true)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: r.Success(), RecordsPulled: r.RecordsPulled, Errors: r.Errors, CompletedAt: time.Now()}, nil
}

// PullInventory is the scoped quick-pull variant from §4.8, optionally
// restricted to a single local branch id.
func (e *Engine) PullInventory(ctx context.Context, branchFilter string) (Result, error) {
	r, err := e.pull.PullInventory(ctx, branchFilter)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: r.Success(), RecordsPulled: r.RecordsPulled, Errors: r.Errors, CompletedAt: time.Now()}, nil
}

// StartBackgroundSync starts a periodic ticker at the given interval. On
// each tick it loads the persisted sync_config row, skips the tick
// entirely when sync_enabled is false, sets the Token Manager's
// credentials from the stored row, and invokes RunFullSync. The
// credentials are set on every enabled tick whether or not they changed,
// which discards the cached token, so each tick's run starts with a fresh
// token grant. A prior
// in-flight run makes that tick's call fail fast with ErrBusy and the
// loop simply resumes on the next tick, per §4.8/§5.
func (e *Engine) StartBackgroundSync(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("sync interval must be positive, got %d minutes", minutes)
	}

	e.cron = cron.New()
	spec := fmt.Sprintf("@every %dm", minutes)
	_, err := e.cron.AddFunc(spec, func() { e.tick(ctx) })
	if err != nil {
		return fmt.Errorf("schedule background sync: %w", err)
	}
	if _, err := e.cron.AddFunc("@daily", func() { e.cleanupTick(ctx) }); err != nil {
		return fmt.Errorf("schedule journal cleanup: %w", err)
	}
	e.cron.Start()

	go func() {
		<-ctx.Done()
		stopCtx := e.cron.Stop()
		<-stopCtx.Done()
	}()

	log.Info().Int("intervalMinutes", minutes).Msg("background sync scheduler started")
	return nil
}

func (e *Engine) tick(ctx context.Context) {
	var cfg localstore.SyncConfig
	if err := e.store.DB.WithContext(ctx).First(&cfg, "id = ?", localstore.DefaultConfigID).Error; err != nil {
		log.Warn().Err(err).Msg("background sync tick: no sync configuration found, skipping")
		return
	}
	if !cfg.SyncEnabled {
		log.Debug().Msg("background sync tick: sync disabled, skipping")
		return
	}

	creds := sfauth.NewCredentials(cfg.ClientID, cfg.ClientSecret, cfg.Username, cfg.Password, cfg.SecurityToken, cfg.IsSandbox)
	e.tokens.SetCredentials(creds)

	e.mu.Lock()
	e.syncEnabled = true
	e.mu.Unlock()

	if _, err := e.RunFullSync(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			log.Debug().Msg("background sync tick: a sync was already in flight, resuming next tick")
			return
		}
		log.Error().Err(err).Msg("background sync tick failed")
	}
}

// cleanupTick runs the Change Journal's retention sweep (§4.5's
// cleanup_old_records) once a day, independent of the sync interval —
// synced entries only need pruning occasionally, not on every tick.
func (e *Engine) cleanupTick(ctx context.Context) {
	removed, err := e.journal.CleanupOldRecords(ctx)
	if err != nil {
		log.Error().Err(err).Msg("journal cleanup tick failed")
		return
	}
	if removed > 0 {
		log.Info().Int64("removed", removed).Msg("pruned stale synced journal entries")
	}
}
