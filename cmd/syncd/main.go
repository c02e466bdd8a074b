// Command syncd is the sync core's entrypoint: run, sync, status,
// test-connection, pull-gold-prices, and pull-inventory verbs over the
// Sync Engine (C8).
//
// Grounded on arkeep-io-arkeep/server's cmd/server/main.go (cobra root +
// subcommands, PersistentFlags bound to env-overridable defaults) and the
// teacher's cmd/mcpbridge/main.go (signal.Notify-driven graceful
// shutdown feeding a cancellable context).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goldpos/syncd/internal/adminapi"
	"github.com/goldpos/syncd/internal/config"
	"github.com/goldpos/syncd/internal/localstore"
	"github.com/goldpos/syncd/internal/syncengine"
)

var (
	version    = "dev"
	storePath  string
	httpAddr   string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "syncd",
		Short: "Gold-jewelry POS sync core",
		Long:  "syncd reconciles the local embedded store with the remote CRM: OAuth2 token management, a change journal, dependency-ordered push, and watermarked pull.",
	}

	root.PersistentFlags().StringVar(&storePath, "store", envOrDefault("SYNC_LOCAL_STORE_PATH", "./posyncd.db"), "path to the embedded local store")
	root.PersistentFlags().StringVar(&httpAddr, "http-addr", envOrDefault("SYNC_HTTP_ADDR", ":8090"), "admin HTTP listen address")
	root.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("SYNC_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newTestConnectionCmd())
	root.AddCommand(newPullGoldPricesCmd())
	root.AddCommand(newPullInventoryCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("syncd %s\n", version)
		},
	}
}

// newRunCmd is the long-running server verb: opens the store, configures
// the engine from the persisted sync_config row, starts the background
// ticker, and serves the admin HTTP surface until a termination signal
// arrives.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon with background scheduling and the admin HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(logLevel)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
				cancel()
			}()

			store, engine, err := bootstrap()
			if err != nil {
				return err
			}
			defer store.Close()

			var cfgRow localstore.SyncConfig
			err = store.DB.First(&cfgRow, "id = ?", localstore.DefaultConfigID).Error
			interval := 15
			if err == nil {
				cfg := config.Config{
					ClientID: cfgRow.ClientID, ClientSecret: cfgRow.ClientSecret,
					Username: cfgRow.Username, Password: cfgRow.Password,
					SecurityToken: cfgRow.SecurityToken, IsSandbox: cfgRow.IsSandbox,
					SyncEnabled: cfgRow.SyncEnabled, SyncIntervalMinutes: cfgRow.SyncIntervalMinutes,
				}
				if configErr := engine.Configure(cfg); configErr != nil {
					log.Warn().Err(configErr).Msg("stored sync configuration incomplete, background sync will idle until configured")
				}
				if cfgRow.SyncIntervalMinutes > 0 {
					interval = cfgRow.SyncIntervalMinutes
				}
			} else {
				log.Warn().Msg("no sync configuration found, background sync will idle until configured")
			}

			if err := engine.StartBackgroundSync(ctx, interval); err != nil {
				return fmt.Errorf("start background sync: %w", err)
			}

			srv := &http.Server{Addr: httpAddr, Handler: (&adminapi.Server{Engine: engine}).Router()}
			go func() {
				log.Info().Str("addr", httpAddr).Msg("admin HTTP surface listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("admin HTTP server failed")
				}
			}()

			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single full sync (push then pull) and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(logLevel)
			store, engine, err := bootstrapConfigured()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := engine.RunFullSync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("success=%v pushed=%d pulled=%d errors=%d\n",
				result.Success, result.RecordsPushed, result.RecordsPulled, len(result.Errors))
			for _, e := range result.Errors {
				fmt.Println("  -", e)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(logLevel)
			store, engine, err := bootstrap()
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := engine.GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("connected=%v enabled=%v pending=%d\n", status.IsConnected, status.SyncEnabled, status.PendingChanges)
			if status.LastSyncAt != nil {
				fmt.Printf("lastSyncAt=%s\n", status.LastSyncAt.Format(time.RFC3339))
			}
			if status.ErrorMessage != nil {
				fmt.Printf("lastError=%s\n", *status.ErrorMessage)
			}
			return nil
		},
	}
}

func newTestConnectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Force a token refresh and confirm connectivity to the remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(logLevel)
			store, engine, err := bootstrapConfigured()
			if err != nil {
				return err
			}
			defer store.Close()

			msg, err := engine.TestConnection(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
}

func newPullGoldPricesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull-gold-prices",
		Short: "Pull today's gold prices only",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(logLevel)
			store, engine, err := bootstrapConfigured()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := engine.PullGoldPrices(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("pulled=%d errors=%d\n", result.RecordsPulled, len(result.Errors))
			return nil
		},
	}
}

func newPullInventoryCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "pull-inventory",
		Short: "Pull inventory, optionally scoped to a single branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(logLevel)
			store, engine, err := bootstrapConfigured()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := engine.PullInventory(cmd.Context(), branch)
			if err != nil {
				return err
			}
			fmt.Printf("pulled=%d errors=%d\n", result.RecordsPulled, len(result.Errors))
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "local branch id to restrict the pull to")
	return cmd
}

// bootstrap opens the local store and wires a fresh Sync Engine over it,
// without configuring credentials.
func bootstrap() (*localstore.Store, *syncengine.Engine, error) {
	store, err := localstore.Open(storePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}
	return store, syncengine.New(store), nil
}

// bootstrapConfigured additionally loads the persisted sync_config row,
// overlays SYNC_* environment variables via config.Load, and applies the
// result, failing fast if the row cannot be loaded and with
// MissingCredentials if client id or secret is missing — used by every
// one-shot verb that actually talks to the remote.
func bootstrapConfigured() (*localstore.Store, *syncengine.Engine, error) {
	store, engine, err := bootstrap()
	if err != nil {
		return nil, nil, err
	}

	var cfgRow localstore.SyncConfig
	if err := store.DB.First(&cfgRow, "id = ?", localstore.DefaultConfigID).Error; err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("load sync configuration: %w", err)
	}

	cfg := config.Config{
		ClientID: cfgRow.ClientID, ClientSecret: cfgRow.ClientSecret,
		Username: cfgRow.Username, Password: cfgRow.Password,
		SecurityToken: cfgRow.SecurityToken, IsSandbox: cfgRow.IsSandbox,
		SyncEnabled: cfgRow.SyncEnabled, SyncIntervalMinutes: cfgRow.SyncIntervalMinutes,
	}
	loaded, err := config.Load(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if err := engine.Configure(*loaded); err != nil {
		store.Close()
		return nil, nil, err
	}

	return store, engine, nil
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
