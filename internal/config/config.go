// Package config loads the sync engine's settings the way the teacher's
// mcpserver config package does: a typed struct populated from a primary
// source, then overlaid with process environment variables, with
// validation deferred until after every override has been applied.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ErrMissingCredentials mirrors the MissingCredentials error kind from §7:
// configure() fails when client id or secret is absent.
var ErrMissingCredentials = errors.New("missing salesforce client id or secret")

const (
	sandboxLoginURL    = "https://test.salesforce.com"
	productionLoginURL = "https://login.salesforce.com"
)

// Config is the sync configuration singleton described in §3, expressed as
// a Go struct with env overlay tags for local development and container
// deployment (the teacher's MCP_* environment convention, here SYNC_*).
type Config struct {
	ClientID            string `env:"SYNC_SF_CLIENT_ID"`
	ClientSecret        string `env:"SYNC_SF_CLIENT_SECRET"`
	Username            string `env:"SYNC_SF_USERNAME"`
	Password            string `env:"SYNC_SF_PASSWORD"`
	SecurityToken       string `env:"SYNC_SF_SECURITY_TOKEN"`
	IsSandbox           bool   `env:"SYNC_SF_IS_SANDBOX"`
	SyncEnabled         bool   `env:"SYNC_ENABLED"`
	SyncIntervalMinutes int    `env:"SYNC_INTERVAL_MINUTES"`

	// LocalStorePath is ambient configuration not part of §3's sync
	// configuration singleton — it locates the embedded database file.
	LocalStorePath string `env:"SYNC_LOCAL_STORE_PATH" envDefault:"./posyncd.db"`
	LogLevel       string `env:"SYNC_LOG_LEVEL" envDefault:"info"`
}

// LoginURL derives the OAuth2 token endpoint host from IsSandbox, per §4.8's
// configure() rule.
func (c *Config) LoginURL() string {
	if c.IsSandbox {
		return sandboxLoginURL
	}
	return productionLoginURL
}

// Validate checks presence of the fields configure() requires (§4.8).
// Validation is not run inside Load; syncengine's Engine.Configure calls it
// on the config it is given, after any environment overlay.
func (c *Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Load builds a Config starting from base (typically the persisted
// sync_config row read via localstore) and overlays any SYNC_* environment
// variables present in the process environment. A value already set in base
// always wins unless an environment variable is explicitly set: the three
// §3 singleton fields (IsSandbox, SyncEnabled, SyncIntervalMinutes) carry no
// envDefault, since env.Parse applies a default whenever its env var is
// absent regardless of what base already holds, which would silently
// overwrite the persisted row on every call. Their defaults are instead
// seeded once, in localstore, when the sync_config row is first created.
// LocalStorePath and LogLevel keep envDefault — base never populates those
// here, so there is nothing for a default to clobber.
func Load(base Config) (*Config, error) {
	cfg := base
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	return &cfg, nil
}
