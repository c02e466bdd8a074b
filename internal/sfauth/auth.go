// Package sfauth is the Token Manager (C1): it holds the current remote
// credentials and a cached OAuth2 access token, refreshing the token on a
// fixed policy lifetime rather than whatever the token response claims.
//
// Grounded on the teacher's internal/mcpserver/client/session_manager.go
// and internal/mcpserver/auth/broker.go (RWMutex cache with a skew buffer,
// double-checked locking on the hot path), generalized from Auth0's
// device-code flow to the remote's OAuth2 resource-owner-password grant
// per original_source/src-tauri/src/salesforce/auth.rs.
package sfauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// tokenLifetime is a fixed policy, not read from the token response: two
// hours minus a five-minute skew buffer, matching §4.1.
const tokenLifetime = 2*time.Hour - 5*time.Minute

// Credentials is the tuple the Token Manager authenticates with.
type Credentials struct {
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
	LoginURL      string
}

// Token is the cached access token record.
type Token struct {
	AccessToken string
	InstanceURL string
	ObtainedAt  time.Time
}

func (t Token) expired() bool {
	return time.Since(t.ObtainedAt) >= tokenLifetime
}

// oauthError mirrors the remote's structured OAuth failure body
// ({"error": "...", "error_description": "..."}).
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e oauthError) asError() error {
	return fmt.Errorf("salesforce authentication failed: %s - %s", e.Error, e.ErrorDescription)
}

// Manager caches and refreshes OAuth2 tokens for a single set of
// credentials. Reads take the read lock; refresh takes the write lock —
// the same single-writer, read-mostly shape as the teacher's session
// cache.
type Manager struct {
	mu          sync.RWMutex
	credentials *Credentials
	cached      *Token

	httpTimeout time.Duration
}

// NewManager constructs an unconfigured Token Manager.
func NewManager() *Manager {
	return &Manager{httpTimeout: 30 * time.Second}
}

// SetCredentials stores credentials and invalidates any cached token.
func (m *Manager) SetCredentials(c Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials = &c
	m.cached = nil
}

// ClearCredentials forgets both credentials and the cached token.
func (m *Manager) ClearCredentials() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials = nil
	m.cached = nil
}

// HasCredentials reports whether credentials are configured.
func (m *Manager) HasCredentials() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credentials != nil
}

// GetToken returns the cached token if still within its fixed lifetime,
// otherwise performs a refresh. Two concurrent callers observing expiry may
// both refresh; this is accepted per §5's token-refresh-race note — the
// second writer simply overwrites the first, and every caller re-reads the
// cache after refresh rather than holding a stale copy across the call.
func (m *Manager) GetToken(ctx context.Context) (Token, error) {
	m.mu.RLock()
	cached := m.cached
	m.mu.RUnlock()

	if cached != nil && !cached.expired() {
		return *cached, nil
	}

	return m.RefreshToken(ctx)
}

// RefreshToken forces a new OAuth2 resource-owner-password grant and caches
// the result.
func (m *Manager) RefreshToken(ctx context.Context) (Token, error) {
	m.mu.RLock()
	creds := m.credentials
	m.mu.RUnlock()

	if creds == nil {
		return Token{}, fmt.Errorf("salesforce credentials not configured")
	}

	tok, err := m.authenticate(ctx, *creds)
	if err != nil {
		return Token{}, err
	}

	m.mu.Lock()
	m.cached = &tok
	m.mu.Unlock()

	log.Debug().Str("instanceUrl", tok.InstanceURL).Msg("refreshed salesforce access token")
	return tok, nil
}

// authenticate performs the password grant described in §4.1/§6 through
// oauth2.Config.PasswordCredentialsToken, which builds and posts the
// token-endpoint form. AuthStyleInParams puts client_id and client_secret in
// that form body alongside grant_type, username and password, matching the
// original client's form fields.
func (m *Manager) authenticate(ctx context.Context, creds Credentials) (Token, error) {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  creds.LoginURL + "/services/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	httpCtx, cancel := context.WithTimeout(ctx, m.httpTimeout)
	defer cancel()

	passwordWithToken := creds.Password + creds.SecurityToken

	//nolint:staticcheck // resource-owner password credentials grant is the remote's only supported flow
	tok, err := conf.PasswordCredentialsToken(httpCtx, creds.Username, passwordWithToken)
	if err != nil {
		return Token{}, classifyTokenError(err)
	}

	instanceURL, _ := tok.Extra("instance_url").(string)
	if instanceURL == "" {
		return Token{}, fmt.Errorf("salesforce token response missing instance_url")
	}

	return Token{
		AccessToken: tok.AccessToken,
		InstanceURL: instanceURL,
		ObtainedAt:  time.Now(),
	}, nil
}

// classifyTokenError surfaces the remote's structured {error,
// error_description} body when oauth2 captured one in a *oauth2.RetrieveError,
// falling back to the raw transport error otherwise (§4.1: "On failure,
// returns the structured remote error if parseable, else raw status and body").
func classifyTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if ok := asRetrieveError(err, &rErr); ok {
		oe := oauthError{Error: rErr.ErrorCode, ErrorDescription: rErr.ErrorDescription}
		if oe.Error != "" {
			return oe.asError()
		}
		return fmt.Errorf("salesforce authentication failed: %d - %s", rErr.Response.StatusCode, string(rErr.Body))
	}
	return fmt.Errorf("failed to connect to salesforce: %w", err)
}

func asRetrieveError(err error, target **oauth2.RetrieveError) bool {
	re, ok := err.(*oauth2.RetrieveError)
	if !ok {
		return false
	}
	*target = re
	return true
}

// TestConnection forces GetToken and returns a short confirmation
// including the instance URL, matching §4.1's test_connection().
func (m *Manager) TestConnection(ctx context.Context) (string, error) {
	tok, err := m.GetToken(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Connected to: %s", tok.InstanceURL), nil
}

// NewCredentials builds a Credentials tuple deriving LoginURL from
// isSandbox, per §4.8's configure().
func NewCredentials(clientID, clientSecret, username, password, securityToken string, isSandbox bool) Credentials {
	loginURL := "https://login.salesforce.com"
	if isSandbox {
		loginURL = "https://test.salesforce.com"
	}
	return Credentials{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Username:      username,
		Password:      password,
		SecurityToken: securityToken,
		LoginURL:      loginURL,
	}
}
