package sfauth

import (
	"context"
	"testing"
	"time"
)

func TestNewCredentialsLoginURL(t *testing.T) {
	tests := []struct {
		name      string
		isSandbox bool
		want      string
	}{
		{"sandbox", true, "https://test.salesforce.com"},
		{"production", false, "https://login.salesforce.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := NewCredentials("client_id", "client_secret", "user@test.com", "password", "token", tt.isSandbox)
			if creds.LoginURL != tt.want {
				t.Errorf("LoginURL = %v, want %v", creds.LoginURL, tt.want)
			}
		})
	}
}

func TestManagerHasCredentials(t *testing.T) {
	m := NewManager()
	if m.HasCredentials() {
		t.Fatal("expected no credentials on a fresh manager")
	}

	m.SetCredentials(NewCredentials("id", "secret", "user", "pass", "tok", true))
	if !m.HasCredentials() {
		t.Fatal("expected credentials after SetCredentials")
	}

	m.ClearCredentials()
	if m.HasCredentials() {
		t.Fatal("expected no credentials after ClearCredentials")
	}
}

func TestManagerSetCredentialsInvalidatesCachedToken(t *testing.T) {
	m := NewManager()
	m.cached = &Token{AccessToken: "stale", InstanceURL: "https://stale", ObtainedAt: time.Now()}

	m.SetCredentials(NewCredentials("id", "secret", "user", "pass", "tok", true))

	if m.cached != nil {
		t.Fatal("expected cached token to be cleared when credentials change")
	}
}

func TestTokenExpired(t *testing.T) {
	fresh := Token{ObtainedAt: time.Now()}
	if fresh.expired() {
		t.Error("freshly obtained token should not be expired")
	}

	stale := Token{ObtainedAt: time.Now().Add(-(tokenLifetime + time.Minute))}
	if !stale.expired() {
		t.Error("token older than the lifetime minus skew buffer should be expired")
	}
}

func TestGetTokenWithoutCredentialsFails(t *testing.T) {
	m := NewManager()
	_, err := m.GetToken(context.Background())
	if err == nil {
		t.Fatal("expected an error when no credentials are configured")
	}
}
