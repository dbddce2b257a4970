package highlevel

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/goliatone/go-crm-connect/core"
)

func TestNewUsesDefaults(t *testing.T) {
	provider, err := New(Config{ClientID: "client-id", ClientSecret: "client-secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if provider.ID() != ProviderID {
		t.Fatalf("expected provider id %q, got %q", ProviderID, provider.ID())
	}
	if provider.AuthKind() != "oauth2_auth_code" {
		t.Fatalf("unexpected auth kind %q", provider.AuthKind())
	}

	wantScopes := []string{
		"contacts.readonly",
		"conversations.readonly",
		"dashboard.readonly",
		"locations.readonly",
		"oauth.readonly",
		"phone-numbers.readonly",
		"voice-agent.readonly",
		"voice-agent.write",
	}
	scopes := DefaultConfig().DefaultScopes
	if len(scopes) != len(wantScopes) {
		t.Fatalf("expected %d default scopes, got %v", len(wantScopes), scopes)
	}
	for i, want := range wantScopes {
		if scopes[i] != want {
			t.Fatalf("expected scope %q at %d, got %q", want, i, scopes[i])
		}
	}
}

func TestNewRequiresClientID(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing client id")
	}
}

func TestBeginAuthTargetsChooseLocation(t *testing.T) {
	provider, err := New(Config{ClientID: "client-id", ClientSecret: "client-secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	response, err := provider.BeginAuth(context.Background(), core.BeginAuthRequest{
		ProviderID: ProviderID,
		UserID:     "user-1",
		State:      "state-token",
	})
	if err != nil {
		t.Fatalf("begin auth: %v", err)
	}
	if !strings.HasPrefix(response.URL, AuthURL) {
		t.Fatalf("expected chooselocation URL, got %q", response.URL)
	}

	parsed, err := url.Parse(response.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	scope := parsed.Query().Get("scope")
	for _, want := range DefaultConfig().DefaultScopes {
		if !strings.Contains(scope, want) {
			t.Fatalf("expected scope %q in %q", want, scope)
		}
	}
}
