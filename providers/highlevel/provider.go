package highlevel

import (
	"time"

	"github.com/goliatone/go-crm-connect/core"
	"github.com/goliatone/go-crm-connect/providers"
)

const (
	ProviderID = "highlevel"
	AuthURL    = "https://marketplace.gohighlevel.com/oauth/chooselocation"
	TokenURL   = "https://services.leadconnectorhq.com/oauth/token"

	// LocationsURL serves the location lookup used to resolve display names.
	LocationsURL = "https://services.leadconnectorhq.com/locations"
)

type Config struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	DefaultScopes []string
	TokenTTL      time.Duration
}

func DefaultConfig() Config {
	return Config{
		AuthURL:  AuthURL,
		TokenURL: TokenURL,
		DefaultScopes: []string{
			"contacts.readonly",
			"conversations.readonly",
			"dashboard.readonly",
			"locations.readonly",
			"oauth.readonly",
			"phone-numbers.readonly",
			"voice-agent.readonly",
			"voice-agent.write",
		},
	}
}

func New(cfg Config) (core.Provider, error) {
	defaults := DefaultConfig()
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaults.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaults.TokenURL
	}
	if len(cfg.DefaultScopes) == 0 {
		cfg.DefaultScopes = defaults.DefaultScopes
	}
	return providers.NewOAuth2Provider(providers.OAuth2Config{
		ID:            ProviderID,
		AuthURL:       cfg.AuthURL,
		TokenURL:      cfg.TokenURL,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		DefaultScopes: cfg.DefaultScopes,
		// The HighLevel token endpoint only accepts body credentials.
		ClientSecretInBody: true,
		TokenTTL:           cfg.TokenTTL,
	})
}
