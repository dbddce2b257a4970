package core

import (
	"fmt"
	"strings"
	"time"
)

type OAuthConfig struct {
	StateTTL                time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
	RefreshLeadWindow       time.Duration `koanf:"refresh_lead_window" mapstructure:"refresh_lead_window"`
	ExpiringSoonWindow      time.Duration `koanf:"expiring_soon_window" mapstructure:"expiring_soon_window"`
	RequireCallbackRedirect bool          `koanf:"require_callback_redirect" mapstructure:"require_callback_redirect"`
}

type Config struct {
	ServiceName string      `koanf:"service_name" mapstructure:"service_name"`
	OAuth       OAuthConfig `koanf:"oauth" mapstructure:"oauth"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "crm-connect",
		OAuth: OAuthConfig{
			StateTTL:           DefaultStateTTL,
			RefreshLeadWindow:  DefaultRefreshLeadWindow,
			ExpiringSoonWindow: DefaultExpiringSoonWindow,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.OAuth.StateTTL < 0 {
		return fmt.Errorf("core: oauth.state_ttl must not be negative")
	}
	if c.OAuth.RefreshLeadWindow < 0 {
		return fmt.Errorf("core: oauth.refresh_lead_window must not be negative")
	}
	if c.OAuth.ExpiringSoonWindow < 0 {
		return fmt.Errorf("core: oauth.expiring_soon_window must not be negative")
	}
	return nil
}
