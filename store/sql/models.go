package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:crm_connections,alias:cc"`

	ID             string     `bun:"id,pk"`
	ProviderID     string     `bun:"provider_id,notnull"`
	UserID         string     `bun:"user_id,notnull"`
	AccessToken    []byte     `bun:"access_token"`
	RefreshToken   []byte     `bun:"refresh_token"`
	TokenType      string     `bun:"token_type"`
	TokenExpiresAt *time.Time `bun:"token_expires_at,nullzero"`
	LocationID     string     `bun:"location_id"`
	LocationName   string     `bun:"location_name"`
	CompanyID      string     `bun:"company_id"`
	ExternalUserID string     `bun:"external_user_id"`
	Status         string     `bun:"status,notnull"`
	LastError      string     `bun:"last_error"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	LastUsedAt     *time.Time `bun:"last_used_at,nullzero"`
	ExpiredAt      *time.Time `bun:"expired_at,nullzero"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete"`
}

type oauthStateRecord struct {
	bun.BaseModel `bun:"table:crm_oauth_states,alias:cos"`

	Token       string         `bun:"token,pk"`
	ProviderID  string         `bun:"provider_id,notnull"`
	UserID      string         `bun:"user_id,notnull"`
	AdminID     string         `bun:"admin_id"`
	RedirectURI string         `bun:"redirect_uri"`
	Metadata    map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt   time.Time      `bun:"expires_at,notnull"`
}

type telemetryEventRecord struct {
	bun.BaseModel `bun:"table:crm_telemetry_events,alias:cte"`

	ID             string         `bun:"id,pk"`
	ProviderID     string         `bun:"provider_id,notnull"`
	UserID         string         `bun:"user_id,notnull"`
	EventType      string         `bun:"event_type,notnull"`
	LocationID     string         `bun:"location_id"`
	LocationName   string         `bun:"location_name"`
	TokenExpiresAt *time.Time     `bun:"token_expires_at,nullzero"`
	Error          string         `bun:"error"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type integrationErrorRecord struct {
	bun.BaseModel `bun:"table:crm_integration_errors,alias:cie"`

	ID         string         `bun:"id,pk"`
	ProviderID string         `bun:"provider_id,notnull"`
	UserID     string         `bun:"user_id,notnull"`
	ErrorType  string         `bun:"error_type,notnull"`
	Source     string         `bun:"source"`
	Message    string         `bun:"message,notnull"`
	Resolved   bool           `bun:"resolved,notnull"`
	ResolvedAt *time.Time     `bun:"resolved_at,nullzero"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
