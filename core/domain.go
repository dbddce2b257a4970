package core

import (
	"fmt"
	"strings"
	"time"
)

type ConnectionStatus string

const (
	ConnectionStatusActive        ConnectionStatus = "active"
	ConnectionStatusPendingReauth ConnectionStatus = "pending_reauth"
	ConnectionStatusExpired       ConnectionStatus = "expired"
	ConnectionStatusDisconnected  ConnectionStatus = "disconnected"
)

var connectionStatusTransitions = map[ConnectionStatus]map[ConnectionStatus]struct{}{
	ConnectionStatusActive: {
		ConnectionStatusPendingReauth: {},
		ConnectionStatusExpired:       {},
		ConnectionStatusDisconnected:  {},
	},
	ConnectionStatusPendingReauth: {
		ConnectionStatusActive:       {},
		ConnectionStatusExpired:      {},
		ConnectionStatusDisconnected: {},
	},
	ConnectionStatusExpired: {
		ConnectionStatusActive:       {},
		ConnectionStatusDisconnected: {},
	},
	ConnectionStatusDisconnected: {
		ConnectionStatusActive: {},
	},
}

func (s ConnectionStatus) CanTransitionTo(next ConnectionStatus) bool {
	allowed, ok := connectionStatusTransitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// Connection is one user's link to a CRM provider. Token payloads are
// ciphertext as produced by the configured SecretProvider.
type Connection struct {
	ID             string
	ProviderID     string
	UserID         string
	AccessToken    []byte
	RefreshToken   []byte
	TokenType      string
	TokenExpiresAt *time.Time
	LocationID     string
	LocationName   string
	CompanyID      string
	ExternalUserID string
	Status         ConnectionStatus
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
	ExpiredAt      *time.Time
}

func (c *Connection) TransitionTo(next ConnectionStatus) error {
	if c == nil {
		return fmt.Errorf("core: connection is nil")
	}
	if c.Status == next {
		return nil
	}
	if !c.Status.CanTransitionTo(next) {
		return fmt.Errorf("core: invalid connection transition %s -> %s", c.Status, next)
	}
	c.Status = next
	return nil
}

func (c Connection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}

// IsExpired reports whether the stored token expiry has passed. A connection
// without an expiry never expires by clock.
func (c Connection) IsExpired(now time.Time) bool {
	if c.TokenExpiresAt == nil {
		return false
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return !c.TokenExpiresAt.UTC().After(now.UTC())
}

// ConnectionView is the dashboard projection of a connection. It never
// carries token material.
type ConnectionView struct {
	ProviderID     string
	UserID         string
	LocationID     string
	LocationName   string
	CompanyID      string
	Status         ConnectionStatus
	Active         bool
	IsExpired      bool
	TokenExpiresAt *time.Time
	ConnectedAt    time.Time
	LastUsedAt     *time.Time
	ExpiredAt      *time.Time
}

func (c Connection) View(now time.Time) ConnectionView {
	return ConnectionView{
		ProviderID:     c.ProviderID,
		UserID:         c.UserID,
		LocationID:     c.LocationID,
		LocationName:   c.LocationName,
		CompanyID:      c.CompanyID,
		Status:         c.Status,
		Active:         c.IsActive(),
		IsExpired:      c.IsExpired(now),
		TokenExpiresAt: cloneTime(c.TokenExpiresAt),
		ConnectedAt:    c.CreatedAt,
		LastUsedAt:     cloneTime(c.LastUsedAt),
		ExpiredAt:      cloneTime(c.ExpiredAt),
	}
}

const (
	EventTypeConnected      = "connected"
	EventTypeDisconnected   = "disconnected"
	EventTypeTokenRefreshed = "token_refreshed"
	EventTypeRefreshFailed  = "refresh_failed"
	EventTypeExpired        = "expired"
)

// TelemetryEvent is an append-only record of a connection lifecycle change.
type TelemetryEvent struct {
	ID             string
	ProviderID     string
	UserID         string
	EventType      string
	LocationID     string
	LocationName   string
	TokenExpiresAt *time.Time
	Error          string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// IntegrationError captures a failed provider interaction for triage. The
// Resolved flag is flipped by operators once the underlying cause is fixed.
type IntegrationError struct {
	ID         string
	ProviderID string
	UserID     string
	ErrorType  string
	Source     string
	Message    string
	Resolved   bool
	ResolvedAt *time.Time
	Metadata   map[string]any
	CreatedAt  time.Time
}

func (e TelemetryEvent) Validate() error {
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("core: telemetry event type is required")
	}
	if strings.TrimSpace(e.ProviderID) == "" {
		return fmt.Errorf("core: telemetry provider id is required")
	}
	return nil
}

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := in.UTC()
	return &value
}
