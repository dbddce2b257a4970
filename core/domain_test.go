package core

import (
	"testing"
	"time"
)

func TestConnectionStatusTransitions(t *testing.T) {
	cases := []struct {
		from ConnectionStatus
		to   ConnectionStatus
		ok   bool
	}{
		{ConnectionStatusActive, ConnectionStatusExpired, true},
		{ConnectionStatusActive, ConnectionStatusPendingReauth, true},
		{ConnectionStatusActive, ConnectionStatusDisconnected, true},
		{ConnectionStatusPendingReauth, ConnectionStatusActive, true},
		{ConnectionStatusExpired, ConnectionStatusActive, true},
		{ConnectionStatusExpired, ConnectionStatusPendingReauth, false},
		{ConnectionStatusDisconnected, ConnectionStatusActive, true},
		{ConnectionStatusDisconnected, ConnectionStatusExpired, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %t, got %t", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestConnectionTransitionTo(t *testing.T) {
	conn := &Connection{Status: ConnectionStatusActive}
	if err := conn.TransitionTo(ConnectionStatusExpired); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if conn.Status != ConnectionStatusExpired {
		t.Fatalf("expected expired, got %s", conn.Status)
	}
	if err := conn.TransitionTo(ConnectionStatusPendingReauth); err == nil {
		t.Fatal("expected invalid transition error")
	}
	// Transition to the current status is a no-op.
	if err := conn.TransitionTo(ConnectionStatusExpired); err != nil {
		t.Fatalf("self transition: %v", err)
	}
}

func TestConnectionViewOmitsTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(-time.Minute)
	conn := Connection{
		ID:             "conn_1",
		ProviderID:     "highlevel",
		UserID:         "user-1",
		AccessToken:    []byte("ciphertext"),
		RefreshToken:   []byte("ciphertext"),
		TokenExpiresAt: &expires,
		LocationID:     "loc_1",
		LocationName:   "Downtown Clinic",
		Status:         ConnectionStatusActive,
		CreatedAt:      now.Add(-time.Hour),
	}

	view := conn.View(now)
	if !view.Active {
		t.Fatal("expected active view")
	}
	if !view.IsExpired {
		t.Fatal("expected IsExpired for past expiry")
	}
	if view.LocationName != "Downtown Clinic" || view.LocationID != "loc_1" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.ConnectedAt != conn.CreatedAt {
		t.Fatalf("expected connected_at from created_at")
	}
}

func TestConnectionIsExpiredWithoutExpiry(t *testing.T) {
	conn := Connection{Status: ConnectionStatusActive}
	if conn.IsExpired(time.Now().UTC()) {
		t.Fatal("connection without expiry never expires by clock")
	}
}

func TestTelemetryEventValidate(t *testing.T) {
	if err := (TelemetryEvent{}).Validate(); err == nil {
		t.Fatal("expected error for empty event")
	}
	if err := (TelemetryEvent{EventType: EventTypeConnected}).Validate(); err == nil {
		t.Fatal("expected error for missing provider")
	}
	event := TelemetryEvent{EventType: EventTypeConnected, ProviderID: "highlevel"}
	if err := event.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
