package core

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSweepExpiring(t *testing.T) {
	env := newTestService(t, WithRefreshBackoffScheduler(zeroBackoffScheduler{}))
	seedRefreshableConnection(t, env, "user-1")
	seedRefreshableConnection(t, env, "user-2")

	env.provider.refreshFn = func(_ context.Context, cred ActiveCredential) (ProviderRefreshResult, error) {
		if cred.RefreshToken == "refresh-user-2" {
			return ProviderRefreshResult{}, fmt.Errorf("providers: token endpoint error (status 400): invalid_grant")
		}
		expires := time.Now().UTC().Add(time.Hour)
		return ProviderRefreshResult{
			Credential: ActiveCredential{
				TokenType:    "Bearer",
				AccessToken:  "access-next",
				RefreshToken: cred.RefreshToken,
				ExpiresAt:    &expires,
				Refreshable:  true,
			},
		}, nil
	}

	result, err := env.service.SweepExpiring(context.Background(), SweepOptions{
		Refresh: RefreshRunOptions{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Scanned != 2 {
		t.Fatalf("expected 2 scanned, got %d", result.Scanned)
	}
	if result.Refreshed != 1 || result.Expired != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	healthy, _, _ := env.store.Get(context.Background(), "highlevel", "user-1")
	if healthy.Status != ConnectionStatusActive {
		t.Fatalf("expected user-1 still active, got %s", healthy.Status)
	}
	rejected, _, _ := env.store.Get(context.Background(), "highlevel", "user-2")
	if rejected.Status != ConnectionStatusExpired {
		t.Fatalf("expected user-2 expired, got %s", rejected.Status)
	}
}

func TestSweepExpiringSkipsHealthyConnections(t *testing.T) {
	env := newTestService(t, WithRefreshBackoffScheduler(zeroBackoffScheduler{}))

	// Token expiry well outside the lead window.
	if _, err := env.service.CompleteAuthorization(context.Background(), CompleteAuthorizationRequest{
		ProviderID: "highlevel",
		UserID:     "user-1",
		Code:       "auth-code",
	}); err != nil {
		t.Fatalf("complete authorization: %v", err)
	}

	result, err := env.service.SweepExpiring(context.Background(), SweepOptions{})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Scanned != 0 {
		t.Fatalf("expected no connections scanned, got %d", result.Scanned)
	}
}

func TestSweepExpiringHonorsBatchSize(t *testing.T) {
	env := newTestService(t, WithRefreshBackoffScheduler(zeroBackoffScheduler{}))
	seedRefreshableConnection(t, env, "user-1")
	seedRefreshableConnection(t, env, "user-2")
	seedRefreshableConnection(t, env, "user-3")

	result, err := env.service.SweepExpiring(context.Background(), SweepOptions{
		BatchSize: 2,
		Refresh:   RefreshRunOptions{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Scanned != 2 {
		t.Fatalf("expected batch size respected, got %d scanned", result.Scanned)
	}
}

func TestSweepExpiringStopsOnCancelledContext(t *testing.T) {
	env := newTestService(t, WithRefreshBackoffScheduler(zeroBackoffScheduler{}))
	seedRefreshableConnection(t, env, "user-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.service.SweepExpiring(ctx, SweepOptions{})
	if err == nil || !strings.Contains(err.Error(), "cancel") {
		t.Fatalf("expected context cancellation error, got %v", err)
	}
}
