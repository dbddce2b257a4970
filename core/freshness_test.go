package core

import (
	"testing"
	"time"
)

func TestResolveTokenState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		credential ActiveCredential
		expired    bool
		soon       bool
		auto       bool
	}{
		{
			name: "no_expiry",
			credential: ActiveCredential{
				AccessToken:  "access",
				RefreshToken: "refresh",
				Refreshable:  true,
			},
			auto: true,
		},
		{
			name: "already_expired",
			credential: ActiveCredential{
				AccessToken:  "access",
				RefreshToken: "refresh",
				Refreshable:  true,
				ExpiresAt:    ptrTime(now.Add(-time.Minute)),
			},
			expired: true,
			auto:    true,
		},
		{
			name: "expiring_inside_window",
			credential: ActiveCredential{
				AccessToken:  "access",
				RefreshToken: "refresh",
				Refreshable:  true,
				ExpiresAt:    ptrTime(now.Add(3 * time.Minute)),
			},
			soon: true,
			auto: true,
		},
		{
			name: "boundary_counts_as_expiring",
			credential: ActiveCredential{
				AccessToken:  "access",
				RefreshToken: "refresh",
				Refreshable:  true,
				ExpiresAt:    ptrTime(now.Add(DefaultExpiringSoonWindow)),
			},
			soon: true,
			auto: true,
		},
		{
			name: "healthy_without_refresh_token",
			credential: ActiveCredential{
				AccessToken: "access",
				ExpiresAt:   ptrTime(now.Add(2 * time.Hour)),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := ResolveTokenState(now, tc.credential, DefaultExpiringSoonWindow)
			if state.IsExpired != tc.expired || state.IsExpiringSoon != tc.soon {
				t.Fatalf("expected expired=%t soon=%t, got expired=%t soon=%t", tc.expired, tc.soon, state.IsExpired, state.IsExpiringSoon)
			}
			if state.CanAutoRefresh != tc.auto {
				t.Fatalf("expected can_auto_refresh=%t, got %t", tc.auto, state.CanAutoRefresh)
			}
		})
	}
}

func TestShouldRefreshToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		state TokenState
		want  bool
	}{
		{
			name:  "not_refreshable",
			state: TokenState{CanAutoRefresh: false, ExpiresAt: ptrTime(now.Add(time.Minute))},
		},
		{
			name:  "missing_access_token",
			state: TokenState{CanAutoRefresh: true},
			want:  true,
		},
		{
			name:  "no_expiry_never_due",
			state: TokenState{CanAutoRefresh: true, HasAccessToken: true},
		},
		{
			name: "outside_lead_window",
			state: TokenState{
				CanAutoRefresh: true,
				HasAccessToken: true,
				ExpiresAt:      ptrTime(now.Add(30 * time.Minute)),
			},
		},
		{
			name: "inside_lead_window",
			state: TokenState{
				CanAutoRefresh: true,
				HasAccessToken: true,
				ExpiresAt:      ptrTime(now.Add(2 * time.Minute)),
			},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ShouldRefreshToken(now, tc.state, DefaultRefreshLeadWindow)
			if got != tc.want {
				t.Fatalf("expected %t, got %t", tc.want, got)
			}
		})
	}
}
