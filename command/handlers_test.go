package command

import (
	"context"
	"fmt"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-crm-connect/core"
)

type stubMutatingService struct {
	beginFn      func(ctx context.Context, req core.BeginAuthorizationRequest) (core.BeginAuthResponse, error)
	completeFn   func(ctx context.Context, req core.CompleteAuthorizationRequest) (core.Connection, error)
	refreshFn    func(ctx context.Context, req core.RefreshRequest) (core.Connection, error)
	disconnectFn func(ctx context.Context, providerID string, userID string) error
	sweepFn      func(ctx context.Context, opts core.SweepOptions) (core.SweepResult, error)
}

func (s stubMutatingService) BeginAuthorization(ctx context.Context, req core.BeginAuthorizationRequest) (core.BeginAuthResponse, error) {
	if s.beginFn == nil {
		return core.BeginAuthResponse{}, fmt.Errorf("unexpected BeginAuthorization call")
	}
	return s.beginFn(ctx, req)
}

func (s stubMutatingService) CompleteAuthorization(ctx context.Context, req core.CompleteAuthorizationRequest) (core.Connection, error) {
	if s.completeFn == nil {
		return core.Connection{}, fmt.Errorf("unexpected CompleteAuthorization call")
	}
	return s.completeFn(ctx, req)
}

func (s stubMutatingService) Refresh(ctx context.Context, req core.RefreshRequest) (core.Connection, error) {
	if s.refreshFn == nil {
		return core.Connection{}, fmt.Errorf("unexpected Refresh call")
	}
	return s.refreshFn(ctx, req)
}

func (s stubMutatingService) Disconnect(ctx context.Context, providerID string, userID string) error {
	if s.disconnectFn == nil {
		return fmt.Errorf("unexpected Disconnect call")
	}
	return s.disconnectFn(ctx, providerID, userID)
}

func (s stubMutatingService) SweepExpiring(ctx context.Context, opts core.SweepOptions) (core.SweepResult, error) {
	if s.sweepFn == nil {
		return core.SweepResult{}, fmt.Errorf("unexpected SweepExpiring call")
	}
	return s.sweepFn(ctx, opts)
}

func TestBeginAuthorizationCommand_StoresResult(t *testing.T) {
	expected := core.BeginAuthResponse{URL: "https://auth.example.com/authorize", State: "st"}
	called := false

	svc := stubMutatingService{
		beginFn: func(_ context.Context, req core.BeginAuthorizationRequest) (core.BeginAuthResponse, error) {
			called = true
			if req.ProviderID != "highlevel" || req.UserID != "user-1" {
				t.Fatalf("unexpected request: %+v", req)
			}
			return expected, nil
		},
	}

	cmd := NewBeginAuthorizationCommand(svc)
	collector := gocmd.NewResult[core.BeginAuthResponse]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, BeginAuthorizationMessage{Request: core.BeginAuthorizationRequest{
		ProviderID: "highlevel",
		UserID:     "user-1",
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !called {
		t.Fatal("expected service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatal("expected result stored")
	}
	if result.URL != expected.URL || result.State != expected.State {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestCompleteAuthorizationCommand_StoresConnection(t *testing.T) {
	expected := core.Connection{ID: "conn_1", ProviderID: "highlevel", UserID: "user-1", Status: core.ConnectionStatusActive}

	svc := stubMutatingService{
		completeFn: func(_ context.Context, req core.CompleteAuthorizationRequest) (core.Connection, error) {
			if req.Code != "auth-code" {
				t.Fatalf("unexpected code %q", req.Code)
			}
			return expected, nil
		},
	}

	cmd := NewCompleteAuthorizationCommand(svc)
	collector := gocmd.NewResult[core.Connection]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, CompleteAuthorizationMessage{Request: core.CompleteAuthorizationRequest{
		ProviderID: "highlevel",
		UserID:     "user-1",
		Code:       "auth-code",
	}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	stored, ok := collector.Load()
	if !ok || stored.ID != "conn_1" {
		t.Fatalf("expected stored connection, got ok=%t %+v", ok, stored)
	}
}

func TestRefreshCommand_PropagatesError(t *testing.T) {
	svc := stubMutatingService{
		refreshFn: func(context.Context, core.RefreshRequest) (core.Connection, error) {
			return core.Connection{}, fmt.Errorf("refresh failed")
		},
	}

	cmd := NewRefreshCommand(svc)
	err := cmd.Execute(context.Background(), RefreshMessage{Request: core.RefreshRequest{
		ProviderID: "highlevel",
		UserID:     "user-1",
	}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDisconnectCommand_Delegates(t *testing.T) {
	called := false
	svc := stubMutatingService{
		disconnectFn: func(_ context.Context, providerID string, userID string) error {
			called = true
			if providerID != "highlevel" || userID != "user-1" {
				t.Fatalf("unexpected payload: %q %q", providerID, userID)
			}
			return nil
		},
	}

	cmd := NewDisconnectCommand(svc)
	if err := cmd.Execute(context.Background(), DisconnectMessage{ProviderID: "highlevel", UserID: "user-1"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !called {
		t.Fatal("expected disconnect invocation")
	}
}

func TestSweepExpiringCommand_StoresResult(t *testing.T) {
	svc := stubMutatingService{
		sweepFn: func(_ context.Context, opts core.SweepOptions) (core.SweepResult, error) {
			if opts.BatchSize != 25 {
				t.Fatalf("unexpected batch size %d", opts.BatchSize)
			}
			return core.SweepResult{Scanned: 3, Refreshed: 2, Failed: 1}, nil
		},
	}

	cmd := NewSweepExpiringCommand(svc)
	collector := gocmd.NewResult[core.SweepResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, SweepExpiringMessage{Options: core.SweepOptions{BatchSize: 25}}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	stored, ok := collector.Load()
	if !ok || stored.Scanned != 3 || stored.Refreshed != 2 {
		t.Fatalf("unexpected stored result: ok=%t %+v", ok, stored)
	}
}

func TestCommandsRequireService(t *testing.T) {
	if err := (&BeginAuthorizationCommand{}).Execute(context.Background(), BeginAuthorizationMessage{}); err == nil {
		t.Fatal("expected dependency error")
	}
	if err := (&DisconnectCommand{}).Execute(context.Background(), DisconnectMessage{}); err == nil {
		t.Fatal("expected dependency error")
	}
}

func TestMessageValidation(t *testing.T) {
	cases := []struct {
		name    string
		message interface{ Validate() error }
		valid   bool
	}{
		{name: "begin_ok", message: BeginAuthorizationMessage{Request: core.BeginAuthorizationRequest{ProviderID: "highlevel", UserID: "u"}}, valid: true},
		{name: "begin_missing_user", message: BeginAuthorizationMessage{Request: core.BeginAuthorizationRequest{ProviderID: "highlevel"}}},
		{name: "complete_ok", message: CompleteAuthorizationMessage{Request: core.CompleteAuthorizationRequest{ProviderID: "highlevel", UserID: "u", Code: "c"}}, valid: true},
		{name: "complete_missing_code", message: CompleteAuthorizationMessage{Request: core.CompleteAuthorizationRequest{ProviderID: "highlevel", UserID: "u"}}},
		{name: "refresh_ok", message: RefreshMessage{Request: core.RefreshRequest{ProviderID: "highlevel", UserID: "u"}}, valid: true},
		{name: "refresh_missing_provider", message: RefreshMessage{Request: core.RefreshRequest{UserID: "u"}}},
		{name: "disconnect_ok", message: DisconnectMessage{ProviderID: "highlevel", UserID: "u"}, valid: true},
		{name: "disconnect_missing_user", message: DisconnectMessage{ProviderID: "highlevel"}},
		{name: "sweep_always_valid", message: SweepExpiringMessage{}, valid: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.message.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid message, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
