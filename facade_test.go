package crmconnect

import (
	"context"
	"testing"

	connectcommand "github.com/goliatone/go-crm-connect/command"
	"github.com/goliatone/go-crm-connect/core"
)

type stubFacadeService struct {
	disconnects int
}

func (s *stubFacadeService) BeginAuthorization(context.Context, core.BeginAuthorizationRequest) (core.BeginAuthResponse, error) {
	return core.BeginAuthResponse{URL: "https://auth.example.com/authorize"}, nil
}

func (s *stubFacadeService) CompleteAuthorization(context.Context, core.CompleteAuthorizationRequest) (core.Connection, error) {
	return core.Connection{ID: "conn_1"}, nil
}

func (s *stubFacadeService) Refresh(context.Context, core.RefreshRequest) (core.Connection, error) {
	return core.Connection{ID: "conn_1"}, nil
}

func (s *stubFacadeService) Disconnect(context.Context, string, string) error {
	s.disconnects++
	return nil
}

func (s *stubFacadeService) SweepExpiring(context.Context, core.SweepOptions) (core.SweepResult, error) {
	return core.SweepResult{}, nil
}

func TestNewFacade_WiresCommands(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.BeginAuthorization == nil || commands.CompleteAuthorization == nil {
		t.Fatalf("expected authorization handlers to be wired")
	}
	if commands.Refresh == nil || commands.Disconnect == nil || commands.SweepExpiring == nil {
		t.Fatalf("expected lifecycle handlers to be wired")
	}
	if facade.Service() == nil {
		t.Fatalf("expected service accessor")
	}
}

func TestFacade_CommandDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	err = facade.Commands().Disconnect.Execute(context.Background(), connectcommand.DisconnectMessage{
		ProviderID: "highlevel",
		UserID:     "user-1",
	})
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if svc.disconnects != 1 {
		t.Fatalf("expected one disconnect call, got %d", svc.disconnects)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatal("expected error for nil service")
	}

	var facade *Facade
	if commands := facade.Commands(); commands.Refresh != nil {
		t.Fatal("expected zero commands from nil facade")
	}
	if facade.Service() != nil {
		t.Fatal("expected nil service from nil facade")
	}
}

func TestNewServiceRootEntryPoint(t *testing.T) {
	registry := core.NewProviderRegistry()
	service, err := NewService(DefaultConfig(), WithRegistry(registry))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if service == nil {
		t.Fatal("expected service")
	}

	if _, err := NewFacade(service); err != nil {
		t.Fatalf("facade over real service: %v", err)
	}
}
