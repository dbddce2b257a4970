package crmconnect

import (
	"fmt"

	connectcommand "github.com/goliatone/go-crm-connect/command"
)

// Commands groups the command handlers bound to a single service instance.
type Commands struct {
	BeginAuthorization    *connectcommand.BeginAuthorizationCommand
	CompleteAuthorization *connectcommand.CompleteAuthorizationCommand
	Refresh               *connectcommand.RefreshCommand
	Disconnect            *connectcommand.DisconnectCommand
	SweepExpiring         *connectcommand.SweepExpiringCommand
}

type Facade struct {
	service  connectcommand.MutatingService
	commands Commands
}

func NewFacade(service connectcommand.MutatingService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("crmconnect: mutating service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		BeginAuthorization:    connectcommand.NewBeginAuthorizationCommand(service),
		CompleteAuthorization: connectcommand.NewCompleteAuthorizationCommand(service),
		Refresh:               connectcommand.NewRefreshCommand(service),
		Disconnect:            connectcommand.NewDisconnectCommand(service),
		SweepExpiring:         connectcommand.NewSweepExpiringCommand(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Service() connectcommand.MutatingService {
	if f == nil {
		return nil
	}
	return f.service
}
