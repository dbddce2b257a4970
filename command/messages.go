package command

import (
	"strings"

	"github.com/goliatone/go-crm-connect/core"
)

const (
	TypeBeginAuthorization    = "connect.command.authorization.begin"
	TypeCompleteAuthorization = "connect.command.authorization.complete"
	TypeRefresh               = "connect.command.refresh"
	TypeDisconnect            = "connect.command.disconnect"
	TypeSweepExpiring         = "connect.command.refresh.sweep"
)

type BeginAuthorizationMessage struct {
	Request core.BeginAuthorizationRequest
}

func (BeginAuthorizationMessage) Type() string { return TypeBeginAuthorization }

func (m BeginAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandInvalidInputError("command: provider id is required")
	}
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandInvalidInputError("command: user id is required")
	}
	return nil
}

type CompleteAuthorizationMessage struct {
	Request core.CompleteAuthorizationRequest
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandInvalidInputError("command: provider id is required")
	}
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandInvalidInputError("command: user id is required")
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandInvalidInputError("command: authorization code is required")
	}
	return nil
}

type RefreshMessage struct {
	Request core.RefreshRequest
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandInvalidInputError("command: provider id is required")
	}
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandInvalidInputError("command: user id is required")
	}
	return nil
}

type DisconnectMessage struct {
	ProviderID string
	UserID     string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.ProviderID) == "" {
		return commandInvalidInputError("command: provider id is required")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return commandInvalidInputError("command: user id is required")
	}
	return nil
}

type SweepExpiringMessage struct {
	Options core.SweepOptions
}

func (SweepExpiringMessage) Type() string { return TypeSweepExpiring }

func (SweepExpiringMessage) Validate() error { return nil }
