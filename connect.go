package crmconnect

import "github.com/goliatone/go-crm-connect/core"

type Config = core.Config

type OAuthConfig = core.OAuthConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type StateStore = core.StateStore
type ConnectionLocker = core.ConnectionLocker
type RefreshBackoffScheduler = core.RefreshBackoffScheduler
type RefreshRunOptions = core.RefreshRunOptions
type RefreshRunResult = core.RefreshRunResult
type ConnectionStore = core.ConnectionStore
type TelemetrySink = core.TelemetrySink
type LocationResolver = core.LocationResolver
type SecretProvider = core.SecretProvider
type Signer = core.Signer
type Registry = core.Registry
type Provider = core.Provider

type Connection = core.Connection
type ConnectionView = core.ConnectionView
type ConnectionStatus = core.ConnectionStatus
type ActiveCredential = core.ActiveCredential
type AuthorizationState = core.AuthorizationState
type TelemetryEvent = core.TelemetryEvent
type IntegrationError = core.IntegrationError

type BeginAuthorizationRequest = core.BeginAuthorizationRequest
type CompleteAuthorizationRequest = core.CompleteAuthorizationRequest
type RefreshRequest = core.RefreshRequest
type StateClaims = core.StateClaims
type SweepOptions = core.SweepOptions
type SweepResult = core.SweepResult

const (
	ConnectionStatusActive        = core.ConnectionStatusActive
	ConnectionStatusPendingReauth = core.ConnectionStatusPendingReauth
	ConnectionStatusExpired       = core.ConnectionStatusExpired
	ConnectionStatusDisconnected  = core.ConnectionStatusDisconnected
)

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithSecretProvider          = core.WithSecretProvider
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithStateStore              = core.WithStateStore
	WithConnectionLocker        = core.WithConnectionLocker
	WithRefreshBackoffScheduler = core.WithRefreshBackoffScheduler
	WithSigner                  = core.WithSigner
	WithRegistry                = core.WithRegistry
	WithConnectionStore         = core.WithConnectionStore
	WithTelemetrySink           = core.WithTelemetrySink
	WithLocationResolver        = core.WithLocationResolver
	WithClock                   = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
