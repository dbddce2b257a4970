package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ActiveCredential is the decrypted token set exchanged with providers.
type ActiveCredential struct {
	TokenType      string
	AccessToken    string
	RefreshToken   string
	Scopes         []string
	ExpiresAt      *time.Time
	Refreshable    bool
	LocationID     string
	CompanyID      string
	ExternalUserID string
	Metadata       map[string]any
}

type BeginAuthRequest struct {
	ProviderID  string
	UserID      string
	RedirectURI string
	State       string
	Scopes      []string
	Metadata    map[string]any
}

type BeginAuthResponse struct {
	URL      string
	State    string
	Scopes   []string
	Metadata map[string]any
}

type CompleteAuthRequest struct {
	ProviderID  string
	UserID      string
	Code        string
	RedirectURI string
	Metadata    map[string]any
}

type CompleteAuthResponse struct {
	Credential ActiveCredential
	Metadata   map[string]any
}

type ProviderRefreshResult struct {
	Credential ActiveCredential
	Metadata   map[string]any
}

type Provider interface {
	ID() string
	AuthKind() string

	BeginAuth(ctx context.Context, req BeginAuthRequest) (BeginAuthResponse, error)
	CompleteAuth(ctx context.Context, req CompleteAuthRequest) (CompleteAuthResponse, error)
	Refresh(ctx context.Context, cred ActiveCredential) (ProviderRefreshResult, error)
}

type Registry interface {
	Register(provider Provider) error
	Get(providerID string) (Provider, bool)
	List() []Provider
}

type UpsertConnectionInput struct {
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
}

// ConnectionStore persists one row per (provider_id, user_id). Upsert
// supersedes any prior row for the pair instead of stacking versions.
type ConnectionStore interface {
	Upsert(ctx context.Context, in UpsertConnectionInput) (Connection, error)
	Get(ctx context.Context, providerID string, userID string) (Connection, bool, error)
	GetActive(ctx context.Context, providerID string, userID string) (Connection, bool, error)
	UpdateStatus(ctx context.Context, id string, status ConnectionStatus, reason string) error
	MarkExpired(ctx context.Context, id string, expiredAt time.Time, reason string) error
	SetLocationName(ctx context.Context, id string, name string) error
	TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error
	Delete(ctx context.Context, providerID string, userID string) error
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]Connection, error)
}

// TelemetrySink receives lifecycle events and integration errors. Sinks are
// best-effort collaborators; callers must not fail an operation because a
// sink write failed.
type TelemetrySink interface {
	RecordEvent(ctx context.Context, event TelemetryEvent) error
	RecordError(ctx context.Context, entry IntegrationError) error
}

// LocationResolver fetches a human-readable display name for a CRM location.
type LocationResolver interface {
	ResolveLocationName(ctx context.Context, providerID string, cred ActiveCredential, locationID string) (string, error)
}

type StoreProvider interface {
	ConnectionStore() ConnectionStore
	StateStore() StateStore
	TelemetrySink() TelemetrySink
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
