package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

type fakeProvider struct {
	id        string
	beginFn   func(ctx context.Context, req BeginAuthRequest) (BeginAuthResponse, error)
	exchange  func(ctx context.Context, req CompleteAuthRequest) (CompleteAuthResponse, error)
	refreshFn func(ctx context.Context, cred ActiveCredential) (ProviderRefreshResult, error)
}

func (p *fakeProvider) ID() string {
	if p.id == "" {
		return "highlevel"
	}
	return p.id
}

func (p *fakeProvider) AuthKind() string { return "oauth2_auth_code" }

func (p *fakeProvider) BeginAuth(ctx context.Context, req BeginAuthRequest) (BeginAuthResponse, error) {
	if p.beginFn != nil {
		return p.beginFn(ctx, req)
	}
	return BeginAuthResponse{
		URL:   "https://auth.example.com/authorize?state=" + req.State,
		State: req.State,
	}, nil
}

func (p *fakeProvider) CompleteAuth(ctx context.Context, req CompleteAuthRequest) (CompleteAuthResponse, error) {
	if p.exchange != nil {
		return p.exchange(ctx, req)
	}
	expires := time.Now().UTC().Add(time.Hour)
	return CompleteAuthResponse{
		Credential: ActiveCredential{
			TokenType:      "Bearer",
			AccessToken:    "access-1",
			RefreshToken:   "refresh-1",
			ExpiresAt:      &expires,
			Refreshable:    true,
			LocationID:     "loc_1",
			CompanyID:      "comp_1",
			ExternalUserID: "ext_1",
		},
	}, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, cred ActiveCredential) (ProviderRefreshResult, error) {
	if p.refreshFn != nil {
		return p.refreshFn(ctx, cred)
	}
	expires := time.Now().UTC().Add(time.Hour)
	return ProviderRefreshResult{
		Credential: ActiveCredential{
			TokenType:    "Bearer",
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresAt:    &expires,
			Refreshable:  true,
		},
	}, nil
}

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := strings.TrimSpace(string(ciphertext))
	if !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
	if err != nil {
		return nil, fmt.Errorf("test secret provider: decode ciphertext: %w", err)
	}
	return decoded, nil
}

type memoryConnectionStore struct {
	mu   sync.Mutex
	next int
	rows map[string]Connection
}

func newMemoryConnectionStore() *memoryConnectionStore {
	return &memoryConnectionStore{rows: map[string]Connection{}}
}

func connectionKey(providerID string, userID string) string {
	return strings.TrimSpace(providerID) + "/" + strings.TrimSpace(userID)
}

func (s *memoryConnectionStore) Upsert(_ context.Context, in UpsertConnectionInput) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(in.ProviderID) == "" || strings.TrimSpace(in.UserID) == "" {
		return Connection{}, fmt.Errorf("provider id and user id are required")
	}

	key := connectionKey(in.ProviderID, in.UserID)
	now := time.Now().UTC()
	existing, ok := s.rows[key]
	if !ok {
		s.next++
		existing = Connection{
			ID:         fmt.Sprintf("conn_%d", s.next),
			ProviderID: strings.TrimSpace(in.ProviderID),
			UserID:     strings.TrimSpace(in.UserID),
			CreatedAt:  now,
		}
	}
	existing.AccessToken = append([]byte(nil), in.AccessToken...)
	existing.RefreshToken = append([]byte(nil), in.RefreshToken...)
	existing.TokenType = in.TokenType
	existing.TokenExpiresAt = cloneTime(in.TokenExpiresAt)
	if locationID := strings.TrimSpace(in.LocationID); locationID != existing.LocationID {
		existing.LocationID = locationID
		existing.LocationName = ""
	}
	if strings.TrimSpace(in.LocationName) != "" {
		existing.LocationName = in.LocationName
	}
	existing.CompanyID = in.CompanyID
	existing.ExternalUserID = in.ExternalUserID
	existing.Status = in.Status
	existing.LastError = ""
	existing.ExpiredAt = nil
	existing.UpdatedAt = now
	s.rows[key] = existing
	return existing, nil
}

func (s *memoryConnectionStore) Get(_ context.Context, providerID string, userID string) (Connection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.rows[connectionKey(providerID, userID)]
	return conn, ok, nil
}

func (s *memoryConnectionStore) GetActive(_ context.Context, providerID string, userID string) (Connection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.rows[connectionKey(providerID, userID)]
	if !ok || conn.Status != ConnectionStatusActive {
		return Connection{}, false, nil
	}
	return conn, true, nil
}

func (s *memoryConnectionStore) UpdateStatus(_ context.Context, id string, status ConnectionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, conn := range s.rows {
		if conn.ID == id {
			conn.Status = status
			conn.LastError = reason
			s.rows[key] = conn
			return nil
		}
	}
	return fmt.Errorf("missing connection %q", id)
}

func (s *memoryConnectionStore) MarkExpired(_ context.Context, id string, expiredAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, conn := range s.rows {
		if conn.ID == id {
			conn.Status = ConnectionStatusExpired
			conn.LastError = reason
			conn.ExpiredAt = cloneTime(&expiredAt)
			s.rows[key] = conn
			return nil
		}
	}
	return fmt.Errorf("missing connection %q", id)
}

func (s *memoryConnectionStore) SetLocationName(_ context.Context, id string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, conn := range s.rows {
		if conn.ID == id {
			conn.LocationName = name
			s.rows[key] = conn
			return nil
		}
	}
	return fmt.Errorf("missing connection %q", id)
}

func (s *memoryConnectionStore) TouchLastUsed(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, conn := range s.rows {
		if conn.ID == id {
			conn.LastUsedAt = cloneTime(&usedAt)
			s.rows[key] = conn
			return nil
		}
	}
	return fmt.Errorf("missing connection %q", id)
}

func (s *memoryConnectionStore) Delete(_ context.Context, providerID string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, connectionKey(providerID, userID))
	return nil
}

func (s *memoryConnectionStore) ListExpiring(_ context.Context, before time.Time, limit int) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Connection, 0)
	for _, conn := range s.rows {
		if conn.Status != ConnectionStatusActive || conn.TokenExpiresAt == nil {
			continue
		}
		if conn.TokenExpiresAt.After(before) {
			continue
		}
		out = append(out, conn)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type captureTelemetrySink struct {
	mu     sync.Mutex
	events []TelemetryEvent
	errs   []IntegrationError
}

func (s *captureTelemetrySink) RecordEvent(_ context.Context, event TelemetryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureTelemetrySink) RecordError(_ context.Context, entry IntegrationError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, entry)
	return nil
}

func (s *captureTelemetrySink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.EventType)
	}
	return out
}

type staticLocationResolver struct {
	name string
	err  error
}

func (r staticLocationResolver) ResolveLocationName(context.Context, string, ActiveCredential, string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.name, nil
}

type testServiceEnv struct {
	service   *Service
	provider  *fakeProvider
	store     *memoryConnectionStore
	states    *MemoryStateStore
	telemetry *captureTelemetrySink
}

func newTestService(t interface{ Fatalf(string, ...any) }, extra ...Option) testServiceEnv {
	provider := &fakeProvider{id: "highlevel"}
	registry := NewProviderRegistry()
	if err := registry.Register(provider); err != nil {
		t.Fatalf("register provider: %v", err)
	}

	store := newMemoryConnectionStore()
	states := NewMemoryStateStore(DefaultStateTTL)
	telemetry := &captureTelemetrySink{}

	options := []Option{
		WithRegistry(registry),
		WithConnectionStore(store),
		WithStateStore(states),
		WithTelemetrySink(telemetry),
		WithSecretProvider(testSecretProvider{}),
	}
	options = append(options, extra...)

	service, err := NewService(DefaultConfig(), options...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return testServiceEnv{
		service:   service,
		provider:  provider,
		store:     store,
		states:    states,
		telemetry: telemetry,
	}
}

func ptrTime(value time.Time) *time.Time {
	return &value
}
