package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultStateTTL = 10 * time.Minute

	stateTokenBytes             = 32
	defaultStateStoreMaxEntries = 10_000
)

var (
	ErrStateNotFound = errors.New("core: authorization state not found")
	ErrStateExpired  = errors.New("core: authorization state expired")
)

// AuthorizationState binds a CSRF state token to the user who started the
// OAuth flow. Records are single-use: Consume deletes on read.
type AuthorizationState struct {
	Token       string
	ProviderID  string
	UserID      string
	AdminID     string
	RedirectURI string
	Metadata    map[string]any
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type StateStore interface {
	Save(ctx context.Context, record AuthorizationState) error
	// Consume deletes the record and returns it. Expired records are deleted
	// and reported via ErrStateExpired; missing ones via ErrStateNotFound.
	Consume(ctx context.Context, token string) (AuthorizationState, error)
}

// GenerateStateToken returns 256 bits of crypto randomness as 64 hex chars.
func GenerateStateToken() (string, error) {
	raw := make([]byte, stateTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate state token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

type MemoryStateStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]AuthorizationState
	nowFn      func() time.Time
}

func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return NewMemoryStateStoreWithLimits(ttl, defaultStateStoreMaxEntries)
}

func NewMemoryStateStoreWithLimits(ttl time.Duration, maxEntries int) *MemoryStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultStateStoreMaxEntries
	}
	return &MemoryStateStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]AuthorizationState{},
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStateStore) Save(_ context.Context, record AuthorizationState) error {
	if s == nil {
		return fmt.Errorf("core: state store is not configured")
	}
	token := strings.TrimSpace(record.Token)
	if token == "" {
		return fmt.Errorf("core: authorization state token is required")
	}

	now := s.nowFn()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.entries[token] = cloneAuthorizationState(record)
	s.mu.Unlock()

	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, token string) (AuthorizationState, error) {
	if s == nil {
		return AuthorizationState{}, fmt.Errorf("core: state store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return AuthorizationState{}, fmt.Errorf("core: authorization state token is required")
	}

	s.mu.Lock()
	record, ok := s.entries[token]
	if ok {
		delete(s.entries, token)
	}
	s.mu.Unlock()

	if !ok {
		return AuthorizationState{}, ErrStateNotFound
	}
	if !record.ExpiresAt.IsZero() && s.nowFn().After(record.ExpiresAt) {
		return AuthorizationState{}, ErrStateExpired
	}

	return cloneAuthorizationState(record), nil
}

// pruneLocked drops expired entries, then evicts the oldest records until the
// store is back under its entry cap. Callers must hold s.mu.
func (s *MemoryStateStore) pruneLocked(now time.Time) {
	for token, record := range s.entries {
		if !record.ExpiresAt.IsZero() && now.After(record.ExpiresAt) {
			delete(s.entries, token)
		}
	}
	for len(s.entries) >= s.maxEntries {
		oldestToken := ""
		oldestAt := time.Time{}
		for token, record := range s.entries {
			if oldestToken == "" || record.CreatedAt.Before(oldestAt) {
				oldestToken = token
				oldestAt = record.CreatedAt
			}
		}
		if oldestToken == "" {
			return
		}
		delete(s.entries, oldestToken)
	}
}

func cloneAuthorizationState(record AuthorizationState) AuthorizationState {
	cloned := record
	cloned.Metadata = copyAnyMap(record.Metadata)
	return cloned
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ StateStore = (*MemoryStateStore)(nil)
