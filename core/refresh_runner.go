package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultRefreshMaxAttempts    = 3
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Second
	defaultRefreshLockTTL        = 30 * time.Second
)

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes refresh attempts per connection. Advisory: it
// guards against duplicate refreshes in one deployment, not across regions.
type ConnectionLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRefreshMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type RefreshRunResult struct {
	Attempts      int
	PendingReauth bool
	Expired       bool
}

type RefreshRunOptions struct {
	MaxAttempts int
	LockTTL     time.Duration
}

// RunRefreshWithRetry drives Refresh with bounded attempts and backoff.
// Token-endpoint rejections are terminal (Refresh already expired the
// connection); transient failures park the connection in pending_reauth once
// attempts run out so the sweeper can pick it up again.
func (s *Service) RunRefreshWithRetry(ctx context.Context, req RefreshRequest, opts RefreshRunOptions) (RefreshRunResult, error) {
	if s == nil {
		return RefreshRunResult{}, fmt.Errorf("core: service is nil")
	}
	if strings.TrimSpace(req.ProviderID) == "" || strings.TrimSpace(req.UserID) == "" {
		return RefreshRunResult{}, s.mapError(fmt.Errorf("core: provider id and user id are required"))
	}
	lockKey := connectionLockKey(req.ProviderID, req.UserID)

	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRefreshMaxAttempts
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultRefreshLockTTL
	}

	unlock := func() {}
	if s.connectionLocker != nil && !isRefreshLockHeld(ctx, lockKey) {
		lockHandle, lockErr := s.connectionLocker.Acquire(ctx, lockKey, lockTTL)
		if lockErr != nil {
			return RefreshRunResult{}, s.mapError(lockErr)
		}
		ctx = context.WithValue(ctx, refreshLockContextKey{}, lockKey)
		unlock = func() {
			_ = lockHandle.Unlock(ctx)
		}
	}
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err := s.Refresh(ctx, req)
		if err == nil {
			return RefreshRunResult{Attempts: attempt}, nil
		}
		lastErr = err

		if isUnrecoverableRefreshError(err) {
			return RefreshRunResult{Attempts: attempt, Expired: true}, s.mapError(err)
		}
		if attempt == maxAttempts {
			_ = s.parkConnectionPendingReauth(ctx, req.ProviderID, req.UserID, err)
			return RefreshRunResult{Attempts: attempt, PendingReauth: true}, s.mapError(err)
		}

		delay := defaultRefreshInitialBackoff
		if s.refreshBackoffScheduler != nil {
			delay = s.refreshBackoffScheduler.NextDelay(attempt)
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return RefreshRunResult{Attempts: attempt}, s.mapError(waitErr)
		}
	}

	return RefreshRunResult{Attempts: maxAttempts}, s.mapError(lastErr)
}

func (s *Service) parkConnectionPendingReauth(ctx context.Context, providerID string, userID string, source error) error {
	if s == nil || s.connectionStore == nil {
		return nil
	}
	connection, found, err := s.connectionStore.Get(ctx, providerID, userID)
	if err != nil || !found {
		return err
	}
	if !connection.Status.CanTransitionTo(ConnectionStatusPendingReauth) {
		return nil
	}
	reason := strings.TrimSpace(fmt.Sprint(source))
	if reason == "" {
		reason = "refresh failed"
	}
	return s.connectionStore.UpdateStatus(ctx, connection.ID, ConnectionStatusPendingReauth, reason)
}

func isUnrecoverableRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation, goerrors.CategoryNotFound:
			return true
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "token endpoint error") ||
		strings.Contains(msg, "reauthorization required")
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type refreshLockContextKey struct{}

func isRefreshLockHeld(ctx context.Context, key string) bool {
	if ctx == nil {
		return false
	}
	held, _ := ctx.Value(refreshLockContextKey{}).(string)
	return held != "" && held == key
}

func connectionLockKey(providerID string, userID string) string {
	return strings.TrimSpace(providerID) + "::" + strings.TrimSpace(userID)
}

type MemoryConnectionLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryConnectionLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: connection locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[key]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: refresh lock already held for %q", key)
	}
	l.locks[key] = now.Add(ttl)
	return &memoryLockHandle{locker: l, key: key}, nil
}

type memoryLockHandle struct {
	locker *MemoryConnectionLocker
	key    string
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.key)
		h.locker.mu.Unlock()
	})
	return nil
}

var _ ConnectionLocker = (*MemoryConnectionLocker)(nil)
