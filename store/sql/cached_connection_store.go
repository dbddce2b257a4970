package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-crm-connect/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const connectionCacheKeyPrefix = "go-crm-connect::connection::v1"

type cachedConnection struct {
	Connection core.Connection
	Found      bool
}

// CachedConnectionStore serves connection reads from cache and invalidates on
// every write. The (provider, user) pair is the cache identity, matching the
// one-row-per-pair storage contract.
type CachedConnectionStore struct {
	base  core.ConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(
	base core.ConnectionStore,
	cacheService repositorycache.CacheService,
) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns the deterministic cache key for connection reads:
// go-crm-connect::connection::v1::<provider>::<user> with each segment
// URL-path escaped.
func ConnectionCacheKey(providerID string, userID string) (string, error) {
	providerID = strings.TrimSpace(providerID)
	userID = strings.TrimSpace(userID)
	if providerID == "" || userID == "" {
		return "", fmt.Errorf("sqlstore: provider id and user id are required")
	}
	segments := []string{url.PathEscape(providerID), url.PathEscape(userID)}
	return strings.Join(append([]string{connectionCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedConnectionStore) Get(ctx context.Context, providerID string, userID string) (core.Connection, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	cacheKey, err := ConnectionCacheKey(providerID, userID)
	if err != nil {
		return core.Connection{}, false, err
	}

	cached, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedConnection, error) {
		connection, found, fetchErr := s.base.Get(ctx, providerID, userID)
		if fetchErr != nil {
			return cachedConnection{}, fetchErr
		}
		return cachedConnection{Connection: connection, Found: found}, nil
	})
	if err != nil {
		return core.Connection{}, false, err
	}
	return cached.Connection, cached.Found, nil
}

func (s *CachedConnectionStore) GetActive(ctx context.Context, providerID string, userID string) (core.Connection, bool, error) {
	connection, found, err := s.Get(ctx, providerID, userID)
	if err != nil || !found {
		return core.Connection{}, false, err
	}
	if connection.Status != core.ConnectionStatusActive {
		return core.Connection{}, false, nil
	}
	return connection, true, nil
}

func (s *CachedConnectionStore) Upsert(ctx context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	connection, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.Connection{}, err
	}
	if err := s.invalidate(ctx, in.ProviderID, in.UserID); err != nil {
		return core.Connection{}, err
	}
	return connection, nil
}

func (s *CachedConnectionStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus, reason string) error {
	return s.writeByID(ctx, id, func(ctx context.Context) error {
		return s.base.UpdateStatus(ctx, id, status, reason)
	})
}

func (s *CachedConnectionStore) MarkExpired(ctx context.Context, id string, expiredAt time.Time, reason string) error {
	return s.writeByID(ctx, id, func(ctx context.Context) error {
		return s.base.MarkExpired(ctx, id, expiredAt, reason)
	})
}

func (s *CachedConnectionStore) SetLocationName(ctx context.Context, id string, name string) error {
	return s.writeByID(ctx, id, func(ctx context.Context) error {
		return s.base.SetLocationName(ctx, id, name)
	})
}

func (s *CachedConnectionStore) TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	return s.writeByID(ctx, id, func(ctx context.Context) error {
		return s.base.TouchLastUsed(ctx, id, usedAt)
	})
}

func (s *CachedConnectionStore) Delete(ctx context.Context, providerID string, userID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.Delete(ctx, providerID, userID); err != nil {
		return err
	}
	return s.invalidate(ctx, providerID, userID)
}

func (s *CachedConnectionStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.Connection, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.ListExpiring(ctx, before, limit)
}

// writeByID routes an id-keyed write through the base store and drops the
// (provider, user) cache entry, found via an uncached read of the base store.
func (s *CachedConnectionStore) writeByID(ctx context.Context, id string, write func(ctx context.Context) error) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := write(ctx); err != nil {
		return err
	}
	connection, found, err := s.findByID(ctx, id)
	if err != nil || !found {
		return err
	}
	return s.invalidate(ctx, connection.ProviderID, connection.UserID)
}

func (s *CachedConnectionStore) findByID(ctx context.Context, id string) (core.Connection, bool, error) {
	type idLookup interface {
		GetByConnectionID(ctx context.Context, id string) (core.Connection, bool, error)
	}
	if lookup, ok := s.base.(idLookup); ok {
		return lookup.GetByConnectionID(ctx, id)
	}
	return core.Connection{}, false, nil
}

func (s *CachedConnectionStore) invalidate(ctx context.Context, providerID string, userID string) error {
	cacheKey, err := ConnectionCacheKey(providerID, userID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.ConnectionStore = (*CachedConnectionStore)(nil)
