package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crm-connect/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConnectionStore keeps one live row per (provider_id, user_id). Disconnect
// soft-deletes the row so a later reconnect starts a fresh record.
type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *ConnectionStore) Upsert(ctx context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	in.ProviderID = strings.TrimSpace(in.ProviderID)
	in.UserID = strings.TrimSpace(in.UserID)
	if in.ProviderID == "" || in.UserID == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: provider id and user id are required")
	}
	if strings.TrimSpace(string(in.Status)) == "" {
		in.Status = core.ConnectionStatusActive
	}
	now := time.Now().UTC()

	var out core.Connection
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findConnectionTx(ctx, tx, in.ProviderID, in.UserID)
		if err != nil {
			return err
		}
		if record == nil {
			record = newConnectionRecord(in, now)
			record.ID = uuid.NewString()
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if !isUniqueViolation(insertErr) {
					return insertErr
				}
				record, err = findConnectionTx(ctx, tx, in.ProviderID, in.UserID)
				if err != nil {
					return err
				}
				if record == nil {
					return insertErr
				}
			} else {
				out = record.toDomain()
				return nil
			}
		}

		record.AccessToken = cloneBytes(in.AccessToken)
		record.RefreshToken = cloneBytes(in.RefreshToken)
		record.TokenType = strings.TrimSpace(in.TokenType)
		record.TokenExpiresAt = cloneTimePtr(in.TokenExpiresAt)
		if locationID := strings.TrimSpace(in.LocationID); locationID != record.LocationID {
			// A different location invalidates the stored display name; the
			// backfill resolves the new one.
			record.LocationID = locationID
			record.LocationName = ""
		}
		if name := strings.TrimSpace(in.LocationName); name != "" {
			record.LocationName = name
		}
		record.CompanyID = strings.TrimSpace(in.CompanyID)
		record.ExternalUserID = strings.TrimSpace(in.ExternalUserID)
		record.Status = string(in.Status)
		record.LastError = ""
		record.ExpiredAt = nil
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Connection{}, err
	}
	return out, nil
}

func (s *ConnectionStore) Get(ctx context.Context, providerID string, userID string) (core.Connection, bool, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: connection store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	userID = strings.TrimSpace(userID)
	if providerID == "" || userID == "" {
		return core.Connection{}, false, fmt.Errorf("sqlstore: provider id and user id are required")
	}

	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Connection{}, false, nil
		}
		return core.Connection{}, false, err
	}
	return record.toDomain(), true, nil
}

// GetByConnectionID looks a row up by primary key. Used by the caching layer
// to map id-keyed writes back to their (provider, user) cache entry.
func (s *ConnectionStore) GetByConnectionID(ctx context.Context, id string) (core.Connection, bool, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.Connection{}, false, fmt.Errorf("sqlstore: connection id is required")
	}
	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", trimmedID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Connection{}, false, nil
		}
		return core.Connection{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *ConnectionStore) GetActive(ctx context.Context, providerID string, userID string) (core.Connection, bool, error) {
	connection, found, err := s.Get(ctx, providerID, userID)
	if err != nil || !found {
		return core.Connection{}, false, err
	}
	if connection.Status != core.ConnectionStatusActive {
		return core.Connection{}, false, nil
	}
	return connection, true, nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	current.Status = string(status)
	current.LastError = strings.TrimSpace(reason)
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) MarkExpired(ctx context.Context, id string, expiredAt time.Time, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	if expiredAt.IsZero() {
		expiredAt = time.Now().UTC()
	}
	stamp := expiredAt.UTC()
	current.Status = string(core.ConnectionStatusExpired)
	current.LastError = strings.TrimSpace(reason)
	current.ExpiredAt = &stamp
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) SetLocationName(ctx context.Context, id string, name string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	current.LocationName = strings.TrimSpace(name)
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	if usedAt.IsZero() {
		usedAt = time.Now().UTC()
	}
	_, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("last_used_at = ?", usedAt.UTC()).
		Where("id = ?", trimmedID).
		Exec(ctx)
	return err
}

func (s *ConnectionStore) Delete(ctx context.Context, providerID string, userID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	userID = strings.TrimSpace(userID)
	if providerID == "" || userID == "" {
		return fmt.Errorf("sqlstore: provider id and user id are required")
	}
	_, err := s.db.NewDelete().
		Model((*connectionRecord)(nil)).
		Where("provider_id = ?", providerID).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (s *ConnectionStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit < 1 {
		limit = 100
	}
	cutoff := before.UTC()

	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.token_expires_at IS NOT NULL").
				Where("?TableAlias.token_expires_at <= ?", cutoff)
		}),
		repository.OrderBy("token_expires_at ASC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func findConnectionTx(ctx context.Context, tx bun.Tx, providerID string, userID string) (*connectionRecord, error) {
	record := &connectionRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

var _ core.ConnectionStore = (*ConnectionStore)(nil)
