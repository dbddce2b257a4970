package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crm-connect/core"
	"github.com/uptrace/bun"
)

// StateStore persists single-use authorization state tokens. Consume deletes
// the row inside a transaction so a token can never be redeemed twice, even
// across processes.
type StateStore struct {
	db    *bun.DB
	nowFn func() time.Time
}

func NewStateStore(db *bun.DB) (*StateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &StateStore{
		db:    db,
		nowFn: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *StateStore) Save(ctx context.Context, state core.AuthorizationState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: state store is not configured")
	}
	token := strings.TrimSpace(state.Token)
	if token == "" {
		return fmt.Errorf("sqlstore: state token is required")
	}
	if strings.TrimSpace(state.ProviderID) == "" {
		return fmt.Errorf("sqlstore: state provider id is required")
	}
	now := s.nowFn()
	createdAt := state.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	expiresAt := state.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = createdAt.Add(core.DefaultStateTTL)
	}

	record := &oauthStateRecord{
		Token:       token,
		ProviderID:  strings.TrimSpace(state.ProviderID),
		UserID:      strings.TrimSpace(state.UserID),
		AdminID:     strings.TrimSpace(state.AdminID),
		RedirectURI: strings.TrimSpace(state.RedirectURI),
		Metadata:    copyAnyMap(state.Metadata),
		CreatedAt:   createdAt.UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (s *StateStore) Consume(ctx context.Context, token string) (core.AuthorizationState, error) {
	if s == nil || s.db == nil {
		return core.AuthorizationState{}, fmt.Errorf("sqlstore: state store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return core.AuthorizationState{}, core.ErrStateNotFound
	}

	var out core.AuthorizationState
	var expired bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &oauthStateRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.token = ?", token).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if err == sql.ErrNoRows {
				return core.ErrStateNotFound
			}
			return err
		}
		if _, deleteErr := tx.NewDelete().
			Model((*oauthStateRecord)(nil)).
			Where("token = ?", token).
			Exec(ctx); deleteErr != nil {
			return deleteErr
		}
		// Returning an error here would roll the delete back and leave the
		// expired row redeemable, so the expiry verdict commits with the tx.
		expired = !record.ExpiresAt.After(s.nowFn())
		if !expired {
			out = record.toDomain()
		}
		return nil
	})
	if err != nil {
		return core.AuthorizationState{}, err
	}
	if expired {
		return core.AuthorizationState{}, core.ErrStateExpired
	}
	return out, nil
}

// PruneExpired clears stale tokens that were never redeemed. Intended for a
// periodic job; Consume already rejects expired tokens on its own.
func (s *StateStore) PruneExpired(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: state store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*oauthStateRecord)(nil)).
		Where("expires_at <= ?", s.nowFn()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

var _ core.StateStore = (*StateStore)(nil)
