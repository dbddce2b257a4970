package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-crm-connect/core"
)

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	return core.Connection{
		ID:             strings.TrimSpace(r.ID),
		ProviderID:     strings.TrimSpace(r.ProviderID),
		UserID:         strings.TrimSpace(r.UserID),
		AccessToken:    cloneBytes(r.AccessToken),
		RefreshToken:   cloneBytes(r.RefreshToken),
		TokenType:      strings.TrimSpace(r.TokenType),
		TokenExpiresAt: cloneTimePtr(r.TokenExpiresAt),
		LocationID:     strings.TrimSpace(r.LocationID),
		LocationName:   strings.TrimSpace(r.LocationName),
		CompanyID:      strings.TrimSpace(r.CompanyID),
		ExternalUserID: strings.TrimSpace(r.ExternalUserID),
		Status:         core.ConnectionStatus(strings.TrimSpace(r.Status)),
		LastError:      r.LastError,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		LastUsedAt:     cloneTimePtr(r.LastUsedAt),
		ExpiredAt:      cloneTimePtr(r.ExpiredAt),
	}
}

func newConnectionRecord(in core.UpsertConnectionInput, now time.Time) *connectionRecord {
	return &connectionRecord{
		ProviderID:     strings.TrimSpace(in.ProviderID),
		UserID:         strings.TrimSpace(in.UserID),
		AccessToken:    cloneBytes(in.AccessToken),
		RefreshToken:   cloneBytes(in.RefreshToken),
		TokenType:      strings.TrimSpace(in.TokenType),
		TokenExpiresAt: cloneTimePtr(in.TokenExpiresAt),
		LocationID:     strings.TrimSpace(in.LocationID),
		LocationName:   strings.TrimSpace(in.LocationName),
		CompanyID:      strings.TrimSpace(in.CompanyID),
		ExternalUserID: strings.TrimSpace(in.ExternalUserID),
		Status:         string(in.Status),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *oauthStateRecord) toDomain() core.AuthorizationState {
	if r == nil {
		return core.AuthorizationState{}
	}
	return core.AuthorizationState{
		Token:       strings.TrimSpace(r.Token),
		ProviderID:  strings.TrimSpace(r.ProviderID),
		UserID:      strings.TrimSpace(r.UserID),
		AdminID:     strings.TrimSpace(r.AdminID),
		RedirectURI: strings.TrimSpace(r.RedirectURI),
		Metadata:    copyAnyMap(r.Metadata),
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func cloneBytes(in []byte) []byte {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func cloneTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := *in
	return &value
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

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
