package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crm-connect/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TelemetryStore appends lifecycle events and integration errors. Metadata is
// redacted before it hits the database; raw token material must never land in
// telemetry tables.
type TelemetryStore struct {
	db        *bun.DB
	eventRepo repository.Repository[*telemetryEventRecord]
	errorRepo repository.Repository[*integrationErrorRecord]
}

func NewTelemetryStore(db *bun.DB) (*TelemetryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	eventRepo := repository.NewRepository[*telemetryEventRecord](db, telemetryEventHandlers())
	if validator, ok := eventRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid telemetry event repository wiring: %w", err)
		}
	}
	errorRepo := repository.NewRepository[*integrationErrorRecord](db, integrationErrorHandlers())
	if validator, ok := errorRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid integration error repository wiring: %w", err)
		}
	}
	return &TelemetryStore{
		db:        db,
		eventRepo: eventRepo,
		errorRepo: errorRepo,
	}, nil
}

func (s *TelemetryStore) RecordEvent(ctx context.Context, event core.TelemetryEvent) error {
	if s == nil || s.eventRepo == nil {
		return fmt.Errorf("sqlstore: telemetry store is not configured")
	}
	if err := event.Validate(); err != nil {
		return err
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := &telemetryEventRecord{
		ID:             uuid.NewString(),
		ProviderID:     strings.TrimSpace(event.ProviderID),
		UserID:         strings.TrimSpace(event.UserID),
		EventType:      strings.TrimSpace(event.EventType),
		LocationID:     strings.TrimSpace(event.LocationID),
		LocationName:   strings.TrimSpace(event.LocationName),
		TokenExpiresAt: cloneTimePtr(event.TokenExpiresAt),
		Error:          event.Error,
		Metadata:       RedactMetadata(event.Metadata),
		CreatedAt:      createdAt.UTC(),
	}
	_, err := s.eventRepo.Create(ctx, record)
	return err
}

func (s *TelemetryStore) RecordError(ctx context.Context, entry core.IntegrationError) error {
	if s == nil || s.errorRepo == nil {
		return fmt.Errorf("sqlstore: telemetry store is not configured")
	}
	if strings.TrimSpace(entry.ProviderID) == "" {
		return fmt.Errorf("sqlstore: integration error provider id is required")
	}
	if strings.TrimSpace(entry.ErrorType) == "" {
		return fmt.Errorf("sqlstore: integration error type is required")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := &integrationErrorRecord{
		ID:         uuid.NewString(),
		ProviderID: strings.TrimSpace(entry.ProviderID),
		UserID:     strings.TrimSpace(entry.UserID),
		ErrorType:  strings.TrimSpace(entry.ErrorType),
		Source:     strings.TrimSpace(entry.Source),
		Message:    entry.Message,
		Resolved:   entry.Resolved,
		ResolvedAt: cloneTimePtr(entry.ResolvedAt),
		Metadata:   RedactMetadata(entry.Metadata),
		CreatedAt:  createdAt.UTC(),
	}
	_, err := s.errorRepo.Create(ctx, record)
	return err
}

// ResolveError marks an integration error as handled by an operator.
func (s *TelemetryStore) ResolveError(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: telemetry store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: integration error id is required")
	}
	now := time.Now().UTC()
	_, err := s.db.NewUpdate().
		Model((*integrationErrorRecord)(nil)).
		Set("resolved = ?", true).
		Set("resolved_at = ?", now).
		Where("id = ?", trimmedID).
		Exec(ctx)
	return err
}

// ListRecentEvents returns the newest lifecycle events for one user, most
// recent first. Used by the dashboard activity feed.
func (s *TelemetryStore) ListRecentEvents(ctx context.Context, providerID string, userID string, limit int) ([]core.TelemetryEvent, error) {
	if s == nil || s.eventRepo == nil {
		return nil, fmt.Errorf("sqlstore: telemetry store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	userID = strings.TrimSpace(userID)
	if providerID == "" || userID == "" {
		return nil, fmt.Errorf("sqlstore: provider id and user id are required")
	}
	if limit < 1 {
		limit = 50
	}
	records, _, err := s.eventRepo.List(ctx,
		repository.SelectBy("provider_id", "=", providerID),
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.TelemetryEvent, 0, len(records))
	for _, record := range records {
		out = append(out, core.TelemetryEvent{
			ID:             strings.TrimSpace(record.ID),
			ProviderID:     strings.TrimSpace(record.ProviderID),
			UserID:         strings.TrimSpace(record.UserID),
			EventType:      strings.TrimSpace(record.EventType),
			LocationID:     strings.TrimSpace(record.LocationID),
			LocationName:   strings.TrimSpace(record.LocationName),
			TokenExpiresAt: cloneTimePtr(record.TokenExpiresAt),
			Error:          record.Error,
			Metadata:       copyAnyMap(record.Metadata),
			CreatedAt:      record.CreatedAt,
		})
	}
	return out, nil
}

var _ core.TelemetrySink = (*TelemetryStore)(nil)
