package core

import (
	"context"
	"fmt"
	"time"
)

const defaultSweepBatchSize = 100

type SweepOptions struct {
	// BatchSize caps how many connections one sweep pass loads.
	BatchSize int
	// Lead overrides the configured refresh lead window.
	Lead time.Duration
	// Refresh tunes the per-connection retry loop.
	Refresh RefreshRunOptions
}

type SweepResult struct {
	Scanned       int
	Refreshed     int
	Expired       int
	PendingReauth int
	Failed        int
}

// SweepExpiring refreshes every active connection whose token expires inside
// the lead window. One connection failing does not stop the pass; the result
// carries per-outcome counts.
func (s *Service) SweepExpiring(ctx context.Context, opts SweepOptions) (result SweepResult, err error) {
	startedAt := s.now()
	fields := map[string]any{}
	defer func() {
		fields["scanned"] = result.Scanned
		fields["refreshed"] = result.Refreshed
		fields["failed"] = result.Failed
		s.observeOperation(ctx, startedAt, "sweep_expiring", err, fields)
	}()

	if s == nil {
		return SweepResult{}, fmt.Errorf("core: service is nil")
	}
	if s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is not configured"))
		return SweepResult{}, err
	}

	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = defaultSweepBatchSize
	}
	lead := opts.Lead
	if lead <= 0 {
		lead = s.refreshLeadWindow()
	}

	cutoff := s.now().Add(lead)
	expiring, listErr := s.connectionStore.ListExpiring(ctx, cutoff, batchSize)
	if listErr != nil {
		err = s.mapError(listErr)
		return SweepResult{}, err
	}

	for _, connection := range expiring {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = s.mapError(ctxErr)
			return result, err
		}
		result.Scanned++

		runResult, runErr := s.RunRefreshWithRetry(ctx, RefreshRequest{
			ProviderID: connection.ProviderID,
			UserID:     connection.UserID,
		}, opts.Refresh)
		switch {
		case runErr == nil:
			result.Refreshed++
		case runResult.Expired:
			result.Expired++
			result.Failed++
		case runResult.PendingReauth:
			result.PendingReauth++
			result.Failed++
		default:
			result.Failed++
		}
		if runErr != nil {
			s.logWarn(ctx, "sweep refresh failed", map[string]any{
				"provider_id":   connection.ProviderID,
				"user_id":       connection.UserID,
				"connection_id": connection.ID,
				"attempts":      runResult.Attempts,
				"error":         runErr.Error(),
			})
		}
	}

	return result, nil
}
