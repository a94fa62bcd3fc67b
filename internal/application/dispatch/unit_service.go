package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/shared"
)

// UnitService handles operator queries and actions on dispatch units
type UnitService struct {
	units        integration.DispatchUnitRepository
	batches      integration.BatchRepository
	orchestrator *Orchestrator
	logger       *zap.Logger
}

// NewUnitService creates a new unit service
func NewUnitService(
	units integration.DispatchUnitRepository,
	batches integration.BatchRepository,
	orchestrator *Orchestrator,
	logger *zap.Logger,
) *UnitService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnitService{
		units:        units,
		batches:      batches,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// UnitDTO represents a dispatch unit data transfer object. Credentials are
// never exposed.
type UnitDTO struct {
	ID           uuid.UUID      `json:"id"`
	BatchID      uuid.UUID      `json:"batch_id"`
	LeadID       uuid.UUID      `json:"lead_id"`
	ChannelType  string         `json:"channel_type"`
	Mode         string         `json:"mode"`
	Status       string         `json:"status"`
	Attempt      int            `json:"attempt"`
	MaxAttempts  int            `json:"max_attempts"`
	LastError    string         `json:"last_error,omitempty"`
	LastHTTPCode *int           `json:"last_http_code,omitempty"`
	ExternalID   *string        `json:"external_id,omitempty"`
	ResultData   map[string]any `json:"result_data,omitempty"`
	NextRunAt    *time.Time     `json:"next_run_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// BatchDTO represents a batch with its units
type BatchDTO struct {
	ID            uuid.UUID  `json:"id"`
	LeadID        uuid.UUID  `json:"lead_id"`
	Trigger       string     `json:"trigger"`
	Status        string     `json:"status"`
	Total         int        `json:"total"`
	Processed     int        `json:"processed"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	AllowFailures bool       `json:"allow_failures"`
	FinalizedAt   *time.Time `json:"finalized_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Units         []UnitDTO  `json:"units"`
}

// UnitFilter represents filter for querying dead units
type UnitFilter struct {
	Page     int `form:"page,omitempty" binding:"omitempty,min=1"`
	PageSize int `form:"page_size,omitempty" binding:"omitempty,min=1,max=100"`
}

// UnitListResult represents paginated unit list result
type UnitListResult struct {
	Units      []UnitDTO `json:"units"`
	Total      int64     `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}

// UnitStatsDTO represents dispatch unit statistics
type UnitStatsDTO struct {
	Pending           int64 `json:"pending"`
	Running           int64 `json:"running"`
	Succeeded         int64 `json:"succeeded"`
	Failed            int64 `json:"failed"`
	PermanentlyFailed int64 `json:"permanently_failed"`
	Total             int64 `json:"total"`
}

// ListDead retrieves permanently failed units with pagination
func (s *UnitService) ListDead(ctx context.Context, filter UnitFilter) (*UnitListResult, error) {
	page := shared.PageRequest{Page: filter.Page, PageSize: filter.PageSize}.Normalize()

	units, total, err := s.units.FindPermanentlyFailed(ctx, page.Page, page.PageSize)
	if err != nil {
		s.logger.Error("Failed to find dead units", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retrieve dead units")
	}

	return &UnitListResult{
		Units:      toUnitDTOs(units),
		Total:      total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.Pages(total),
	}, nil
}

// Retry resets a permanently failed unit and publishes it again. Its batch
// is already finalized, so the new outcome only updates the lead's
// integration data.
func (s *UnitService) Retry(ctx context.Context, id uuid.UUID) (*UnitDTO, error) {
	unit, err := s.units.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, integration.ErrUnitNotFound) {
			return nil, shared.NewDomainError("UNIT_NOT_FOUND", "Dispatch unit not found")
		}
		s.logger.Error("Failed to find dispatch unit", zap.Error(err), zap.String("id", id.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retrieve dispatch unit")
	}

	if err := unit.ResetForRetry(); err != nil {
		return nil, shared.NewDomainError("INVALID_STATUS", err.Error())
	}

	if err := s.units.UpdateIfStatus(ctx, unit, integration.UnitStatusPermanentlyFailed); err != nil {
		if errors.Is(err, integration.ErrUnitStale) {
			return nil, shared.NewDomainError("CONCURRENCY_CONFLICT", "Dispatch unit was modified by another process")
		}
		s.logger.Error("Failed to update dispatch unit", zap.Error(err), zap.String("id", id.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retry dispatch unit")
	}

	if err := s.orchestrator.Publish(ctx, unit); err != nil {
		// A pending unit only moves through the queue; hand it to the
		// retry scheduler instead.
		s.logger.Warn("Failed to publish retried unit", zap.Error(err), zap.String("id", id.String()))
		now := time.Now()
		unit.Status = integration.UnitStatusFailed
		unit.NextRunAt = &now
		if err := s.units.UpdateIfStatus(ctx, unit, integration.UnitStatusPending); err != nil {
			s.logger.Error("Failed to mark retried unit as due", zap.Error(err), zap.String("id", id.String()))
		}
	}

	s.logger.Info("Dead dispatch unit reset for retry",
		zap.String("id", id.String()),
		zap.String("channel", unit.ChannelType.String()),
	)

	dto := toUnitDTO(unit)
	return &dto, nil
}

// GetStats returns dispatch unit statistics
func (s *UnitService) GetStats(ctx context.Context) (*UnitStatsDTO, error) {
	counts, err := s.units.CountByStatus(ctx)
	if err != nil {
		s.logger.Error("Failed to get dispatch unit stats", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to get dispatch unit stats")
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	return &UnitStatsDTO{
		Pending:           counts[integration.UnitStatusPending],
		Running:           counts[integration.UnitStatusRunning],
		Succeeded:         counts[integration.UnitStatusSucceeded],
		Failed:            counts[integration.UnitStatusFailed],
		PermanentlyFailed: counts[integration.UnitStatusPermanentlyFailed],
		Total:             total,
	}, nil
}

// GetBatch retrieves a batch with its units
func (s *UnitService) GetBatch(ctx context.Context, id uuid.UUID) (*BatchDTO, error) {
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, integration.ErrBatchNotFound) {
			return nil, shared.NewDomainError("BATCH_NOT_FOUND", "Batch not found")
		}
		s.logger.Error("Failed to find batch", zap.Error(err), zap.String("id", id.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retrieve batch")
	}

	units, err := s.units.FindByBatch(ctx, id)
	if err != nil {
		s.logger.Error("Failed to find batch units", zap.Error(err), zap.String("id", id.String()))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to retrieve batch units")
	}

	return &BatchDTO{
		ID:            batch.ID,
		LeadID:        batch.LeadID,
		Trigger:       string(batch.Trigger),
		Status:        string(batch.Status),
		Total:         batch.Total,
		Processed:     batch.Processed,
		Succeeded:     batch.Succeeded,
		Failed:        batch.Failed,
		AllowFailures: batch.AllowFailures,
		FinalizedAt:   batch.FinalizedAt,
		CreatedAt:     batch.CreatedAt,
		Units:         toUnitDTOs(units),
	}, nil
}

func toUnitDTOs(units []*integration.DispatchUnit) []UnitDTO {
	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	return dtos
}

// toUnitDTO converts a domain DispatchUnit to UnitDTO
func toUnitDTO(u *integration.DispatchUnit) UnitDTO {
	return UnitDTO{
		ID:           u.ID,
		BatchID:      u.BatchID,
		LeadID:       u.LeadID,
		ChannelType:  u.ChannelType.String(),
		Mode:         string(u.Mode),
		Status:       string(u.Status),
		Attempt:      u.Attempt,
		MaxAttempts:  u.MaxAttempts,
		LastError:    u.LastError,
		LastHTTPCode: u.LastHTTPCode,
		ExternalID:   u.ExternalID,
		ResultData:   u.ResultData,
		NextRunAt:    u.NextRunAt,
		CompletedAt:  u.CompletedAt,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}
