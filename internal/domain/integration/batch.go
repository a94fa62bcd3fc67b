package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/leadflow/backend/internal/domain/lead"
)

// BatchStatus represents the status of a dispatch batch
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusPartial   BatchStatus = "PARTIAL"
	BatchStatusFailed    BatchStatus = "FAILED"
)

// BatchTrigger records what started a batch
type BatchTrigger string

const (
	BatchTriggerAutoDetect BatchTrigger = "auto_detect"
	BatchTriggerResend     BatchTrigger = "resend"
	BatchTriggerAPI        BatchTrigger = "api"
)

// AggregateStatus maps success and failure counts onto a lead status:
// completed when nothing failed, failed when nothing succeeded, partial otherwise.
func AggregateStatus(succeeded, failed int) lead.IntegrationStatus {
	switch {
	case failed == 0:
		return lead.IntegrationStatusCompleted
	case succeeded == 0:
		return lead.IntegrationStatusFailed
	default:
		return lead.IntegrationStatusPartial
	}
}

// Batch groups the dispatch units fanned out for one lead.
type Batch struct {
	ID            uuid.UUID
	LeadID        uuid.UUID
	Trigger       BatchTrigger
	Total         int
	Processed     int
	Succeeded     int
	Failed        int
	AllowFailures bool
	Status        BatchStatus
	// Outcomes holds the terminal outcome per unit ID; it makes Record
	// idempotent under redelivery.
	Outcomes    map[string]bool
	FinalizedAt *time.Time
	// Version is bumped by every stored update
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBatch creates a running batch expecting total unit outcomes
func NewBatch(leadID uuid.UUID, trigger BatchTrigger, total int, allowFailures bool) *Batch {
	now := time.Now()
	return &Batch{
		ID:            uuid.New(),
		LeadID:        leadID,
		Trigger:       trigger,
		Total:         total,
		AllowFailures: allowFailures,
		Status:        BatchStatusRunning,
		Outcomes:      map[string]bool{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Record stores the terminal outcome of a unit. It returns false when the
// unit was already recorded or the batch is finalized.
func (b *Batch) Record(unitID uuid.UUID, succeeded bool) bool {
	if b.FinalizedAt != nil {
		return false
	}
	if b.Outcomes == nil {
		b.Outcomes = map[string]bool{}
	}
	key := unitID.String()
	if _, seen := b.Outcomes[key]; seen {
		return false
	}
	b.Outcomes[key] = succeeded
	b.Processed++
	if succeeded {
		b.Succeeded++
	} else {
		b.Failed++
	}
	b.UpdatedAt = time.Now()
	return true
}

// IsFinished returns true when every unit reported, or on the first failure
// of a batch that does not allow failures
func (b *Batch) IsFinished() bool {
	if b.Processed >= b.Total {
		return true
	}
	return !b.AllowFailures && b.Failed > 0
}

// IsFinalized returns true once the completion step ran
func (b *Batch) IsFinalized() bool {
	return b.FinalizedAt != nil
}

// LeadStatus returns the aggregate lead status for the recorded outcomes
func (b *Batch) LeadStatus() lead.IntegrationStatus {
	return AggregateStatus(b.Succeeded, b.Failed)
}

// Finalize closes the batch and returns the aggregate lead status
func (b *Batch) Finalize(now time.Time) (lead.IntegrationStatus, error) {
	if b.FinalizedAt != nil {
		return "", ErrBatchFinalized
	}
	status := b.LeadStatus()
	switch status {
	case lead.IntegrationStatusCompleted:
		b.Status = BatchStatusCompleted
	case lead.IntegrationStatusFailed:
		b.Status = BatchStatusFailed
	default:
		b.Status = BatchStatusPartial
	}
	b.FinalizedAt = &now
	b.UpdatedAt = now
	return status, nil
}

// BatchRepository persists batches
type BatchRepository interface {
	// CreateWithUnits stores the batch and its units atomically
	CreateWithUnits(ctx context.Context, batch *Batch, units []*DispatchUnit) error
	FindByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	// Update writes the batch only while the stored version equals
	// batch.Version and increments it. A concurrent writer yields ErrBatchStale.
	Update(ctx context.Context, batch *Batch) error
}
