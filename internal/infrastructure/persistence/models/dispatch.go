package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/backend/internal/domain/integration"
)

// CredentialSetModel is the persistence model for stored channel credentials.
type CredentialSetModel struct {
	ID        uuid.UUID               `gorm:"type:uuid;primaryKey"`
	Name      string                  `gorm:"type:varchar(255);not null"`
	Code      integration.ChannelType `gorm:"type:varchar(32);not null;index"`
	Values    JSONMap                 `gorm:"type:jsonb;column:credentials"`
	Enabled   bool                    `gorm:"not null"`
	EntityID  *uuid.UUID              `gorm:"type:uuid;index:idx_credential_sets_entity"`
	ProjectID *uuid.UUID              `gorm:"type:uuid;index:idx_credential_sets_project"`
	CreatedAt time.Time               `gorm:"not null"`
	UpdatedAt time.Time               `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CredentialSetModel) TableName() string {
	return "credential_sets"
}

// ToDomain converts the persistence model to a domain CredentialSet
func (m *CredentialSetModel) ToDomain() *integration.CredentialSet {
	values := integration.Credentials(m.Values)
	if values == nil {
		values = integration.Credentials{}
	}
	return &integration.CredentialSet{
		ID:        m.ID,
		Name:      m.Name,
		Code:      m.Code,
		Values:    values,
		Enabled:   m.Enabled,
		EntityID:  m.EntityID,
		ProjectID: m.ProjectID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// CredentialSetModelFromDomain creates a persistence model from a domain CredentialSet
func CredentialSetModelFromDomain(s *integration.CredentialSet) *CredentialSetModel {
	return &CredentialSetModel{
		ID:        s.ID,
		Name:      s.Name,
		Code:      s.Code,
		Values:    JSONMap(s.Values),
		Enabled:   s.Enabled,
		EntityID:  s.EntityID,
		ProjectID: s.ProjectID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// DispatchUnitModel is the persistence model for one retryable delivery.
type DispatchUnitModel struct {
	ID           uuid.UUID               `gorm:"type:uuid;primaryKey"`
	BatchID      uuid.UUID               `gorm:"type:uuid;not null;index"`
	LeadID       uuid.UUID               `gorm:"type:uuid;not null;index"`
	ChannelType  integration.ChannelType `gorm:"type:varchar(32);not null"`
	Mode         integration.UnitMode    `gorm:"type:varchar(16);not null;default:'send'"`
	Credentials  JSONMap                 `gorm:"type:jsonb"`
	Status       integration.UnitStatus  `gorm:"type:varchar(20);not null;index:idx_dispatch_units_status_next_run,priority:1"`
	Attempt      int                     `gorm:"not null;default:0"`
	MaxAttempts  int                     `gorm:"not null"`
	Backoff      Durations               `gorm:"type:jsonb"`
	TimeoutMs    int64                   `gorm:"not null"`
	NextRunAt    *time.Time              `gorm:"index:idx_dispatch_units_status_next_run,priority:2"`
	LastError    string                  `gorm:"type:text"`
	LastHTTPCode *int                    `gorm:"column:last_http_code"`
	ExternalID   *string                 `gorm:"type:varchar(255)"`
	ResultData   JSONMap                 `gorm:"type:jsonb"`
	CompletedAt  *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DispatchUnitModel) TableName() string {
	return "dispatch_units"
}

// ToDomain converts the persistence model to a domain DispatchUnit
func (m *DispatchUnitModel) ToDomain() *integration.DispatchUnit {
	creds := integration.Credentials(m.Credentials)
	if creds == nil {
		creds = integration.Credentials{}
	}
	return &integration.DispatchUnit{
		ID:           m.ID,
		BatchID:      m.BatchID,
		LeadID:       m.LeadID,
		ChannelType:  m.ChannelType,
		Mode:         m.Mode,
		Credentials:  creds,
		Status:       m.Status,
		Attempt:      m.Attempt,
		MaxAttempts:  m.MaxAttempts,
		Backoff:      []time.Duration(m.Backoff),
		Timeout:      time.Duration(m.TimeoutMs) * time.Millisecond,
		NextRunAt:    m.NextRunAt,
		LastError:    m.LastError,
		LastHTTPCode: m.LastHTTPCode,
		ExternalID:   m.ExternalID,
		ResultData:   map[string]any(m.ResultData),
		CompletedAt:  m.CompletedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// DispatchUnitModelFromDomain creates a persistence model from a domain DispatchUnit
func DispatchUnitModelFromDomain(u *integration.DispatchUnit) *DispatchUnitModel {
	return &DispatchUnitModel{
		ID:           u.ID,
		BatchID:      u.BatchID,
		LeadID:       u.LeadID,
		ChannelType:  u.ChannelType,
		Mode:         u.Mode,
		Credentials:  JSONMap(u.Credentials),
		Status:       u.Status,
		Attempt:      u.Attempt,
		MaxAttempts:  u.MaxAttempts,
		Backoff:      Durations(u.Backoff),
		TimeoutMs:    u.Timeout.Milliseconds(),
		NextRunAt:    u.NextRunAt,
		LastError:    u.LastError,
		LastHTTPCode: u.LastHTTPCode,
		ExternalID:   u.ExternalID,
		ResultData:   JSONMap(u.ResultData),
		CompletedAt:  u.CompletedAt,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// BatchModel is the persistence model for a dispatch batch.
type BatchModel struct {
	ID            uuid.UUID                `gorm:"type:uuid;primaryKey"`
	LeadID        uuid.UUID                `gorm:"type:uuid;not null;index"`
	Trigger       integration.BatchTrigger `gorm:"type:varchar(20);not null"`
	Total         int                      `gorm:"not null"`
	Processed     int                      `gorm:"not null;default:0"`
	Succeeded     int                      `gorm:"not null;default:0"`
	Failed        int                      `gorm:"not null;default:0"`
	AllowFailures bool                     `gorm:"not null"`
	Status        integration.BatchStatus  `gorm:"type:varchar(20);not null"`
	Outcomes      JSONMap                  `gorm:"type:jsonb"`
	FinalizedAt   *time.Time
	Version       int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BatchModel) TableName() string {
	return "dispatch_batches"
}

// ToDomain converts the persistence model to a domain Batch
func (m *BatchModel) ToDomain() *integration.Batch {
	outcomes := make(map[string]bool, len(m.Outcomes))
	for k, v := range m.Outcomes {
		if ok, isBool := v.(bool); isBool {
			outcomes[k] = ok
		}
	}
	return &integration.Batch{
		ID:            m.ID,
		LeadID:        m.LeadID,
		Trigger:       m.Trigger,
		Total:         m.Total,
		Processed:     m.Processed,
		Succeeded:     m.Succeeded,
		Failed:        m.Failed,
		AllowFailures: m.AllowFailures,
		Status:        m.Status,
		Outcomes:      outcomes,
		FinalizedAt:   m.FinalizedAt,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// BatchModelFromDomain creates a persistence model from a domain Batch
func BatchModelFromDomain(b *integration.Batch) *BatchModel {
	outcomes := make(JSONMap, len(b.Outcomes))
	for k, v := range b.Outcomes {
		outcomes[k] = v
	}
	return &BatchModel{
		ID:            b.ID,
		LeadID:        b.LeadID,
		Trigger:       b.Trigger,
		Total:         b.Total,
		Processed:     b.Processed,
		Succeeded:     b.Succeeded,
		Failed:        b.Failed,
		AllowFailures: b.AllowFailures,
		Status:        b.Status,
		Outcomes:      outcomes,
		FinalizedAt:   b.FinalizedAt,
		Version:       b.Version,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}
