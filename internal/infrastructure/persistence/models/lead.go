package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/backend/internal/domain/lead"
)

// LeadModel is the persistence model for the Lead aggregate.
type LeadModel struct {
	ID                uuid.UUID              `gorm:"type:uuid;primaryKey"`
	Name              string                 `gorm:"type:varchar(255)"`
	Email             string                 `gorm:"type:varchar(255)"`
	Phone             string                 `gorm:"type:varchar(64)"`
	Messengers        StringMap              `gorm:"type:jsonb"`
	Data              JSONMap                `gorm:"type:jsonb"`
	Locale            string                 `gorm:"type:varchar(16)"`
	IntegrationStatus lead.IntegrationStatus `gorm:"type:varchar(20);not null;default:'none'"`
	IntegrationData   JSONMap                `gorm:"type:jsonb"`
	ExternalID        *string                `gorm:"type:varchar(255)"`
	ExternalEntityID  *uuid.UUID             `gorm:"type:uuid;index"`
	ExternalProjectID *uuid.UUID             `gorm:"type:uuid;index"`
	OwnerID           *uuid.UUID             `gorm:"type:uuid;index"`
	CreatedAt         time.Time              `gorm:"not null"`
	UpdatedAt         time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LeadModel) TableName() string {
	return "leads"
}

// ToDomain converts the persistence model to a domain Lead
func (m *LeadModel) ToDomain() *lead.Lead {
	l := &lead.Lead{
		ID:                m.ID,
		Name:              m.Name,
		Email:             m.Email,
		Phone:             m.Phone,
		Messengers:        map[string]string(m.Messengers),
		Data:              map[string]any(m.Data),
		Locale:            m.Locale,
		IntegrationStatus: m.IntegrationStatus,
		IntegrationData:   map[string]any(m.IntegrationData),
		ExternalID:        m.ExternalID,
		ExternalEntityID:  m.ExternalEntityID,
		ExternalProjectID: m.ExternalProjectID,
		OwnerID:           m.OwnerID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if l.Messengers == nil {
		l.Messengers = map[string]string{}
	}
	if l.Data == nil {
		l.Data = map[string]any{}
	}
	if l.IntegrationData == nil {
		l.IntegrationData = map[string]any{}
	}
	return l
}

// LeadModelFromDomain creates a persistence model from a domain Lead
func LeadModelFromDomain(l *lead.Lead) *LeadModel {
	status := l.IntegrationStatus
	if status == "" {
		status = lead.IntegrationStatusNone
	}
	return &LeadModel{
		ID:                l.ID,
		Name:              l.Name,
		Email:             l.Email,
		Phone:             l.Phone,
		Messengers:        StringMap(l.Messengers),
		Data:              JSONMap(l.Data),
		Locale:            l.Locale,
		IntegrationStatus: status,
		IntegrationData:   JSONMap(l.IntegrationData),
		ExternalID:        l.ExternalID,
		ExternalEntityID:  l.ExternalEntityID,
		ExternalProjectID: l.ExternalProjectID,
		OwnerID:           l.OwnerID,
		CreatedAt:         l.CreatedAt,
		UpdatedAt:         l.UpdatedAt,
	}
}

// OwnerModel is an account that owns leads
type OwnerModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"type:varchar(255);not null"`
	Locale    string    `gorm:"type:varchar(16)"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OwnerModel) TableName() string {
	return "owners"
}

// ToDomain converts the persistence model to a domain Owner
func (m *OwnerModel) ToDomain() *lead.Owner {
	return &lead.Owner{ID: m.ID, Email: m.Email, Locale: m.Locale}
}
