package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/persistence/models"
)

// GormLeadRepository implements lead.Repository using GORM
type GormLeadRepository struct {
	db *gorm.DB
}

// NewGormLeadRepository creates a new GormLeadRepository
func NewGormLeadRepository(db *gorm.DB) *GormLeadRepository {
	return &GormLeadRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormLeadRepository) WithTx(tx *gorm.DB) *GormLeadRepository {
	return &GormLeadRepository{db: tx}
}

// FindByID finds a lead by ID
func (r *GormLeadRepository) FindByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	var model models.LeadModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lead.ErrLeadNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or replaces a lead
func (r *GormLeadRepository) Save(ctx context.Context, l *lead.Lead) error {
	return r.db.WithContext(ctx).Save(models.LeadModelFromDomain(l)).Error
}

// UpdateIntegration applies a partial integration update. Integration data
// is merged into the stored map; concurrent writers race per key and the
// last one wins.
func (r *GormLeadRepository) UpdateIntegration(ctx context.Context, id uuid.UUID, u lead.IntegrationUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model models.LeadModel
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lead.ErrLeadNotFound
			}
			return err
		}

		l := model.ToDomain()
		l.Apply(u)

		updates := map[string]any{"updated_at": l.UpdatedAt}
		if u.Status != nil {
			updates["integration_status"] = l.IntegrationStatus
		}
		if u.ExternalID != nil {
			updates["external_id"] = l.ExternalID
		}
		if len(u.IntegrationData) > 0 {
			updates["integration_data"] = models.JSONMap(l.IntegrationData)
		}

		if err := tx.Model(&models.LeadModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("update lead integration: %w", err)
		}
		return nil
	})
}

var _ lead.Repository = (*GormLeadRepository)(nil)

// GormOwnerDirectory resolves lead owners from the owners table
type GormOwnerDirectory struct {
	db *gorm.DB
}

// NewGormOwnerDirectory creates a new GormOwnerDirectory
func NewGormOwnerDirectory(db *gorm.DB) *GormOwnerDirectory {
	return &GormOwnerDirectory{db: db}
}

// OwnerOf returns the owner of l, or nil when the lead has none
func (d *GormOwnerDirectory) OwnerOf(ctx context.Context, l *lead.Lead) (*lead.Owner, error) {
	if l.OwnerID == nil {
		return nil, nil
	}
	var model models.OwnerModel
	if err := d.db.WithContext(ctx).Where("id = ?", *l.OwnerID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

var _ lead.OwnerDirectory = (*GormOwnerDirectory)(nil)
