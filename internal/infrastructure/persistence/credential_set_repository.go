package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/infrastructure/persistence/models"
)

// GormCredentialSetRepository implements integration.CredentialSetRepository using GORM
type GormCredentialSetRepository struct {
	db *gorm.DB
}

// NewGormCredentialSetRepository creates a new GormCredentialSetRepository
func NewGormCredentialSetRepository(db *gorm.DB) *GormCredentialSetRepository {
	return &GormCredentialSetRepository{db: db}
}

// ListEnabledByEntity returns enabled sets of an entity ordered by creation
func (r *GormCredentialSetRepository) ListEnabledByEntity(ctx context.Context, entityID uuid.UUID) ([]*integration.CredentialSet, error) {
	return r.listEnabled(ctx, "entity_id = ?", entityID)
}

// ListEnabledByProject returns enabled sets of a project ordered by creation
func (r *GormCredentialSetRepository) ListEnabledByProject(ctx context.Context, projectID uuid.UUID) ([]*integration.CredentialSet, error) {
	return r.listEnabled(ctx, "project_id = ?", projectID)
}

func (r *GormCredentialSetRepository) listEnabled(ctx context.Context, cond string, id uuid.UUID) ([]*integration.CredentialSet, error) {
	var rows []models.CredentialSetModel
	err := r.db.WithContext(ctx).
		Where(cond, id).
		Where("enabled = ?", true).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	sets := make([]*integration.CredentialSet, len(rows))
	for i := range rows {
		sets[i] = rows[i].ToDomain()
	}
	return sets, nil
}

// FindByID finds a credential set by ID
func (r *GormCredentialSetRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.CredentialSet, error) {
	var model models.CredentialSetModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrCredentialSetAbsent
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or replaces a credential set
func (r *GormCredentialSetRepository) Save(ctx context.Context, set *integration.CredentialSet) error {
	return r.db.WithContext(ctx).Save(models.CredentialSetModelFromDomain(set)).Error
}

var _ integration.CredentialSetRepository = (*GormCredentialSetRepository)(nil)
