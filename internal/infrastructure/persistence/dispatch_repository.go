package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/infrastructure/persistence/models"
)

// GormDispatchUnitRepository implements integration.DispatchUnitRepository using GORM
type GormDispatchUnitRepository struct {
	db *gorm.DB
}

// NewGormDispatchUnitRepository creates a new GormDispatchUnitRepository
func NewGormDispatchUnitRepository(db *gorm.DB) *GormDispatchUnitRepository {
	return &GormDispatchUnitRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormDispatchUnitRepository) WithTx(tx *gorm.DB) *GormDispatchUnitRepository {
	return &GormDispatchUnitRepository{db: tx}
}

// Save inserts or replaces units
func (r *GormDispatchUnitRepository) Save(ctx context.Context, units ...*integration.DispatchUnit) error {
	if len(units) == 0 {
		return nil
	}
	rows := make([]*models.DispatchUnitModel, len(units))
	for i, u := range units {
		rows[i] = models.DispatchUnitModelFromDomain(u)
	}
	return r.db.WithContext(ctx).Save(rows).Error
}

// FindByID retrieves a single unit
func (r *GormDispatchUnitRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.DispatchUnit, error) {
	var model models.DispatchUnitModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrUnitNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByBatch returns the units of a batch in creation order
func (r *GormDispatchUnitRepository) FindByBatch(ctx context.Context, batchID uuid.UUID) ([]*integration.DispatchUnit, error) {
	var rows []models.DispatchUnitModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return unitsToDomain(rows), nil
}

// UpdateIfStatus writes every column of the unit only while the stored
// status still equals expected
func (r *GormDispatchUnitRepository) UpdateIfStatus(ctx context.Context, unit *integration.DispatchUnit, expected integration.UnitStatus) error {
	model := models.DispatchUnitModelFromDomain(unit)
	result := r.db.WithContext(ctx).
		Model(&models.DispatchUnitModel{}).
		Where("id = ? AND status = ?", unit.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return fmt.Errorf("update dispatch unit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return integration.ErrUnitStale
	}
	return nil
}

// FindDue returns failed units whose retry time has come
func (r *GormDispatchUnitRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*integration.DispatchUnit, error) {
	var rows []models.DispatchUnitModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_run_at <= ?", integration.UnitStatusFailed, now).
		Order("next_run_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return unitsToDomain(rows), nil
}

// FindStaleRunning returns running units whose worker stopped reporting
func (r *GormDispatchUnitRepository) FindStaleRunning(ctx context.Context, before time.Time, limit int) ([]*integration.DispatchUnit, error) {
	var rows []models.DispatchUnitModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", integration.UnitStatusRunning, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return unitsToDomain(rows), nil
}

// FindPermanentlyFailed retrieves dead units with pagination
func (r *GormDispatchUnitRepository) FindPermanentlyFailed(ctx context.Context, page, pageSize int) ([]*integration.DispatchUnit, int64, error) {
	var rows []models.DispatchUnitModel
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&models.DispatchUnitModel{}).
		Where("status = ?", integration.UnitStatusPermanentlyFailed).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := r.db.WithContext(ctx).
		Where("status = ?", integration.UnitStatusPermanentlyFailed).
		Order("updated_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	return unitsToDomain(rows), total, nil
}

// DeleteCompletedBefore removes succeeded units completed before the cutoff
func (r *GormDispatchUnitRepository) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", integration.UnitStatusSucceeded, before).
		Delete(&models.DispatchUnitModel{})
	return result.RowsAffected, result.Error
}

// CountByStatus returns the number of units per status
func (r *GormDispatchUnitRepository) CountByStatus(ctx context.Context) (map[integration.UnitStatus]int64, error) {
	type statusCount struct {
		Status integration.UnitStatus
		Count  int64
	}

	var results []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.DispatchUnitModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[integration.UnitStatus]int64)
	for _, c := range results {
		counts[c.Status] = c.Count
	}
	return counts, nil
}

func unitsToDomain(rows []models.DispatchUnitModel) []*integration.DispatchUnit {
	units := make([]*integration.DispatchUnit, len(rows))
	for i := range rows {
		units[i] = rows[i].ToDomain()
	}
	return units
}

var _ integration.DispatchUnitRepository = (*GormDispatchUnitRepository)(nil)

// GormBatchRepository implements integration.BatchRepository using GORM
type GormBatchRepository struct {
	db *gorm.DB
}

// NewGormBatchRepository creates a new GormBatchRepository
func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

// CreateWithUnits stores the batch and its units in one transaction
func (r *GormBatchRepository) CreateWithUnits(ctx context.Context, batch *integration.Batch, units []*integration.DispatchUnit) error {
	if len(units) == 0 {
		return integration.ErrBatchEmpty
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.BatchModelFromDomain(batch)).Error; err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		rows := make([]*models.DispatchUnitModel, len(units))
		for i, u := range units {
			rows[i] = models.DispatchUnitModelFromDomain(u)
		}
		if err := tx.Create(rows).Error; err != nil {
			return fmt.Errorf("create dispatch units: %w", err)
		}
		return nil
	})
}

// FindByID retrieves a batch
func (r *GormBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Batch, error) {
	var model models.BatchModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrBatchNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Update writes the batch while the stored version still matches the one
// it was loaded with
func (r *GormBatchRepository) Update(ctx context.Context, batch *integration.Batch) error {
	batch.UpdatedAt = time.Now()
	model := models.BatchModelFromDomain(batch)
	model.Version = batch.Version + 1
	result := r.db.WithContext(ctx).
		Model(&models.BatchModel{}).
		Where("id = ? AND version = ?", batch.ID, batch.Version).
		Select("*").
		Omit("id", "created_at").
		Updates(model)
	if result.Error != nil {
		return fmt.Errorf("update batch: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return integration.ErrBatchStale
	}
	batch.Version = model.Version
	return nil
}

var _ integration.BatchRepository = (*GormBatchRepository)(nil)
