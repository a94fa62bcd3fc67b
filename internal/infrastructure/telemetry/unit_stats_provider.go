package telemetry

import (
	"context"

	"gorm.io/gorm"
)

// GormUnitStatsProvider implements UnitStatsProvider using GORM.
// It queries the dispatch_units table directly for aggregated counts.
type GormUnitStatsProvider struct {
	db *gorm.DB
}

// NewGormUnitStatsProvider creates a new GormUnitStatsProvider.
func NewGormUnitStatsProvider(db *gorm.DB) *GormUnitStatsProvider {
	return &GormUnitStatsProvider{db: db}
}

// CountUnitsByStatus returns the number of dispatch units per status.
func (p *GormUnitStatsProvider) CountUnitsByStatus(ctx context.Context) (map[string]int64, error) {
	type result struct {
		Status string `gorm:"column:status"`
		Count  int64  `gorm:"column:count"`
	}

	var results []result
	err := p.db.WithContext(ctx).
		Table("dispatch_units").
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(results))
	for _, r := range results {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

var _ UnitStatsProvider = (*GormUnitStatsProvider)(nil)
