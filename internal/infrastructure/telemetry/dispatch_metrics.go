package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DispatchMetrics tracks lead delivery: units fanned out, unit outcomes,
// batch outcomes and the number of units per status.
// A nil *DispatchMetrics is valid and records nothing.
type DispatchMetrics struct {
	logger *zap.Logger

	unitsDispatched *Counter
	unitOutcomes    *Counter
	batchOutcomes   *Counter
	batchConflicts  *Counter
	unitDuration    *Histogram
	unitsByStatus   *Gauge

	stats       UnitStatsProvider
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
	wg          sync.WaitGroup
}

// UnitStatsProvider returns the number of dispatch units per status.
type UnitStatsProvider interface {
	CountUnitsByStatus(ctx context.Context) (map[string]int64, error)
}

// DispatchMetricsConfig holds configuration for dispatch metrics.
type DispatchMetricsConfig struct {
	Meter         metric.Meter
	Logger        *zap.Logger
	StatsProvider UnitStatsProvider
}

// NewDispatchMetrics creates a new DispatchMetrics instance.
func NewDispatchMetrics(cfg DispatchMetricsConfig) (*DispatchMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dm := &DispatchMetrics{
		logger:   logger,
		stats:    cfg.StatsProvider,
		stopChan: make(chan struct{}),
	}

	var err error
	counters := []struct {
		dst               **Counter
		name, desc, unit string
	}{
		{&dm.unitsDispatched, "leadflow_units_dispatched_total", "Dispatch units created", "{units}"},
		{&dm.unitOutcomes, "leadflow_unit_outcomes_total", "Finished delivery attempts by resulting status", "{attempts}"},
		{&dm.batchOutcomes, "leadflow_batch_outcomes_total", "Finalized batches by status", "{batches}"},
		{&dm.batchConflicts, "leadflow_batch_conflicts_total", "Outcomes re-applied after a concurrent batch write", "{writes}"},
	}
	for _, c := range counters {
		if *c.dst, err = NewCounter(cfg.Meter, Spec{Name: c.name, Description: c.desc, Unit: c.unit}); err != nil {
			return nil, err
		}
	}

	dm.unitDuration, err = NewHistogram(cfg.Meter, Spec{
		Name:        "leadflow_unit_duration_seconds",
		Description: "Duration of one delivery attempt",
		Unit:        "s",
		Buckets:     UnitDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	dm.unitsByStatus, err = NewGauge(cfg.Meter, Spec{
		Name: "leadflow_units_by_status", Description: "Current number of dispatch units per status", Unit: "{units}",
	})
	if err != nil {
		return nil, err
	}
	return dm, nil
}

// RecordDispatched records a unit created for a batch
func (dm *DispatchMetrics) RecordDispatched(ctx context.Context, channelType, trigger string) {
	if dm == nil {
		return
	}
	dm.unitsDispatched.Inc(ctx, AttrChannelType.String(channelType), AttrTrigger.String(trigger))
}

// RecordUnitOutcome records the status a unit reached after one attempt
// and how long the attempt took.
func (dm *DispatchMetrics) RecordUnitOutcome(ctx context.Context, channelType, status string, d time.Duration) {
	if dm == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrChannelType.String(channelType), AttrUnitStatus.String(status)}
	dm.unitOutcomes.Inc(ctx, attrs...)
	dm.unitDuration.RecordDuration(ctx, d, attrs...)
}

// RecordBatchOutcome records a finalized batch
func (dm *DispatchMetrics) RecordBatchOutcome(ctx context.Context, status, trigger string) {
	if dm == nil {
		return
	}
	dm.batchOutcomes.Inc(ctx, AttrBatchStatus.String(status), AttrTrigger.String(trigger))
}

// RecordBatchConflict records an outcome that lost the write race on its batch
func (dm *DispatchMetrics) RecordBatchConflict(ctx context.Context) {
	if dm == nil {
		return
	}
	dm.batchConflicts.Inc(ctx)
}

// StartPeriodicCollection refreshes the units-by-status gauge every interval
// until Stop is called or ctx ends.
func (dm *DispatchMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	if dm == nil || dm.stats == nil {
		return
	}
	dm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}
		dm.wg.Add(1)
		go dm.runPeriodicCollection(ctx, interval)
	})
}

func (dm *DispatchMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	defer dm.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dm.collect(ctx)
	for {
		select {
		case <-dm.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			dm.collect(ctx)
		}
	}
}

func (dm *DispatchMetrics) collect(ctx context.Context) {
	counts, err := dm.stats.CountUnitsByStatus(ctx)
	if err != nil {
		dm.logger.Warn("Failed to count dispatch units", zap.Error(err))
		return
	}
	for status, n := range counts {
		dm.unitsByStatus.Record(ctx, n, AttrUnitStatus.String(status))
	}
}

// Stop ends periodic collection and waits for it to exit.
func (dm *DispatchMetrics) Stop() {
	if dm == nil {
		return
	}
	dm.stopOnce.Do(func() { close(dm.stopChan) })
	dm.wg.Wait()
}
