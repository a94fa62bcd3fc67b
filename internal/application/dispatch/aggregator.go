package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/domain/shared"
	"github.com/leadflow/backend/internal/infrastructure/logger"
	"github.com/leadflow/backend/internal/infrastructure/queue"
	"github.com/leadflow/backend/internal/infrastructure/telemetry"
)

// Aggregator folds unit outcomes into their batch. It is the only consumer
// of the outcomes stream. When a batch finishes it writes the aggregate
// status to the lead and sends one operator notification.
type Aggregator struct {
	batches     integration.BatchRepository
	units       integration.DispatchUnitRepository
	leads       lead.Repository
	notifier    *Notifier
	idempotency shared.IdempotencyStore
	ttl         time.Duration
	metrics     *telemetry.DispatchMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewAggregator creates a new Aggregator
func NewAggregator(
	batches integration.BatchRepository,
	units integration.DispatchUnitRepository,
	leads lead.Repository,
	notifier *Notifier,
	idempotency shared.IdempotencyStore,
	cfg shared.IdempotencyConfig,
	metrics *telemetry.DispatchMetrics,
	log *zap.Logger,
) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg = shared.DefaultIdempotencyConfig()
	}
	return &Aggregator{
		batches:     batches,
		units:       units,
		leads:       leads,
		notifier:    notifier,
		idempotency: idempotency,
		ttl:         cfg.TTL,
		metrics:     metrics,
		logger:      log.Named("aggregator"),
		now:         time.Now,
	}
}

// FinalizeKey is the idempotency key guarding the completion of a batch
func FinalizeKey(batch *integration.Batch) string {
	return "batch:" + batch.ID.String() + ":finalize"
}

// maxStaleRetries bounds how often an outcome is re-applied after losing a
// write race on its batch
const maxStaleRetries = 10

// Handle is the queue handler for outcome messages. Concurrent aggregators
// may load the same batch; a stale write reloads the batch and records the
// outcome again.
func (a *Aggregator) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Kind != queue.KindOutcome {
		return fmt.Errorf("unexpected message kind %q", msg.Kind)
	}

	var err error
	for attempt := 0; attempt <= maxStaleRetries; attempt++ {
		err = a.apply(ctx, msg)
		if !errors.Is(err, integration.ErrBatchStale) {
			return err
		}
		a.metrics.RecordBatchConflict(ctx)
		a.logger.Debug("Batch changed concurrently, reloading",
			zap.String("batch_id", msg.BatchID.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	return fmt.Errorf("record outcome: %w", err)
}

func (a *Aggregator) apply(ctx context.Context, msg queue.Message) error {
	batch, err := a.batches.FindByID(ctx, msg.BatchID)
	if errors.Is(err, integration.ErrBatchNotFound) {
		a.logger.Warn("Batch not found, dropping outcome",
			zap.String("batch_id", msg.BatchID.String()),
			zap.String("unit_id", msg.UnitID.String()),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if batch.IsFinalized() {
		return nil
	}

	ctx, log := logger.WithLeadID(ctx, a.logger, batch.LeadID.String())
	ctx, log = logger.WithBatchID(ctx, log, batch.ID.String())

	if batch.Record(msg.UnitID, msg.Succeeded) {
		if err := a.batches.Update(ctx, batch); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}
		logger.WithLogger(ctx, log).Debug("Unit outcome recorded",
			zap.String("unit_id", msg.UnitID.String()),
			zap.Bool("succeeded", msg.Succeeded),
			zap.Int("processed", batch.Processed),
			zap.Int("total", batch.Total),
		)
	}

	if !batch.IsFinished() {
		return nil
	}
	return a.finalize(ctx, log, batch)
}

// finalize runs the completion step at most once per batch: the aggregate
// lead status is written and the operator summary is sent.
func (a *Aggregator) finalize(ctx context.Context, log *zap.Logger, batch *integration.Batch) error {
	key := FinalizeKey(batch)
	if a.idempotency != nil {
		claimed, err := a.idempotency.MarkProcessed(ctx, key, a.ttl)
		if err != nil {
			return fmt.Errorf("claim batch finalization: %w", err)
		}
		if !claimed {
			log.Debug("Batch finalization already claimed")
			return nil
		}
	}

	status, err := batch.Finalize(a.now())
	if err != nil {
		return nil
	}
	if err := a.batches.Update(ctx, batch); err != nil {
		a.release(ctx, log, key)
		return fmt.Errorf("update batch: %w", err)
	}

	if err := a.leads.UpdateIntegration(ctx, batch.LeadID, lead.IntegrationUpdate{Status: &status}); err != nil {
		logger.WithLogger(ctx, log).Error("Failed to update lead integration status", zap.Error(err))
	}

	logger.WithLogger(ctx, log).Info("Batch finished",
		zap.String("status", string(batch.Status)),
		zap.String("lead_status", string(status)),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed),
		zap.Int("total", batch.Total),
	)
	a.metrics.RecordBatchOutcome(ctx, string(batch.Status), string(batch.Trigger))

	if a.notifier != nil {
		units, err := a.units.FindByBatch(ctx, batch.ID)
		if err != nil {
			log.Warn("Failed to load batch units for notification", zap.Error(err))
		}
		a.notifier.BatchFinished(ctx, batch, units)
	}
	return nil
}

func (a *Aggregator) release(ctx context.Context, log *zap.Logger, key string) {
	if a.idempotency == nil {
		return
	}
	if err := a.idempotency.Release(ctx, key); err != nil {
		log.Warn("Failed to release batch finalization key", zap.String("key", key), zap.Error(err))
	}
}
