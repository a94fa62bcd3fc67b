// Package dispatch fans a lead out to its integration channels. A dispatch
// persists one Batch plus one DispatchUnit per channel, publishes the units
// to per-channel queues and lets workers, the retry scheduler and the
// aggregator drive them to completion.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/infrastructure/logger"
	"github.com/leadflow/backend/internal/infrastructure/queue"
	"github.com/leadflow/backend/internal/infrastructure/telemetry"
)

// Target is one channel a lead is sent to
type Target struct {
	Type        integration.ChannelType
	Credentials integration.Credentials
	Mode        integration.UnitMode
}

// DispatchOptions tunes a batch
type DispatchOptions struct {
	Trigger       integration.BatchTrigger
	AllowFailures bool
	// Policy overrides the default integration retry policy
	Policy *integration.RetryPolicy
}

// Orchestrator creates batches and publishes their units
type Orchestrator struct {
	batches  integration.BatchRepository
	units    integration.DispatchUnitRepository
	producer queue.Producer
	metrics  *telemetry.DispatchMetrics
	policy   integration.RetryPolicy
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(
	batches integration.BatchRepository,
	units integration.DispatchUnitRepository,
	producer queue.Producer,
	metrics *telemetry.DispatchMetrics,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		batches:  batches,
		units:    units,
		producer: producer,
		metrics:  metrics,
		policy:   integration.DefaultIntegrationPolicy(),
		logger:   log.Named("orchestrator"),
		now:      time.Now,
	}
}

// SetDefaultPolicy replaces the retry policy of units whose dispatch does not
// carry its own. Zero fields keep the built-in values.
func (o *Orchestrator) SetDefaultPolicy(p integration.RetryPolicy) {
	if p.MaxAttempts > 0 {
		o.policy.MaxAttempts = p.MaxAttempts
	}
	if len(p.Backoff) > 0 {
		o.policy.Backoff = append([]time.Duration(nil), p.Backoff...)
	}
	if p.Timeout > 0 {
		o.policy.Timeout = p.Timeout
	}
}

// Dispatch persists a batch with one unit per target and publishes the units.
// A unit whose publish fails is stored as FAILED and due immediately so the
// retry scheduler picks it up; Dispatch itself only fails when nothing could
// be persisted.
func (o *Orchestrator) Dispatch(ctx context.Context, leadID uuid.UUID, targets []Target, opts DispatchOptions) (*integration.Batch, error) {
	if len(targets) == 0 {
		return nil, integration.ErrBatchEmpty
	}
	if opts.Trigger == "" {
		opts.Trigger = integration.BatchTriggerAPI
	}
	policy := o.policy
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	ctx, span := telemetry.StartBatchSpan(ctx, leadID.String(), string(opts.Trigger), len(targets))
	defer span.End()

	batch := integration.NewBatch(leadID, opts.Trigger, len(targets), opts.AllowFailures)
	units := make([]*integration.DispatchUnit, len(targets))
	for i, t := range targets {
		units[i] = integration.NewDispatchUnit(batch.ID, leadID, t.Type, t.Credentials, t.Mode, policy)
	}

	if err := o.batches.CreateWithUnits(ctx, batch, units); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("create batch: %w", err)
	}
	span.SetAttributes(attribute.String(telemetry.SpanAttrBatchID, batch.ID.String()))

	ctx, log := logger.WithLeadID(ctx, o.logger, leadID.String())
	ctx, log = logger.WithBatchID(ctx, log, batch.ID.String())
	logger.WithLogger(ctx, log).Info("Batch created",
		zap.String("trigger", string(opts.Trigger)),
		zap.Int("units", len(units)),
		zap.Bool("allow_failures", opts.AllowFailures),
	)

	for _, unit := range units {
		o.metrics.RecordDispatched(ctx, unit.ChannelType.String(), string(opts.Trigger))
		o.publish(ctx, log, unit)
	}

	return batch, nil
}

// Publish re-publishes an already persisted pending unit
func (o *Orchestrator) Publish(ctx context.Context, unit *integration.DispatchUnit) error {
	return o.producer.Enqueue(ctx, queue.UnitStream(unit.ChannelType), queue.UnitMessage(unit))
}

func (o *Orchestrator) publish(ctx context.Context, log *zap.Logger, unit *integration.DispatchUnit) {
	err := o.Publish(ctx, unit)
	if err == nil {
		return
	}

	log.Warn("Failed to enqueue dispatch unit, leaving it to the retry scheduler",
		zap.String("unit_id", unit.ID.String()),
		zap.String("channel", unit.ChannelType.String()),
		zap.Error(err),
	)

	// No attempt was made, so the unit keeps its full attempt budget.
	now := o.now()
	unit.Status = integration.UnitStatusFailed
	unit.LastError = "enqueue failed: " + err.Error()
	unit.NextRunAt = &now
	unit.UpdatedAt = now
	if err := o.units.UpdateIfStatus(ctx, unit, integration.UnitStatusPending); err != nil {
		log.Error("Failed to mark unpublished unit for retry",
			zap.String("unit_id", unit.ID.String()),
			zap.Error(err),
		)
	}
}
