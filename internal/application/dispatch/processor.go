package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/logger"
	"github.com/leadflow/backend/internal/infrastructure/queue"
	"github.com/leadflow/backend/internal/infrastructure/telemetry"
)

// UnitProcessor runs dispatch units on the worker side
type UnitProcessor struct {
	units    integration.DispatchUnitRepository
	leads    lead.Repository
	runner   *Runner
	producer queue.Producer
	notifier *Notifier
	metrics  *telemetry.DispatchMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewUnitProcessor creates a new UnitProcessor
func NewUnitProcessor(
	units integration.DispatchUnitRepository,
	leads lead.Repository,
	runner *Runner,
	producer queue.Producer,
	notifier *Notifier,
	metrics *telemetry.DispatchMetrics,
	log *zap.Logger,
) *UnitProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &UnitProcessor{
		units:    units,
		leads:    leads,
		runner:   runner,
		producer: producer,
		notifier: notifier,
		metrics:  metrics,
		logger:   log.Named("unit_processor"),
		now:      time.Now,
	}
}

// Handle is the queue handler for unit messages
func (p *UnitProcessor) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Kind != queue.KindUnit {
		return fmt.Errorf("unexpected message kind %q", msg.Kind)
	}
	return p.Process(ctx, msg.UnitID)
}

// Process claims and runs one unit. Messages for units that are missing,
// already claimed or not due are dropped. A returned error means the
// unit state could not be persisted and the message should be redelivered.
func (p *UnitProcessor) Process(ctx context.Context, unitID uuid.UUID) error {
	unit, err := p.units.FindByID(ctx, unitID)
	if errors.Is(err, integration.ErrUnitNotFound) {
		p.logger.Warn("Dispatch unit not found, dropping message", zap.String("unit_id", unitID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load unit: %w", err)
	}

	ctx, log := logger.WithLeadID(ctx, p.logger, unit.LeadID.String())
	ctx, log = logger.WithBatchID(ctx, log, unit.BatchID.String())
	log = log.With(zap.String("unit_id", unit.ID.String()), zap.String("channel", unit.ChannelType.String()))

	if unit.Status.IsTerminal() {
		// The outcome may not have reached the aggregator before a redelivery.
		return p.publishOutcome(ctx, unit)
	}
	if unit.Status != integration.UnitStatusPending {
		log.Debug("Dispatch unit not claimable, skipping", zap.String("status", string(unit.Status)))
		return nil
	}

	if err := unit.Start(); err != nil {
		return nil
	}
	if err := p.units.UpdateIfStatus(ctx, unit, integration.UnitStatusPending); err != nil {
		if errors.Is(err, integration.ErrUnitStale) {
			log.Debug("Dispatch unit claimed by another worker")
			return nil
		}
		return fmt.Errorf("claim unit: %w", err)
	}

	ctx, span := telemetry.StartUnitSpan(ctx, telemetry.UnitSpan{
		UnitID:      unit.ID.String(),
		BatchID:     unit.BatchID.String(),
		ChannelType: unit.ChannelType.String(),
		Attempt:     unit.Attempt,
		Mode:        string(unit.Mode),
	})
	defer span.End()

	started := p.now()
	var (
		res *integration.Result
		l   *lead.Lead
	)
	telemetry.WithProfilingLabels(ctx, telemetry.DispatchProfilingLabels(unit.ChannelType.String(), "run_unit"),
		func(ctx context.Context) {
			res, l, err = p.runner.Run(ctx, unit)
		})
	if err != nil {
		if errors.Is(err, lead.ErrLeadNotFound) {
			res = integration.FailureOf(integration.ErrorKindValidation, "Lead not found", 0, nil)
		} else {
			res = integration.FailureOf(integration.ErrorKindTransport, err.Error(), 0, nil)
		}
		telemetry.RecordError(span, err)
	}
	code, _ := res.HTTPCode()
	telemetry.RecordUnitResult(span, res.IsSuccess(), code, res.Message())

	return p.finish(ctx, log, unit, l, res, started)
}

// Abandon fails a unit whose worker disappeared while it was running.
// The lost run counts as an attempt.
func (p *UnitProcessor) Abandon(ctx context.Context, unit *integration.DispatchUnit) error {
	if unit.Status != integration.UnitStatusRunning {
		return integration.ErrUnitStale
	}
	log := p.logger.With(
		zap.String("unit_id", unit.ID.String()),
		zap.String("lead_id", unit.LeadID.String()),
		zap.String("channel", unit.ChannelType.String()),
	)
	l, err := p.leads.FindByID(ctx, unit.LeadID)
	if err != nil {
		log.Warn("Failed to load lead of abandoned unit", zap.Error(err))
		l = nil
	}
	res := integration.FailureOf(integration.ErrorKindTransport, "Unit timed out while running", 0, nil)
	return p.finish(ctx, log, unit, l, res, unit.UpdatedAt)
}

func (p *UnitProcessor) finish(ctx context.Context, log *zap.Logger, unit *integration.DispatchUnit, l *lead.Lead, res *integration.Result, started time.Time) error {
	now := p.now()
	clog := logger.WithLogger(ctx, log)

	permanent := false
	if res.IsSuccess() {
		unit.Succeed(res)
	} else {
		permanent = unit.Fail(res, now)
	}

	if err := p.units.UpdateIfStatus(ctx, unit, integration.UnitStatusRunning); err != nil {
		if errors.Is(err, integration.ErrUnitStale) {
			clog.Warn("Dispatch unit changed while running, result discarded")
			return nil
		}
		return fmt.Errorf("store unit result: %w", err)
	}
	p.metrics.RecordUnitOutcome(ctx, unit.ChannelType.String(), string(unit.Status), now.Sub(started))

	switch {
	case res.IsSuccess():
		clog.Info("Dispatch unit succeeded", zap.Int("attempt", unit.Attempt))
		p.recordOnLead(ctx, clog, unit, l, res, now)
	case permanent:
		clog.Error("Dispatch unit permanently failed",
			zap.Int("attempt", unit.Attempt),
			zap.String("error", unit.LastError),
		)
		p.recordOnLead(ctx, clog, unit, l, res, now)
		if p.notifier != nil {
			p.notifier.UnitFailed(ctx, l, unit)
		}
	default:
		clog.Warn("Dispatch unit failed, retry scheduled",
			zap.Int("attempt", unit.Attempt),
			zap.Int("max_attempts", unit.MaxAttempts),
			zap.Timep("next_run_at", unit.NextRunAt),
			zap.String("error", unit.LastError),
		)
		return nil
	}

	return p.publishOutcome(ctx, unit)
}

// recordOnLead stores the channel outcome in the lead's integration data.
// The lead write is best effort; the unit outcome is already persisted.
func (p *UnitProcessor) recordOnLead(ctx context.Context, log *logger.ContextLogger, unit *integration.DispatchUnit, l *lead.Lead, res *integration.Result, now time.Time) {
	entry := map[string]any{
		"success": res.IsSuccess(),
		"message": res.Message(),
	}
	update := lead.IntegrationUpdate{}
	if id, ok := res.ExternalID(); ok && res.IsSuccess() {
		entry["external_id"] = id
		update.ExternalID = &id
	} else if l != nil {
		if id := recordedExternalID(l, unit.ChannelType); id != "" {
			entry["external_id"] = id
		}
	}
	if res.IsSuccess() {
		entry["sent_at"] = now.UTC().Format(time.RFC3339)
	} else {
		entry["failed_at"] = now.UTC().Format(time.RFC3339)
		if code, ok := res.HTTPCode(); ok {
			entry["http_code"] = code
		}
	}
	update.IntegrationData = map[string]any{unit.ChannelType.String(): entry}

	if err := p.leads.UpdateIntegration(ctx, unit.LeadID, update); err != nil {
		log.Error("Failed to record integration result on lead", zap.Error(err))
	}
}

func (p *UnitProcessor) publishOutcome(ctx context.Context, unit *integration.DispatchUnit) error {
	if err := p.producer.Enqueue(ctx, queue.StreamOutcomes, queue.OutcomeMessage(unit)); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}
