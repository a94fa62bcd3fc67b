package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/logger"
	"github.com/leadflow/backend/internal/infrastructure/queue"
)

// AutoDetector resolves the channels configured for a lead and dispatches
// the lead to all of them
type AutoDetector struct {
	leads        lead.Repository
	credentials  integration.CredentialSetRepository
	orchestrator *Orchestrator
	producer     queue.Producer
	// supported limits auto-detection to these types; nil means every
	// batch-supported type
	supported map[integration.ChannelType]bool
	logger    *zap.Logger
}

// NewAutoDetector creates a new AutoDetector
func NewAutoDetector(
	leads lead.Repository,
	credentials integration.CredentialSetRepository,
	orchestrator *Orchestrator,
	producer queue.Producer,
	supported []integration.ChannelType,
	log *zap.Logger,
) *AutoDetector {
	if log == nil {
		log = zap.NewNop()
	}
	d := &AutoDetector{
		leads:        leads,
		credentials:  credentials,
		orchestrator: orchestrator,
		producer:     producer,
		logger:       log.Named("auto_detect"),
	}
	if len(supported) > 0 {
		d.supported = make(map[integration.ChannelType]bool, len(supported))
		for _, t := range supported {
			d.supported[t] = true
		}
	}
	return d
}

// Enqueue schedules auto-detection for a lead on the jobs stream
func (d *AutoDetector) Enqueue(ctx context.Context, leadID uuid.UUID) error {
	if err := d.producer.Enqueue(ctx, queue.StreamJobs, queue.JobMessage(queue.JobAutoDetect, leadID, "")); err != nil {
		return fmt.Errorf("enqueue auto-detect job: %w", err)
	}
	return nil
}

// Run resolves the lead's targets and dispatches them in one batch that
// tolerates individual failures. It returns a nil batch when the lead has
// nothing to dispatch.
func (d *AutoDetector) Run(ctx context.Context, leadID uuid.UUID) (*integration.Batch, error) {
	l, err := d.leads.FindByID(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}
	ctx, log := logger.WithLeadID(ctx, d.logger, leadID.String())

	targets, err := d.Targets(ctx, l)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		logger.WithLogger(ctx, log).Warn("No integrations configured for lead")
		return nil, nil
	}

	return d.orchestrator.Dispatch(ctx, l.ID, targets, DispatchOptions{
		Trigger:       integration.BatchTriggerAutoDetect,
		AllowFailures: true,
	})
}

// Targets lists the enabled credential sets of the lead's entity followed
// by those of its project, keeps the first set of each type and drops
// types that cannot take part in a batch.
func (d *AutoDetector) Targets(ctx context.Context, l *lead.Lead) ([]Target, error) {
	sets, err := d.resolve(ctx, l)
	if err != nil {
		return nil, err
	}

	targets := make([]Target, 0, len(sets))
	for _, set := range sets {
		if !d.isSupported(set.Code) {
			d.logger.Debug("Skipping credential set of non-batch type",
				zap.String("channel", set.Code.String()),
				zap.String("credential_set_id", set.ID.String()),
			)
			continue
		}
		targets = append(targets, Target{
			Type:        set.Code,
			Credentials: set.Values,
			Mode:        integration.UnitModeSend,
		})
	}
	return targets, nil
}

// resolve returns the first enabled credential set per type, entity sets
// ahead of project sets
func (d *AutoDetector) resolve(ctx context.Context, l *lead.Lead) ([]*integration.CredentialSet, error) {
	var sets []*integration.CredentialSet
	if l.ExternalEntityID != nil {
		found, err := d.credentials.ListEnabledByEntity(ctx, *l.ExternalEntityID)
		if err != nil {
			return nil, fmt.Errorf("list entity credentials: %w", err)
		}
		sets = append(sets, found...)
	}
	if l.ExternalProjectID != nil {
		found, err := d.credentials.ListEnabledByProject(ctx, *l.ExternalProjectID)
		if err != nil {
			return nil, fmt.Errorf("list project credentials: %w", err)
		}
		sets = append(sets, found...)
	}

	seen := make(map[integration.ChannelType]bool, len(sets))
	out := make([]*integration.CredentialSet, 0, len(sets))
	for _, set := range sets {
		if !set.Enabled || seen[set.Code] {
			continue
		}
		seen[set.Code] = true
		out = append(out, set)
	}
	return out, nil
}

func (d *AutoDetector) isSupported(t integration.ChannelType) bool {
	if !t.IsBatchSupported() {
		return false
	}
	if d.supported == nil {
		return true
	}
	return d.supported[t]
}
