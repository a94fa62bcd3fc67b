package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/queue"
)

// ResendRequest re-runs dispatch for one lead
type ResendRequest struct {
	LeadID uuid.UUID `json:"lead_id"`
	// Types limits the resend; empty means every auto-detected type
	Types []integration.ChannelType `json:"types,omitempty"`
	// Credentials overrides the stored credentials per type
	Credentials map[integration.ChannelType]integration.Credentials `json:"credentials,omitempty"`
	// Update asks channels that already hold the lead to update it
	Update bool `json:"update,omitempty"`
}

// BulkResendRequest re-runs dispatch for many leads
type BulkResendRequest struct {
	LeadIDs     []uuid.UUID
	Types       []integration.ChannelType
	Credentials map[integration.ChannelType]integration.Credentials
	Update      bool
}

// BulkResendResult counts the leads of a bulk resend
type BulkResendResult struct {
	Dispatched int               `json:"dispatched"`
	Errors     int               `json:"errors"`
	Failures   map[string]string `json:"failures,omitempty"`
}

// ResendService re-runs dispatch on operator request
type ResendService struct {
	leads        lead.Repository
	detector     *AutoDetector
	orchestrator *Orchestrator
	producer     queue.Producer
	logger       *zap.Logger
}

// NewResendService creates a new ResendService
func NewResendService(
	leads lead.Repository,
	detector *AutoDetector,
	orchestrator *Orchestrator,
	producer queue.Producer,
	log *zap.Logger,
) *ResendService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResendService{
		leads:        leads,
		detector:     detector,
		orchestrator: orchestrator,
		producer:     producer,
		logger:       log.Named("resend"),
	}
}

// Resend dispatches the lead again and returns the new batch
func (s *ResendService) Resend(ctx context.Context, req ResendRequest) (*integration.Batch, error) {
	l, err := s.leads.FindByID(ctx, req.LeadID)
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}

	targets, err := s.targets(ctx, l, req)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		s.logger.Warn("Nothing to resend", zap.String("lead_id", l.ID.String()))
		return nil, integration.ErrCredentialSetAbsent
	}

	return s.orchestrator.Dispatch(ctx, l.ID, targets, DispatchOptions{
		Trigger:       integration.BatchTriggerResend,
		AllowFailures: true,
	})
}

func (s *ResendService) targets(ctx context.Context, l *lead.Lead, req ResendRequest) ([]Target, error) {
	var targets []Target
	if len(req.Types) == 0 {
		detected, err := s.detector.Targets(ctx, l)
		if err != nil {
			return nil, err
		}
		for _, t := range detected {
			if creds, ok := req.Credentials[t.Type]; ok {
				t.Credentials = t.Credentials.Merge(creds)
			}
			targets = append(targets, t)
		}
	} else {
		sets, err := s.detector.resolve(ctx, l)
		if err != nil {
			return nil, err
		}
		stored := make(map[integration.ChannelType]integration.Credentials, len(sets))
		for _, set := range sets {
			stored[set.Code] = set.Values
		}

		seen := make(map[integration.ChannelType]bool, len(req.Types))
		for _, raw := range req.Types {
			t, err := integration.ParseChannelType(raw.String())
			if err != nil {
				return nil, err
			}
			if seen[t] {
				continue
			}
			seen[t] = true
			creds, ok := stored[t]
			if override, has := req.Credentials[t]; has {
				creds = creds.Merge(override)
				ok = true
			}
			if !ok {
				s.logger.Warn("No credentials for requested type, skipping",
					zap.String("lead_id", l.ID.String()),
					zap.String("channel", t.String()),
				)
				continue
			}
			targets = append(targets, Target{Type: t, Credentials: creds, Mode: integration.UnitModeSend})
		}
	}

	if req.Update {
		for i := range targets {
			if recordedExternalID(l, targets[i].Type) != "" || targets[i].Credentials.Has(externalIDKeys[targets[i].Type]) {
				targets[i].Mode = integration.UnitModeUpdate
			}
		}
	}
	return targets, nil
}

// Enqueue schedules a resend on the jobs stream
func (s *ResendService) Enqueue(ctx context.Context, req ResendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode resend request: %w", err)
	}
	if err := s.producer.Enqueue(ctx, queue.StreamJobs, queue.JobMessage(queue.JobResend, req.LeadID, string(body))); err != nil {
		return fmt.Errorf("enqueue resend job: %w", err)
	}
	return nil
}

// BulkResend enqueues a resend per lead. It is best effort: a lead that is
// missing or cannot be enqueued is counted and skipped.
func (s *ResendService) BulkResend(ctx context.Context, req BulkResendRequest) BulkResendResult {
	result := BulkResendResult{Failures: map[string]string{}}
	for _, id := range req.LeadIDs {
		err := s.enqueueExisting(ctx, ResendRequest{
			LeadID:      id,
			Types:       req.Types,
			Credentials: req.Credentials,
			Update:      req.Update,
		})
		if err != nil {
			result.Errors++
			result.Failures[id.String()] = err.Error()
			s.logger.Warn("Bulk resend skipped lead", zap.String("lead_id", id.String()), zap.Error(err))
			continue
		}
		result.Dispatched++
	}
	s.logger.Info("Bulk resend enqueued",
		zap.Int("dispatched", result.Dispatched),
		zap.Int("errors", result.Errors),
	)
	return result
}

func (s *ResendService) enqueueExisting(ctx context.Context, req ResendRequest) error {
	if _, err := s.leads.FindByID(ctx, req.LeadID); err != nil {
		if errors.Is(err, lead.ErrLeadNotFound) {
			return err
		}
		return fmt.Errorf("load lead: %w", err)
	}
	return s.Enqueue(ctx, req)
}

// DecodeResendRequest parses the body of a resend job
func DecodeResendRequest(body string) (ResendRequest, error) {
	var req ResendRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return ResendRequest{}, fmt.Errorf("decode resend request: %w", err)
	}
	return req, nil
}
