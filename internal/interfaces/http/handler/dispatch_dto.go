package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/backend/internal/domain/integration"
)

// TestConnectionRequest carries the credentials to verify
type TestConnectionRequest struct {
	Credentials map[string]any `json:"credentials" binding:"required"`
}

// SendLeadRequest sends one lead synchronously through one channel
type SendLeadRequest struct {
	LeadID      string         `json:"lead_id" binding:"required,uuid"`
	Credentials map[string]any `json:"credentials" binding:"required"`
	// Update calls the channel's update operation instead of a create
	Update bool `json:"update"`
}

// ResendLeadRequest re-runs dispatch for the lead in the path
type ResendLeadRequest struct {
	// Types limits the resend; empty means every auto-detected type
	Types []string `json:"types" binding:"omitempty,max=16,dive,required"`
	// Credentials overrides stored credentials, keyed by type
	Credentials map[string]map[string]any `json:"credentials"`
	Update      bool                      `json:"update"`
	// Wait creates the batch inside the request instead of queueing a job
	Wait bool `json:"wait"`
}

// BulkResendLeadsRequest re-runs dispatch for many leads
type BulkResendLeadsRequest struct {
	LeadIDs     []string                  `json:"lead_ids" binding:"required,min=1,max=500,dive,uuid"`
	Types       []string                  `json:"types" binding:"omitempty,max=16,dive,required"`
	Credentials map[string]map[string]any `json:"credentials"`
	Update      bool                      `json:"update"`
}

// EnqueuedResponse acknowledges work handed to the jobs queue
type EnqueuedResponse struct {
	LeadID uuid.UUID `json:"lead_id"`
	Job    string    `json:"job" example:"auto_detect"`
}

// BatchCreatedResponse summarizes a batch created inside the request
type BatchCreatedResponse struct {
	ID        uuid.UUID `json:"id"`
	LeadID    uuid.UUID `json:"lead_id"`
	Trigger   string    `json:"trigger"`
	Status    string    `json:"status"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"created_at"`
}

func toBatchCreatedResponse(b *integration.Batch) BatchCreatedResponse {
	return BatchCreatedResponse{
		ID:        b.ID,
		LeadID:    b.LeadID,
		Trigger:   string(b.Trigger),
		Status:    string(b.Status),
		Total:     b.Total,
		CreatedAt: b.CreatedAt,
	}
}

// parseTypes validates channel type names
func parseTypes(names []string) ([]integration.ChannelType, error) {
	if len(names) == 0 {
		return nil, nil
	}
	types := make([]integration.ChannelType, 0, len(names))
	for _, name := range names {
		t, err := integration.ParseChannelType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// parseCredentialOverrides validates the type keys of a credentials override
func parseCredentialOverrides(in map[string]map[string]any) (map[integration.ChannelType]integration.Credentials, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[integration.ChannelType]integration.Credentials, len(in))
	for name, creds := range in {
		t, err := integration.ParseChannelType(name)
		if err != nil {
			return nil, err
		}
		out[t] = integration.Credentials(creds)
	}
	return out, nil
}
