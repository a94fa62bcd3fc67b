package dispatch

import (
	"context"
	"fmt"

	"github.com/leadflow/backend/internal/application/integration"
	domain "github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
)

// externalIDKeys names the credential key that carries a remote id in
// update mode, per channel type.
var externalIDKeys = map[domain.ChannelType]string{
	domain.ChannelTypeAmoCRM:    "lead_id",
	domain.ChannelTypeBitrix24:  "lead_id",
	domain.ChannelTypeMailchimp: "member_id",
}

// Runner performs one delivery attempt of a unit
type Runner struct {
	leads   lead.Repository
	manager *integration.Manager
}

// NewRunner creates a new Runner
func NewRunner(leads lead.Repository, manager *integration.Manager) *Runner {
	return &Runner{leads: leads, manager: manager}
}

// Run loads the lead and calls Send or Update on the unit's channel, bounded
// by the unit timeout. Channel failures come back as a failed Result; the
// returned error is reserved for infrastructure problems (lead storage).
// An unknown channel type yields a failed Result since retrying cannot fix it.
func (r *Runner) Run(ctx context.Context, unit *domain.DispatchUnit) (*domain.Result, *lead.Lead, error) {
	l, err := r.leads.FindByID(ctx, unit.LeadID)
	if err != nil {
		return nil, nil, fmt.Errorf("load lead: %w", err)
	}

	sel, err := r.manager.SelectType(unit.ChannelType)
	if err != nil {
		return domain.FailureOf(domain.ErrorKindValidation, err.Error(), 0, nil), l, nil
	}

	if unit.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, unit.Timeout)
		defer cancel()
	}

	if unit.Mode == domain.UnitModeUpdate {
		return sel.Update(ctx, l, updateCredentials(unit, l)), l, nil
	}
	return sel.Send(ctx, l, unit.Credentials), l, nil
}

// updateCredentials injects the remote id recorded on the lead for the
// unit's channel unless the credentials already carry one
func updateCredentials(unit *domain.DispatchUnit, l *lead.Lead) domain.Credentials {
	key, ok := externalIDKeys[unit.ChannelType]
	if !ok || unit.Credentials.Has(key) {
		return unit.Credentials
	}
	id := recordedExternalID(l, unit.ChannelType)
	if id == "" {
		return unit.Credentials
	}
	creds := unit.Credentials.Clone()
	creds[key] = id
	return creds
}

func recordedExternalID(l *lead.Lead, t domain.ChannelType) string {
	entry, ok := l.IntegrationData[t.String()].(map[string]any)
	if !ok {
		return ""
	}
	switch v := entry["external_id"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
