// Package integration exposes the channel registry to the rest of the
// application: selecting a channel by type and running one operation on it.
package integration

import (
	"context"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/logger"
)

// ChannelFactory builds channels by type
type ChannelFactory interface {
	Create(t integration.ChannelType) (integration.Channel, error)
	AvailableTypes() []integration.ChannelType
	IsSupported(name string) bool
}

// Manager selects channels from the factory. It holds no per-call state, so
// one Manager is shared by every request and worker.
type Manager struct {
	factory ChannelFactory
	logger  *zap.Logger
}

// NewManager creates a new Manager
func NewManager(factory ChannelFactory, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{factory: factory, logger: log.Named("integration")}
}

// Select returns a Selection bound to the channel registered for name.
// Unknown names return an error matching integration.ErrUnsupportedType.
func (m *Manager) Select(name string) (Selection, error) {
	t, err := integration.ParseChannelType(name)
	if err != nil {
		return Selection{}, err
	}
	return m.SelectType(t)
}

// SelectType is Select for an already parsed type
func (m *Manager) SelectType(t integration.ChannelType) (Selection, error) {
	ch, err := m.factory.Create(t)
	if err != nil {
		m.logger.Warn("Integration type not supported", zap.String("channel", t.String()))
		return Selection{}, err
	}
	return Selection{channel: ch}, nil
}

// Send selects name and sends the lead
func (m *Manager) Send(ctx context.Context, name string, l *lead.Lead, creds integration.Credentials) (*integration.Result, error) {
	sel, err := m.Select(name)
	if err != nil {
		return nil, err
	}
	logger.WithLogger(ctx, m.logger).Debug("Sending lead",
		zap.String("channel", sel.Type().String()),
		zap.String("lead_id", l.ID.String()),
	)
	return sel.Send(ctx, l, creds), nil
}

// Update selects name and updates the lead
func (m *Manager) Update(ctx context.Context, name string, l *lead.Lead, creds integration.Credentials) (*integration.Result, error) {
	sel, err := m.Select(name)
	if err != nil {
		return nil, err
	}
	return sel.Update(ctx, l, creds), nil
}

// TestConnection selects name and verifies the credentials
func (m *Manager) TestConnection(ctx context.Context, name string, creds integration.Credentials) (*integration.Result, error) {
	sel, err := m.Select(name)
	if err != nil {
		return nil, err
	}
	return sel.TestConnection(ctx, creds), nil
}

// AvailableTypes returns every registered type
func (m *Manager) AvailableTypes() []integration.ChannelType {
	return m.factory.AvailableTypes()
}

// IsTypeSupported reports whether name is a registered type
func (m *Manager) IsTypeSupported(name string) bool {
	return m.factory.IsSupported(name)
}

// Types describes every registered type
func (m *Manager) Types() []TypeInfo {
	types := m.factory.AvailableTypes()
	out := make([]TypeInfo, 0, len(types))
	for _, t := range types {
		info := TypeInfo{
			Type:           t,
			Name:           t.DisplayName(),
			BatchSupported: t.IsBatchSupported(),
		}
		if ch, err := m.factory.Create(t); err == nil {
			info.RequiredFields = ch.RequiredFields()
		}
		out = append(out, info)
	}
	return out
}

// Selection is an immutable handle on one channel. The zero Selection has
// no channel and every operation on it fails with "No integration set".
type Selection struct {
	channel integration.Channel
}

// IsZero reports whether no channel is bound
func (s Selection) IsZero() bool {
	return s.channel == nil
}

// Type returns the bound channel type, or "" for the zero Selection
func (s Selection) Type() integration.ChannelType {
	if s.channel == nil {
		return ""
	}
	return s.channel.Type()
}

// RequiredFields lists the credential keys of the bound channel
func (s Selection) RequiredFields() []string {
	if s.channel == nil {
		return nil
	}
	return s.channel.RequiredFields()
}

// ValidateCredentials validates creds against the bound channel
func (s Selection) ValidateCredentials(creds integration.Credentials) bool {
	if s.channel == nil {
		return false
	}
	return s.channel.ValidateCredentials(creds)
}

func (s Selection) Send(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	if s.channel == nil {
		return integration.NoChannel()
	}
	return s.channel.Send(ctx, l, creds)
}

func (s Selection) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	if s.channel == nil {
		return integration.NoChannel()
	}
	return s.channel.Update(ctx, l, creds)
}

func (s Selection) TestConnection(ctx context.Context, creds integration.Credentials) *integration.Result {
	if s.channel == nil {
		return integration.NoChannel()
	}
	return s.channel.TestConnection(ctx, creds)
}
