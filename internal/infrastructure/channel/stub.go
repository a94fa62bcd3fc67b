package channel

import (
	"context"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
)

var stubRequiredFields = map[integration.ChannelType][]string{
	integration.ChannelTypeGetResponse: {"api_key", "campaign_id"},
	integration.ChannelTypeSendPulse:   {"client_id", "client_secret", "address_book_id"},
	integration.ChannelTypeUniSender:   {"api_key", "list_id"},
	integration.ChannelTypeUonTravel:   {"api_key"},
	integration.ChannelTypeLpTracker:   {"token", "project_id"},
}

// Stub is an advertised provider without an implementation. Every
// operation fails without touching the network.
type Stub struct {
	base
}

// NewStub creates a stub channel for t
func NewStub(t integration.ChannelType, opts Options, deps Deps) *Stub {
	return &Stub{base: newBase(t, opts, deps, stubRequiredFields[t], nil, nil)}
}

func (c *Stub) notImplemented(ctx context.Context, op operation, l *lead.Lead) *integration.Result {
	res := integration.NotImplemented(c.channelType.DisplayName())
	c.log(ctx, op, l, res)
	return res
}

func (c *Stub) Send(ctx context.Context, l *lead.Lead, _ integration.Credentials) *integration.Result {
	return c.notImplemented(ctx, opSend, l)
}

func (c *Stub) Update(ctx context.Context, l *lead.Lead, _ integration.Credentials) *integration.Result {
	return c.notImplemented(ctx, opUpd, l)
}

func (c *Stub) TestConnection(ctx context.Context, _ integration.Credentials) *integration.Result {
	return c.notImplemented(ctx, opTest, nil)
}
