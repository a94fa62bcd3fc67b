package channel

import (
	"context"
	"time"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/httpclient"
)

// Webhooks posts the mapped lead to an arbitrary URL
type Webhooks struct {
	base
	now func() time.Time
}

// NewWebhooks creates the webhook channel
func NewWebhooks(opts Options, deps Deps) *Webhooks {
	return &Webhooks{
		base: newBase(integration.ChannelTypeWebhooks, opts, deps,
			[]string{"url"},
			map[string]FieldValidator{"url": URL},
			nil,
		),
		now: time.Now,
	}
}

func (c *Webhooks) post(ctx context.Context, creds integration.Credentials, body any) (*httpclient.Response, error) {
	var opts []httpclient.RequestOption
	if token := creds.String("token"); token != "" {
		opts = append(opts, httpclient.WithBearer(token))
	}
	return c.deps.HTTP.Post(ctx, creds.String("url"), body, opts...)
}

// Send posts the payload; any 2xx is a success
func (c *Webhooks) Send(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opSend, l, creds, func() *integration.Result {
		resp, err := c.post(ctx, creds, c.mapNested(l, creds, fieldmap.SectionWebhooks))
		if err != nil {
			return transportFailure(err)
		}
		if !resp.IsSuccess() {
			return remoteFailure(resp)
		}
		id, _ := lookup(resp.JSON(), "id")
		return integration.Success("Lead sent to webhook", idString(id), map[string]any{"status": resp.StatusCode})
	})
}

// Update posts the payload again
func (c *Webhooks) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.Send(ctx, l, creds)
}

// TestConnection posts a test body
func (c *Webhooks) TestConnection(ctx context.Context, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opTest, nil, creds, func() *integration.Result {
		resp, err := c.post(ctx, creds, map[string]any{"test": true, "timestamp": c.now().Unix()})
		if err != nil {
			return transportFailure(err)
		}
		if !resp.IsSuccess() {
			return remoteFailure(resp)
		}
		return integration.Success("Webhook is reachable", "", map[string]any{"status": resp.StatusCode})
	})
}
