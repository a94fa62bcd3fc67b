package channel

import (
	"context"
	"strings"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/httpclient"
)

// Bitrix24 creates CRM leads through an inbound webhook. Bitrix reports
// errors in the payload, so success is the presence of "result".
type Bitrix24 struct {
	base
}

// NewBitrix24 creates the Bitrix24 channel
func NewBitrix24(opts Options, deps Deps) *Bitrix24 {
	return &Bitrix24{base: newBase(integration.ChannelTypeBitrix24, opts, deps,
		[]string{"webhook_url", "user_id"},
		map[string]FieldValidator{
			"webhook_url": URL,
			"user_id":     PositiveNumber,
		},
		nil,
	)}
}

func (c *Bitrix24) method(creds integration.Credentials, name string) string {
	hook := creds.String("webhook_url")
	if !strings.HasSuffix(hook, "/") {
		hook += "/"
	}
	return hook + name
}

// Send calls crm.lead.add
func (c *Bitrix24) Send(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opSend, l, creds, func() *integration.Result {
		body := map[string]any{
			"fields": c.mapNested(l, creds, fieldmap.SectionBitrix24),
			"params": map[string]any{"REGISTER_SONET_EVENT": "Y"},
		}
		resp, err := c.deps.HTTP.Post(ctx, c.method(creds, "crm.lead.add"), body)
		if err != nil {
			return transportFailure(err)
		}
		result, ok := bitrixResult(resp)
		if !ok {
			return remoteFailure(resp)
		}
		return integration.Success("Lead sent to Bitrix24", idString(result), map[string]any{"response": resp.JSON()})
	})
}

// Update calls crm.lead.update for the lead_id credential
func (c *Bitrix24) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opUpd, l, creds, func() *integration.Result {
		leadID := creds.String("lead_id")
		if leadID == "" {
			return integration.FailureOf(integration.ErrorKindValidation, "Bitrix24 lead_id is required for update", 0, nil)
		}
		body := map[string]any{
			"id":     leadID,
			"fields": c.mapNested(l, creds, fieldmap.SectionBitrix24),
		}
		resp, err := c.deps.HTTP.Post(ctx, c.method(creds, "crm.lead.update"), body)
		if err != nil {
			return transportFailure(err)
		}
		if _, ok := bitrixResult(resp); !ok {
			return remoteFailure(resp)
		}
		return integration.Success("Lead updated in Bitrix24", leadID, map[string]any{"response": resp.JSON()})
	})
}

// TestConnection calls crm.lead.fields
func (c *Bitrix24) TestConnection(ctx context.Context, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opTest, nil, creds, func() *integration.Result {
		resp, err := c.deps.HTTP.Get(ctx, c.method(creds, "crm.lead.fields"), httpclient.WithHeader("Accept", "application/json"))
		if err != nil {
			return transportFailure(err)
		}
		if _, ok := bitrixResult(resp); !ok {
			return remoteFailure(resp)
		}
		return integration.Success("Connected to Bitrix24", "", nil)
	})
}

func bitrixResult(resp *httpclient.Response) (any, bool) {
	if !resp.IsSuccess() {
		return nil, false
	}
	result, ok := resp.JSON()["result"]
	if !ok || result == nil || result == false {
		return nil, false
	}
	return result, true
}
