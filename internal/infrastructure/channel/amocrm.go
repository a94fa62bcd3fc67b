package channel

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/httpclient"
)

var amoNumericFields = []string{"price", "pipeline_id", "status_id", "responsible_user_id"}

// AmoCRM creates and updates deals through the AmoCRM v4 API
type AmoCRM struct {
	base
}

// NewAmoCRM creates the AmoCRM channel
func NewAmoCRM(opts Options, deps Deps) *AmoCRM {
	return &AmoCRM{base: newBase(integration.ChannelTypeAmoCRM, opts, deps,
		[]string{"access_token", "base_url", "responsible_user_id"},
		map[string]FieldValidator{
			"base_url":            URL,
			"responsible_user_id": PositiveNumber,
		},
		map[string]FieldValidator{
			"pipeline_id": PositiveNumber,
			"status_id":   PositiveNumber,
			"price":       NonNegativeNumber,
		},
	)}
}

func (c *AmoCRM) endpoint(creds integration.Credentials, path string) string {
	root := strings.TrimRight(creds.String("base_url"), "/")
	if root == "" {
		root = c.baseURL
	}
	return root + path
}

func (c *AmoCRM) payload(l *lead.Lead, creds integration.Credentials) map[string]any {
	p := c.mapNested(l, creds, fieldmap.SectionAmoCRM)
	for _, key := range amoNumericFields {
		if v, ok := p[key]; ok {
			if d, ok := decimalOf(v); ok {
				p[key] = d.IntPart()
			}
		}
	}
	return p
}

// Send creates a deal; the external id is the created deal id
func (c *AmoCRM) Send(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opSend, l, creds, func() *integration.Result {
		resp, err := c.deps.HTTP.Post(ctx, c.endpoint(creds, "/api/v4/leads"),
			[]any{c.payload(l, creds)}, httpclient.WithBearer(creds.String("access_token")))
		if err != nil {
			return transportFailure(err)
		}
		if !resp.IsSuccess() {
			return remoteFailure(resp)
		}
		body := resp.JSON()
		id, _ := lookup(body, "_embedded", "leads", 0, "id")
		return integration.Success("Lead sent to AmoCRM", idString(id), map[string]any{"response": body})
	})
}

// Update patches the deal named by the lead_id credential
func (c *AmoCRM) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opUpd, l, creds, func() *integration.Result {
		leadID := creds.String("lead_id")
		if leadID == "" {
			return integration.FailureOf(integration.ErrorKindValidation, "AmoCRM lead_id is required for update", 0, nil)
		}
		p := c.payload(l, creds)
		// contacts are linked on create only
		delete(p, "_embedded")

		resp, err := c.deps.HTTP.Patch(ctx, c.endpoint(creds, "/api/v4/leads/"+url.PathEscape(leadID)),
			p, httpclient.WithBearer(creds.String("access_token")))
		if err != nil {
			return transportFailure(err)
		}
		if !resp.IsSuccess() {
			return remoteFailure(resp)
		}
		return integration.Success("Lead updated in AmoCRM", leadID, map[string]any{"response": resp.JSON()})
	})
}

// TestConnection reads the account info
func (c *AmoCRM) TestConnection(ctx context.Context, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opTest, nil, creds, func() *integration.Result {
		resp, err := c.deps.HTTP.Get(ctx, c.endpoint(creds, "/api/v4/account"),
			httpclient.WithBearer(creds.String("access_token")))
		if err != nil {
			return transportFailure(err)
		}
		if !resp.IsSuccess() {
			return remoteFailure(resp)
		}
		body := resp.JSON()
		name, _ := body["name"].(string)
		return integration.Success(fmt.Sprintf("Connected to AmoCRM account %s", name), "", map[string]any{"account": body})
	})
}
