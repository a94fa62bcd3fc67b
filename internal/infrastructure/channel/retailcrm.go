package channel

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/httpclient"
)

const retailDefaultSite = "default"

// RetailCRM creates orders through the RetailCRM v5 API
type RetailCRM struct {
	base
}

// NewRetailCRM creates the RetailCRM channel
func NewRetailCRM(opts Options, deps Deps) *RetailCRM {
	return &RetailCRM{base: newBase(integration.ChannelTypeRetailCRM, opts, deps,
		[]string{"api_key"},
		nil,
		map[string]FieldValidator{"base_url": URL},
	)}
}

func (c *RetailCRM) endpoint(creds integration.Credentials, path string) string {
	root := strings.TrimRight(creds.String("base_url"), "/")
	if root == "" {
		root = c.baseURL
	}
	return root + "/api/v5" + path
}

func (c *RetailCRM) form(creds integration.Credentials, order map[string]any) (url.Values, error) {
	encoded, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	site := creds.String("site")
	if site == "" {
		site = retailDefaultSite
	}
	return url.Values{
		"apiKey": {creds.String("api_key")},
		"site":   {site},
		"order":  {string(encoded)},
	}, nil
}

// Send creates an order; success requires an order id in the response
func (c *RetailCRM) Send(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opSend, l, creds, func() *integration.Result {
		form, err := c.form(creds, c.mapNested(l, creds, fieldmap.SectionRetailCRM))
		if err != nil {
			return integration.FailureOf(integration.ErrorKindValidation, err.Error(), 0, nil)
		}
		resp, err := c.deps.HTTP.PostForm(ctx, c.endpoint(creds, "/orders/create"), form)
		if err != nil {
			return transportFailure(err)
		}
		id, ok := lookup(resp.JSON(), "id")
		if !resp.IsSuccess() || !ok {
			return remoteFailure(resp)
		}
		return integration.Success("Lead sent to RetailCRM", idString(id), map[string]any{"response": resp.JSON()})
	})
}

// Update edits the order by its external id
func (c *RetailCRM) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opUpd, l, creds, func() *integration.Result {
		order := c.mapNested(l, creds, fieldmap.SectionRetailCRM)
		externalID := creds.String("external_id")
		if externalID == "" {
			externalID = integration.Credentials(order).String("externalId")
		}
		if externalID == "" {
			return integration.FailureOf(integration.ErrorKindValidation, "RetailCRM external_id is required for update", 0, nil)
		}

		form, err := c.form(creds, order)
		if err != nil {
			return integration.FailureOf(integration.ErrorKindValidation, err.Error(), 0, nil)
		}
		form.Set("by", "externalId")

		resp, err := c.deps.HTTP.PostForm(ctx, c.endpoint(creds, "/orders/"+url.PathEscape(externalID)+"/edit"), form)
		if err != nil {
			return transportFailure(err)
		}
		if !resp.IsSuccess() || !retailOK(resp) {
			return remoteFailure(resp)
		}
		return integration.Success("Lead updated in RetailCRM", externalID, map[string]any{"response": resp.JSON()})
	})
}

// TestConnection lists users; the absence of errorMsg means success
func (c *RetailCRM) TestConnection(ctx context.Context, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opTest, nil, creds, func() *integration.Result {
		q := url.Values{"apiKey": {creds.String("api_key")}, "limit": {"20"}}
		resp, err := c.deps.HTTP.Get(ctx, c.endpoint(creds, "/users")+"?"+q.Encode(), httpclient.WithHeader("Accept", "application/json"))
		if err != nil {
			return transportFailure(err)
		}
		if _, hasError := resp.JSON()["errorMsg"]; hasError || !resp.IsSuccess() {
			return remoteFailure(resp)
		}
		return integration.Success("Connected to RetailCRM", "", nil)
	})
}

func retailOK(resp *httpclient.Response) bool {
	ok, present := resp.JSON()["success"].(bool)
	return !present || ok
}
