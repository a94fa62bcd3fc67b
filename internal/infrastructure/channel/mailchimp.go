package channel

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/httpclient"
)

// MailchimpBaseURL is the default API root; {server_prefix} is substituted
const MailchimpBaseURL = "https://{server_prefix}.api.mailchimp.com/3.0"

var serverPrefixPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Mailchimp subscribes the lead to an audience list
type Mailchimp struct {
	base
}

// NewMailchimp creates the Mailchimp channel
func NewMailchimp(opts Options, deps Deps) *Mailchimp {
	if opts.BaseURL == "" {
		opts.BaseURL = MailchimpBaseURL
	}
	return &Mailchimp{base: newBase(integration.ChannelTypeMailchimp, opts, deps,
		[]string{"api_key", "server_prefix", "list_id"},
		map[string]FieldValidator{"server_prefix": Matches(serverPrefixPattern)},
		nil,
	)}
}

func (c *Mailchimp) endpoint(creds integration.Credentials, path string) string {
	return strings.ReplaceAll(c.baseURL, "{server_prefix}", creds.String("server_prefix")) + path
}

func (c *Mailchimp) auth(creds integration.Credentials) httpclient.RequestOption {
	return httpclient.WithBasicAuth("leadflow", creds.String("api_key"))
}

func (c *Mailchimp) members(creds integration.Credentials) string {
	return c.endpoint(creds, "/lists/"+url.PathEscape(creds.String("list_id"))+"/members")
}

// Send adds the member to the list; the external id is the member id
func (c *Mailchimp) Send(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opSend, l, creds, func() *integration.Result {
		resp, err := c.deps.HTTP.Post(ctx, c.members(creds), c.mapNested(l, creds, fieldmap.SectionMailchimp), c.auth(creds))
		if err != nil {
			return transportFailure(err)
		}
		if !resp.IsSuccess() {
			return remoteFailure(resp)
		}
		id, _ := lookup(resp.JSON(), "id")
		return integration.Success("Lead subscribed in Mailchimp", idString(id), nil)
	})
}

// Update patches the member named by the member_id credential
func (c *Mailchimp) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opUpd, l, creds, func() *integration.Result {
		memberID := creds.String("member_id")
		if memberID == "" {
			return integration.FailureOf(integration.ErrorKindValidation, "Mailchimp member_id is required for update", 0, nil)
		}
		resp, err := c.deps.HTTP.Patch(ctx, c.members(creds)+"/"+url.PathEscape(memberID),
			c.mapNested(l, creds, fieldmap.SectionMailchimp), c.auth(creds))
		if err != nil {
			return transportFailure(err)
		}
		if !resp.IsSuccess() {
			return remoteFailure(resp)
		}
		return integration.Success("Lead updated in Mailchimp", memberID, nil)
	})
}

// TestConnection calls the ping endpoint
func (c *Mailchimp) TestConnection(ctx context.Context, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opTest, nil, creds, func() *integration.Result {
		resp, err := c.deps.HTTP.Get(ctx, c.endpoint(creds, "/ping"), c.auth(creds))
		if err != nil {
			return transportFailure(err)
		}
		if !resp.IsSuccess() {
			return remoteFailure(resp)
		}
		return integration.Success("Connected to Mailchimp", "", nil)
	})
}
