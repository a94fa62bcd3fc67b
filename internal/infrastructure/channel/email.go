package channel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/locale"
)

// Email delivers a templated notification to every configured address
type Email struct {
	base
}

// NewEmail creates the email channel
func NewEmail(opts Options, deps Deps) *Email {
	return &Email{base: newBase(integration.ChannelTypeEmail, opts, deps,
		[]string{"emails"},
		map[string]FieldValidator{"emails": EmailList},
		nil,
	)}
}

// Send mails the lead to each address; it succeeds if at least one
// delivery succeeded
func (c *Email) Send(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opSend, l, creds, func() *integration.Result {
		if c.deps.Mail == nil {
			return integration.FailureOf(integration.ErrorKindTransport, "Mail sender is not configured", 0, nil)
		}
		loc := c.locale(l, creds)
		templateID, ok := c.template(loc)
		if !ok {
			return integration.FailureOf(integration.ErrorKindValidation,
				fmt.Sprintf("Email template not found for locale %s", loc), 0, nil)
		}

		data := c.mapNested(l, creds, fieldmap.SectionEmail)
		addresses, _ := stringList(creds["emails"])

		sent := 0
		failed := []any{}
		for _, addr := range addresses {
			ok, err := c.deps.Mail.Send(ctx, addr, templateID, data)
			if err != nil || !ok {
				entry := map[string]any{"email": addr}
				if err != nil {
					entry["error"] = err.Error()
					c.logger.Warn("Email delivery failed", zap.String("lead_id", l.ID.String()), zap.Error(err))
				}
				failed = append(failed, entry)
				continue
			}
			sent++
		}

		result := map[string]any{"sent": sent, "failed": failed}
		if sent == 0 {
			return integration.FailureOf(integration.ErrorKindTransport, "Failed to send lead to any email", 0, result)
		}
		return integration.Success(fmt.Sprintf("Lead sent to %d emails", sent), "", result)
	})
}

// Update re-sends the notification
func (c *Email) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.Send(ctx, l, creds)
}

// TestConnection checks the credentials and that a template is available
func (c *Email) TestConnection(ctx context.Context, creds integration.Credentials) *integration.Result {
	return c.guard(ctx, opTest, nil, creds, func() *integration.Result {
		loc := creds.String("locale")
		if _, ok := c.template(loc); !ok {
			return integration.FailureOf(integration.ErrorKindValidation, "Email template is not configured", 0, nil)
		}
		return integration.Success("Email configuration is valid", "", nil)
	})
}

func (c *Email) locale(l *lead.Lead, creds integration.Credentials) string {
	if loc := creds.String("locale"); loc != "" {
		return loc
	}
	if l.Locale != "" {
		return l.Locale
	}
	if c.deps.Translator != nil {
		return c.deps.Translator.DefaultLocale()
	}
	return ""
}

func (c *Email) template(loc string) (string, bool) {
	if c.deps.Templates == nil {
		return "", false
	}
	return c.deps.Templates.EmailTemplate(locale.TemplateNewLead, loc)
}
