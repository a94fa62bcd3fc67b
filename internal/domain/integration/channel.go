package integration

import (
	"context"

	"github.com/leadflow/backend/internal/domain/lead"
)

// Channel is the port implemented by every outbound integration.
// Operations never return errors: every outcome, including transport and
// remote failures, is reported through the Result.
type Channel interface {
	// Type returns the channel type code
	Type() ChannelType

	// RequiredFields lists the credential keys that must be present
	RequiredFields() []string

	// ValidateCredentials checks presence and format without network access
	ValidateCredentials(creds Credentials) bool

	// Send creates the lead in the remote system
	Send(ctx context.Context, l *lead.Lead, creds Credentials) *Result

	// Update modifies a previously sent lead
	Update(ctx context.Context, l *lead.Lead, creds Credentials) *Result

	// TestConnection verifies credentials against the remote system
	TestConnection(ctx context.Context, creds Credentials) *Result
}

// MailSender delivers templated mail to one address.
type MailSender interface {
	Send(ctx context.Context, address, templateID string, data map[string]any) (bool, error)
}

// Translator resolves localized strings.
type Translator interface {
	// Translate returns the translation of key in locale with {param}
	// placeholders substituted. Missing keys yield the key itself.
	Translate(key string, params map[string]string, locale string) string

	// Has reports whether a translation exists for key in locale
	Has(key, locale string) bool

	// DefaultLocale returns the fallback locale
	DefaultLocale() string
}

// TemplateResolver maps a logical mail template code to a provider template
// identifier for a locale.
type TemplateResolver interface {
	EmailTemplate(code, locale string) (string, bool)
}
