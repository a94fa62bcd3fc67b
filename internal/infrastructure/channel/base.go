// Package channel holds the concrete integration channels and the registry
// that builds them by type.
package channel

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/httpclient"
	"github.com/leadflow/backend/internal/infrastructure/logger"
)

// Deps are the collaborators shared by every channel
type Deps struct {
	HTTP       *httpclient.Client
	Mapper     *fieldmap.Mapper
	Mail       integration.MailSender
	Translator integration.Translator
	Templates  integration.TemplateResolver
	Logger     *zap.Logger
}

// Options are the per-type settings resolved by the factory
type Options struct {
	BaseURL        string
	RequiredFields []string
}

type operation string

const (
	opSend operation = "send"
	opUpd  operation = "update"
	opTest operation = "test_connection"
)

// base carries what every channel shares: its type, required fields with
// their validators, and result logging.
type base struct {
	channelType integration.ChannelType
	required    []string
	validators  map[string]FieldValidator
	// optional fields are only checked when present
	optional map[string]FieldValidator
	baseURL  string
	deps     Deps
	logger   *zap.Logger
}

func newBase(t integration.ChannelType, opts Options, deps Deps, required []string, validators, optional map[string]FieldValidator) base {
	if len(opts.RequiredFields) > 0 {
		required = opts.RequiredFields
	}
	l := deps.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return base{
		channelType: t,
		required:    append([]string(nil), required...),
		validators:  validators,
		optional:    optional,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		deps:        deps,
		logger:      l.Named("channel").With(zap.String("channel", t.String())),
	}
}

// Type returns the channel type
func (b *base) Type() integration.ChannelType {
	return b.channelType
}

// RequiredFields returns the credential keys that must be present
func (b *base) RequiredFields() []string {
	return append([]string(nil), b.required...)
}

// ValidateCredentials fails closed when a required key is absent or fails
// its validator. Unknown keys are ignored.
func (b *base) ValidateCredentials(creds integration.Credentials) bool {
	for _, field := range b.required {
		v, ok := creds[field]
		if !ok || !Present(v) {
			return false
		}
		if check, ok := b.validators[field]; ok && !check(v) {
			return false
		}
	}
	for field, check := range b.optional {
		if creds.Has(field) && !check(creds[field]) {
			return false
		}
	}
	return true
}

// guard validates credentials, runs fn and logs the outcome. A panic in fn
// is converted into a failed result.
func (b *base) guard(ctx context.Context, op operation, l *lead.Lead, creds integration.Credentials, fn func() *integration.Result) (res *integration.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = integration.FailureOf(integration.ErrorKindTransport, fmt.Sprintf("unexpected error: %v", r), 0, nil)
			b.log(ctx, op, l, res)
		}
	}()

	if !b.ValidateCredentials(creds) {
		res = integration.InvalidCredentials()
	} else {
		res = fn()
	}
	b.log(ctx, op, l, res)
	return res
}

func (b *base) log(ctx context.Context, op operation, l *lead.Lead, res *integration.Result) {
	fields := []zap.Field{zap.String("operation", string(op))}
	if l != nil {
		fields = append(fields, zap.String("lead_id", l.ID.String()))
	}
	cl := logger.WithLogger(ctx, b.logger)
	if res.IsSuccess() {
		if id, ok := res.ExternalID(); ok {
			fields = append(fields, zap.String("external_id", id))
		}
		cl.Info("Integration call succeeded", fields...)
		return
	}
	fields = append(fields, zap.String("error", res.Message()), zap.String("error_type", string(res.Kind())))
	if code, ok := res.HTTPCode(); ok {
		fields = append(fields, zap.Int("http_code", code))
	}
	cl.Warn("Integration call failed", fields...)
}

func (b *base) mapNested(l *lead.Lead, creds integration.Credentials, section string) map[string]any {
	if b.deps.Mapper == nil {
		return map[string]any{}
	}
	return b.deps.Mapper.MapNested(l, creds, b.channelType, section)
}

func (b *base) mapFlat(l *lead.Lead, creds integration.Credentials, section string) map[string]any {
	if b.deps.Mapper == nil {
		return map[string]any{}
	}
	return b.deps.Mapper.Map(l, creds, b.channelType, section)
}

func transportFailure(err error) *integration.Result {
	return integration.FailureOf(integration.ErrorKindTransport, err.Error(), 0, nil)
}

func remoteFailure(resp *httpclient.Response) *integration.Result {
	data := map[string]any{}
	if body := resp.JSON(); body != nil {
		data["response"] = body
	}
	return integration.FailureOf(integration.ErrorKindRemote, errorMessage(resp), resp.StatusCode, data)
}

var errorMessageKeys = []string{"error_description", "errorMsg", "detail", "description", "title", "message", "error"}

// errorMessage extracts the provider error text from a response body
func errorMessage(resp *httpclient.Response) string {
	if body := resp.JSON(); body != nil {
		for _, key := range errorMessageKeys {
			if s, ok := body[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// lookup walks a decoded JSON body by keys and array indexes
func lookup(body any, path ...any) (any, bool) {
	cur := body
	for _, p := range path {
		switch key := p.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			if cur, ok = m[key]; !ok {
				return nil, false
			}
		case int:
			arr, ok := cur.([]any)
			if !ok || key >= len(arr) {
				return nil, false
			}
			cur = arr[key]
		}
	}
	return cur, cur != nil
}

// idString renders a JSON id (usually float64) without decimals
func idString(v any) string {
	return integration.Credentials{"v": v}.String("v")
}
