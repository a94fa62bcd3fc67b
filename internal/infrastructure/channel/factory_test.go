package channel

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/backend/internal/domain/integration"
)

func TestFactory_CreatesEveryAdvertisedType(t *testing.T) {
	f := NewFactory(nil, testDeps(t))

	assert.Equal(t, integration.AllChannelTypes, f.AvailableTypes())
	for _, typ := range integration.AllChannelTypes {
		c, err := f.Create(typ)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, c.Type())
		assert.NotEmpty(t, c.RequiredFields(), typ)
		assert.True(t, f.IsSupported(typ.String()))
	}
}

func TestFactory_UnsupportedType(t *testing.T) {
	f := NewFactory(nil, testDeps(t))

	_, err := f.Create(integration.ChannelType("salesforce"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, integration.ErrUnsupportedType))
	assert.Equal(t, "Integration type 'salesforce' not supported", err.Error())

	_, err = f.Create(integration.ChannelType("nope"))
	assert.True(t, errors.Is(err, integration.ErrUnsupportedType))
	assert.False(t, f.IsSupported("nope"))
	assert.True(t, f.IsSupported(" AmoCRM "))
}

func TestFactory_ConfigOverrides(t *testing.T) {
	f := NewFactory(map[integration.ChannelType]TypeConfig{
		integration.ChannelTypeWebhooks: {RequiredFields: []string{"url", "secret"}},
		integration.ChannelTypeTelegram: {BaseURL: "https://tg.example.com/"},
	}, testDeps(t))
	f.getenv = func(key string) string {
		if key == "RETAILCRM_BASE_URL" {
			return "https://env.retailcrm.ru"
		}
		return ""
	}

	wh, err := f.Create(integration.ChannelTypeWebhooks)
	require.NoError(t, err)
	assert.Equal(t, []string{"url", "secret"}, wh.RequiredFields())
	assert.False(t, wh.ValidateCredentials(integration.Credentials{"url": "https://x.example.com"}))
	assert.True(t, wh.ValidateCredentials(integration.Credentials{"url": "https://x.example.com", "secret": "s"}))

	tg, _ := f.Create(integration.ChannelTypeTelegram)
	assert.Equal(t, "https://tg.example.com", tg.(*Telegram).baseURL)

	rc, _ := f.Create(integration.ChannelTypeRetailCRM)
	assert.Equal(t, "https://env.retailcrm.ru", rc.(*RetailCRM).baseURL)

	mc, _ := f.Create(integration.ChannelTypeMailchimp)
	assert.Equal(t, MailchimpBaseURL, mc.(*Mailchimp).baseURL)
}

func TestFactory_Register(t *testing.T) {
	f := NewFactory(nil, testDeps(t))
	f.Register(integration.ChannelTypeGetResponse, func(o Options, d Deps) integration.Channel {
		return NewWebhooks(o, d)
	})
	c, err := f.Create(integration.ChannelTypeGetResponse)
	require.NoError(t, err)
	assert.Equal(t, integration.ChannelTypeWebhooks, c.Type())
}

func TestStub_AlwaysFailsWithoutNetwork(t *testing.T) {
	deps := testDeps(t)
	deps.HTTP = nil

	stubs := map[integration.ChannelType]string{
		integration.ChannelTypeGetResponse: "GetResponse integration not implemented yet",
		integration.ChannelTypeSendPulse:   "SendPulse integration not implemented yet",
		integration.ChannelTypeUniSender:   "UniSender integration not implemented yet",
		integration.ChannelTypeUonTravel:   "UonTravel integration not implemented yet",
		integration.ChannelTypeLpTracker:   "LpTracker integration not implemented yet",
	}
	for typ, want := range stubs {
		t.Run(typ.String(), func(t *testing.T) {
			c := NewStub(typ, Options{}, deps)
			creds := integration.Credentials{"api_key": "k"}

			first := c.Send(context.Background(), testLead(), creds)
			second := c.Send(context.Background(), testLead(), creds)
			assert.Equal(t, first.ToMap(), second.ToMap())
			assert.False(t, first.IsSuccess())
			assert.Equal(t, want, first.Message())

			assert.Equal(t, want, c.Update(context.Background(), testLead(), creds).Message())
			assert.Equal(t, want, c.TestConnection(context.Background(), creds).Message())
		})
	}
}

// Validation failures must never reach the network.
func TestValidationFailureMakesNoNetworkCall(t *testing.T) {
	srv := newRecorder(t, http.StatusOK, `{"ok":true,"result":1,"id":1}`)
	f := NewFactory(nil, testDeps(t))

	for _, typ := range integration.BatchChannelTypes {
		c, err := f.Create(typ)
		require.NoError(t, err)

		creds := integration.Credentials{"url": "not a url", "base_url": srv.URL, "webhook_url": srv.URL}
		require.False(t, c.ValidateCredentials(creds), typ)

		for _, res := range []*integration.Result{
			c.Send(context.Background(), testLead(), creds),
			c.Update(context.Background(), testLead(), creds),
			c.TestConnection(context.Background(), creds),
		} {
			assert.False(t, res.IsSuccess())
			assert.Equal(t, integration.MessageInvalidCredentials, res.Message(), typ)
			assert.Equal(t, integration.ErrorKindValidation, res.Kind())
		}
	}
	assert.Equal(t, 0, srv.Calls())
}

func TestValidators(t *testing.T) {
	assert.True(t, URL("https://example.com/path"))
	assert.False(t, URL("ftp://example.com"))
	assert.False(t, URL("example.com"))
	assert.False(t, URL(42))

	assert.True(t, PositiveNumber(float64(1)))
	assert.True(t, PositiveNumber("12"))
	assert.False(t, PositiveNumber("0"))
	assert.False(t, PositiveNumber("abc"))
	assert.False(t, PositiveNumber(true))

	assert.True(t, NonNegativeNumber("0"))
	assert.True(t, NonNegativeNumber(2.5))
	assert.False(t, NonNegativeNumber(-0.01))

	assert.True(t, EmailList([]any{"a@x.com"}))
	assert.True(t, EmailList("a@x.com,b@y.org"))
	assert.False(t, EmailList([]any{}))
	assert.False(t, EmailList([]any{"a@x.com", 5}))
	assert.False(t, EmailList([]string{"a@x.com", "nope"}))

	lower := Matches(regexp.MustCompile(`^[a-z]+$`))
	assert.True(t, lower("abc"))
	assert.False(t, lower("aBc"))
	assert.False(t, lower(nil))

	assert.False(t, Present(""))
	assert.False(t, Present(nil))
	assert.True(t, Present(0))
}
