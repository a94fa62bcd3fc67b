package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
)

type mockChannel struct {
	mock.Mock
	typ integration.ChannelType
}

func (m *mockChannel) Type() integration.ChannelType { return m.typ }
func (m *mockChannel) RequiredFields() []string     { return []string{"url"} }
func (m *mockChannel) ValidateCredentials(creds integration.Credentials) bool {
	return creds.Has("url")
}

func (m *mockChannel) Send(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return m.Called(ctx, l, creds).Get(0).(*integration.Result)
}

func (m *mockChannel) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return m.Called(ctx, l, creds).Get(0).(*integration.Result)
}

func (m *mockChannel) TestConnection(ctx context.Context, creds integration.Credentials) *integration.Result {
	return m.Called(ctx, creds).Get(0).(*integration.Result)
}

type fakeFactory struct {
	channels map[integration.ChannelType]integration.Channel
}

func (f *fakeFactory) Create(t integration.ChannelType) (integration.Channel, error) {
	ch, ok := f.channels[t]
	if !ok {
		return nil, integration.NewUnsupportedTypeError(t.String())
	}
	return ch, nil
}

func (f *fakeFactory) AvailableTypes() []integration.ChannelType {
	return []integration.ChannelType{integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks}
}

func (f *fakeFactory) IsSupported(name string) bool {
	t, err := integration.ParseChannelType(name)
	if err != nil {
		return false
	}
	_, ok := f.channels[t]
	return ok
}

func newTestManager() (*Manager, *mockChannel) {
	ch := &mockChannel{typ: integration.ChannelTypeWebhooks}
	f := &fakeFactory{channels: map[integration.ChannelType]integration.Channel{
		integration.ChannelTypeWebhooks: ch,
		integration.ChannelTypeAmoCRM:   &mockChannel{typ: integration.ChannelTypeAmoCRM},
	}}
	return NewManager(f, nil), ch
}

func TestManager_SendDelegatesToSelectedChannel(t *testing.T) {
	m, ch := newTestManager()
	l := lead.NewLead("John", "", "")
	creds := integration.Credentials{"url": "https://x.example.com"}
	ch.On("Send", mock.Anything, l, creds).Return(integration.Success("Lead sent", "42", nil))

	res, err := m.Send(context.Background(), " Webhooks ", l, creds)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
	id, _ := res.ExternalID()
	assert.Equal(t, "42", id)
	ch.AssertExpectations(t)
}

func TestManager_UnsupportedType(t *testing.T) {
	m, _ := newTestManager()

	_, err := m.Send(context.Background(), "salesforce", lead.NewLead("", "", ""), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, integration.ErrUnsupportedType))
	assert.Equal(t, "Integration type 'salesforce' not supported", err.Error())

	// known type that the factory does not build
	_, err = m.TestConnection(context.Background(), "telegram", nil)
	assert.True(t, errors.Is(err, integration.ErrUnsupportedType))

	assert.False(t, m.IsTypeSupported("telegram"))
	assert.True(t, m.IsTypeSupported("amocrm"))
}

func TestSelection_ZeroValueFails(t *testing.T) {
	var sel Selection
	assert.True(t, sel.IsZero())
	assert.Equal(t, integration.ChannelType(""), sel.Type())
	assert.False(t, sel.ValidateCredentials(integration.Credentials{"url": "x"}))

	for _, res := range []*integration.Result{
		sel.Send(context.Background(), lead.NewLead("", "", ""), nil),
		sel.Update(context.Background(), lead.NewLead("", "", ""), nil),
		sel.TestConnection(context.Background(), nil),
	} {
		assert.False(t, res.IsSuccess())
		assert.Equal(t, "No integration set", res.Message())
	}
}

func TestSelection_IsIndependentPerCaller(t *testing.T) {
	m, _ := newTestManager()

	a, err := m.Select("webhooks")
	require.NoError(t, err)
	b, err := m.Select("amocrm")
	require.NoError(t, err)

	assert.Equal(t, integration.ChannelTypeWebhooks, a.Type())
	assert.Equal(t, integration.ChannelTypeAmoCRM, b.Type())
}

func TestManager_Types(t *testing.T) {
	m, _ := newTestManager()
	types := m.Types()
	require.Len(t, types, 2)
	assert.Equal(t, "AmoCRM", types[0].Name)
	assert.True(t, types[0].BatchSupported)
	assert.Equal(t, []string{"url"}, types[1].RequiredFields)
}

func TestToResultDTO(t *testing.T) {
	dto := ToResultDTO(integration.FailureOf(integration.ErrorKindValidation, "Invalid credentials provided", 0, nil))
	assert.False(t, dto.Success)
	assert.Nil(t, dto.ExternalID)
	assert.Nil(t, dto.HTTPCode)
	assert.Equal(t, "validation", dto.ErrorType)
	assert.NotNil(t, dto.Data)
}
