package channel

import (
	"os"
	"sort"
	"strings"

	"github.com/leadflow/backend/internal/domain/integration"
)

// Constructor builds a channel from resolved options
type Constructor func(opts Options, deps Deps) integration.Channel

// TypeConfig is the configured override for one channel type
type TypeConfig struct {
	BaseURL        string
	RequiredFields []string
}

var defaultBaseURLs = map[integration.ChannelType]string{
	integration.ChannelTypeTelegram:  "https://api.telegram.org",
	integration.ChannelTypeMailchimp: MailchimpBaseURL,
	integration.ChannelTypeRetailCRM: "https://demo.retailcrm.ru",
}

// Factory maps channel types to constructors and injects shared
// collaborators
type Factory struct {
	registry map[integration.ChannelType]Constructor
	configs  map[integration.ChannelType]TypeConfig
	deps     Deps
	getenv   func(string) string
}

// NewFactory creates a factory with every built-in channel registered
func NewFactory(configs map[integration.ChannelType]TypeConfig, deps Deps) *Factory {
	f := &Factory{
		registry: make(map[integration.ChannelType]Constructor),
		configs:  configs,
		deps:     deps,
		getenv:   os.Getenv,
	}
	f.Register(integration.ChannelTypeEmail, func(o Options, d Deps) integration.Channel { return NewEmail(o, d) })
	f.Register(integration.ChannelTypeAmoCRM, func(o Options, d Deps) integration.Channel { return NewAmoCRM(o, d) })
	f.Register(integration.ChannelTypeBitrix24, func(o Options, d Deps) integration.Channel { return NewBitrix24(o, d) })
	f.Register(integration.ChannelTypeTelegram, func(o Options, d Deps) integration.Channel { return NewTelegram(o, d) })
	f.Register(integration.ChannelTypeWebhooks, func(o Options, d Deps) integration.Channel { return NewWebhooks(o, d) })
	f.Register(integration.ChannelTypeRetailCRM, func(o Options, d Deps) integration.Channel { return NewRetailCRM(o, d) })
	f.Register(integration.ChannelTypeMailchimp, func(o Options, d Deps) integration.Channel { return NewMailchimp(o, d) })
	for t := range stubRequiredFields {
		stubType := t
		f.Register(stubType, func(o Options, d Deps) integration.Channel { return NewStub(stubType, o, d) })
	}
	return f
}

// Register adds or replaces the constructor for t
func (f *Factory) Register(t integration.ChannelType, ctor Constructor) {
	f.registry[t] = ctor
}

// Create builds the channel for t
func (f *Factory) Create(t integration.ChannelType) (integration.Channel, error) {
	ctor, ok := f.registry[t]
	if !ok {
		return nil, integration.NewUnsupportedTypeError(string(t))
	}
	return ctor(f.options(t), f.deps), nil
}

// AvailableTypes returns the registered types in sorted order
func (f *Factory) AvailableTypes() []integration.ChannelType {
	types := make([]integration.ChannelType, 0, len(f.registry))
	for t := range f.registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsSupported reports whether name is a registered type
func (f *Factory) IsSupported(name string) bool {
	_, ok := f.registry[integration.ChannelType(strings.ToLower(strings.TrimSpace(name)))]
	return ok
}

// options resolves the base URL (config, then <TYPE>_BASE_URL from the
// environment, then the built-in default) and the required fields
func (f *Factory) options(t integration.ChannelType) Options {
	cfg := f.configs[t]
	opts := Options{BaseURL: cfg.BaseURL, RequiredFields: cfg.RequiredFields}
	if opts.BaseURL == "" {
		opts.BaseURL = f.getenv(strings.ToUpper(t.String()) + "_BASE_URL")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURLs[t]
	}
	return opts
}
