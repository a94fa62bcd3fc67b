package bootstrap

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leadflow/backend/internal/application/dispatch"
	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/channel"
	"github.com/leadflow/backend/internal/infrastructure/config"
	"github.com/leadflow/backend/internal/infrastructure/persistence"
	"github.com/leadflow/backend/internal/infrastructure/persistence/models"
	"github.com/leadflow/backend/internal/infrastructure/queue"
	"github.com/leadflow/backend/internal/infrastructure/telemetry"
)

type countingChannel struct {
	sends atomic.Int32
}

func (c *countingChannel) Type() integration.ChannelType { return integration.ChannelTypeWebhooks }
func (c *countingChannel) RequiredFields() []string     { return []string{"url"} }
func (c *countingChannel) ValidateCredentials(creds integration.Credentials) bool {
	return creds.Has("url")
}

func (c *countingChannel) Send(context.Context, *lead.Lead, integration.Credentials) *integration.Result {
	c.sends.Add(1)
	return integration.Success("Lead sent", "hook-1", nil)
}

func (c *countingChannel) Update(ctx context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.Send(ctx, l, creds)
}

func (c *countingChannel) TestConnection(context.Context, integration.Credentials) *integration.Result {
	return integration.Success("ok", "", nil)
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "leadflow", Env: "test"},
		Dispatch: config.DispatchConfig{
			QueueBackend:     "memory",
			Workers:          1,
			JobWorkers:       1,
			ReadBlock:        10 * time.Millisecond,
			MaxDeliveries:    3,
			MaxAttempts:      2,
			Backoff:          []time.Duration{time.Second},
			UnitTimeout:      5 * time.Second,
			JobTimeout:       5 * time.Second,
			PollInterval:     time.Hour,
			BatchSize:        10,
			StaleAfter:       10 * time.Second,
			CleanupEnabled:   false,
			IdempotencyTTL:   time.Hour,
			SupportedTypes:   []string{"webhooks"},
			ConsumerGroup:    "leadflow-test",
			CleanupRetention: time.Hour,
			CleanupInterval:  time.Hour,
		},
	}
}

// newMemoryApp assembles an App over sqlite and the memory queue, skipping
// the external connections New would open
func newMemoryApp(t *testing.T) *App {
	t.Helper()
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.LeadModel{},
		&models.OwnerModel{},
		&models.CredentialSetModel{},
		&models.DispatchUnitModel{},
		&models.BatchModel{},
	))

	app := &App{Config: testConfig(), Logger: zap.NewNop()}
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	app.Meter, err = telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{}, app.Logger)
	require.NoError(t, err)
	app.DB = &persistence.Database{DB: db}
	app.Leads = persistence.NewGormLeadRepository(db)
	app.Owners = persistence.NewGormOwnerDirectory(db)
	app.Credentials = persistence.NewGormCredentialSetRepository(db)
	app.Units = persistence.NewGormDispatchUnitRepository(db)
	app.Batches = persistence.NewGormBatchRepository(db)

	require.NoError(t, app.initQueue(ctx))
	require.NoError(t, app.initMail())
	app.initChannels()
	require.NoError(t, app.initServices(ctx))
	return app
}

func TestApp_SupportedTypes(t *testing.T) {
	tests := []struct {
		name       string
		configured []string
		want       []integration.ChannelType
		wantErr    string
	}{
		{"defaults to every batch type", nil, integration.BatchChannelTypes, ""},
		{"narrowed list", []string{"amocrm", "webhooks"}, []integration.ChannelType{integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks}, ""},
		{"unknown type", []string{"salesforce"}, nil, "dispatch.supported_types"},
		{"type outside batch dispatch", []string{"getresponse"}, nil, "cannot be auto-detected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Dispatch.SupportedTypes = tt.configured
			app := &App{Config: cfg}

			got, err := app.supportedTypes()
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsumerName(t *testing.T) {
	a := ConsumerName("worker", 0)
	b := ConsumerName("worker", 1)

	assert.True(t, strings.HasPrefix(a, "worker-"))
	assert.NotEqual(t, a, b)
}

func TestApp_MemoryBackendWiring(t *testing.T) {
	app := newMemoryApp(t)

	assert.NotNil(t, app.Memory)
	assert.Nil(t, app.Redis)
	assert.Same(t, app.Memory, app.Queue)
	assert.NotNil(t, app.Aggregator)
	assert.ElementsMatch(t, app.Factory.AvailableTypes(), app.Manager.AvailableTypes())
}

func TestApp_WorkersDeliverABatchEndToEnd(t *testing.T) {
	app := newMemoryApp(t)
	ctx := context.Background()

	hook := &countingChannel{}
	app.Factory.Register(integration.ChannelTypeWebhooks, func(channel.Options, channel.Deps) integration.Channel {
		return hook
	})

	group, err := app.Workers(ctx, "test")
	require.NoError(t, err)
	require.NoError(t, group.Start(ctx))
	t.Cleanup(func() { _ = group.Stop(context.Background()) })

	l := lead.NewLead("Anna", "anna@example.com", "+15550101")
	require.NoError(t, app.Leads.Save(ctx, l))

	batch, err := app.Orchestrator.Dispatch(ctx, l.ID, []dispatch.Target{{
		Type:        integration.ChannelTypeWebhooks,
		Credentials: integration.Credentials{"url": "https://hooks.example.com/lead"},
	}}, dispatch.DispatchOptions{AllowFailures: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, err := app.Batches.FindByID(ctx, batch.ID)
		return err == nil && b.Status == integration.BatchStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(1), hook.sends.Load())
	stored, err := app.Leads.FindByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.IntegrationStatusCompleted, stored.IntegrationStatus)
	assert.Zero(t, app.Memory.Len(queue.DLQStream(queue.UnitStream(integration.ChannelTypeWebhooks))))
}
