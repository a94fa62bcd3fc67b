package handler

import (
	"context"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leadflow/backend/internal/application/dispatch"
	appintegration "github.com/leadflow/backend/internal/application/integration"
	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/persistence"
	"github.com/leadflow/backend/internal/infrastructure/persistence/models"
	"github.com/leadflow/backend/internal/infrastructure/queue"
)

// stubChannel answers every operation with a fixed result
type stubChannel struct {
	mu     sync.Mutex
	typ    integration.ChannelType
	result *integration.Result
	ops    []string
	leads  []uuid.UUID
}

func (c *stubChannel) Type() integration.ChannelType { return c.typ }
func (c *stubChannel) RequiredFields() []string     { return []string{"url"} }
func (c *stubChannel) ValidateCredentials(creds integration.Credentials) bool {
	return creds.Has("url")
}

func (c *stubChannel) record(op string, l *lead.Lead, creds integration.Credentials) *integration.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
	if l != nil {
		c.leads = append(c.leads, l.ID)
	}
	if !c.ValidateCredentials(creds) {
		return integration.InvalidCredentials()
	}
	if c.result == nil {
		return integration.Success("Lead sent", "ext-1", nil)
	}
	return c.result
}

func (c *stubChannel) Send(_ context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.record("send", l, creds)
}

func (c *stubChannel) Update(_ context.Context, l *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.record("update", l, creds)
}

func (c *stubChannel) TestConnection(_ context.Context, creds integration.Credentials) *integration.Result {
	return c.record("test", nil, creds)
}

type stubFactory struct {
	channels map[integration.ChannelType]*stubChannel
}

func (f *stubFactory) Create(t integration.ChannelType) (integration.Channel, error) {
	ch, ok := f.channels[t]
	if !ok {
		return nil, integration.NewUnsupportedTypeError(t.String())
	}
	return ch, nil
}

func (f *stubFactory) AvailableTypes() []integration.ChannelType {
	out := make([]integration.ChannelType, 0, len(f.channels))
	for _, t := range integration.AllChannelTypes {
		if _, ok := f.channels[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (f *stubFactory) IsSupported(name string) bool {
	t, err := integration.ParseChannelType(name)
	if err != nil {
		return false
	}
	_, ok := f.channels[t]
	return ok
}

// testEnv wires the HTTP handlers to sqlite repositories, the memory queue
// and stub channels
type testEnv struct {
	db          *gorm.DB
	queue       *queue.Memory
	webhooks    *stubChannel
	leads       *persistence.GormLeadRepository
	credentials *persistence.GormCredentialSetRepository
	units       *persistence.GormDispatchUnitRepository
	batches     *persistence.GormBatchRepository

	integrations *IntegrationHandler
	leadHandler  *LeadHandler
	dispatch     *DispatchHandler
	router       *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

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

	env := &testEnv{
		db:          db,
		queue:       queue.NewMemory(64),
		webhooks:    &stubChannel{typ: integration.ChannelTypeWebhooks},
		leads:       persistence.NewGormLeadRepository(db),
		credentials: persistence.NewGormCredentialSetRepository(db),
		units:       persistence.NewGormDispatchUnitRepository(db),
		batches:     persistence.NewGormBatchRepository(db),
	}
	t.Cleanup(func() { _ = env.queue.Close() })

	factory := &stubFactory{channels: map[integration.ChannelType]*stubChannel{
		integration.ChannelTypeWebhooks: env.webhooks,
		integration.ChannelTypeAmoCRM:   {typ: integration.ChannelTypeAmoCRM},
	}}
	manager := appintegration.NewManager(factory, nil)

	orchestrator := dispatch.NewOrchestrator(env.batches, env.units, env.queue, nil, nil)
	detector := dispatch.NewAutoDetector(env.leads, env.credentials, orchestrator, env.queue, factory.AvailableTypes(), nil)
	resend := dispatch.NewResendService(env.leads, detector, orchestrator, env.queue, nil)
	units := dispatch.NewUnitService(env.units, env.batches, orchestrator, zap.NewNop())

	env.integrations = NewIntegrationHandler(manager, env.leads)
	env.leadHandler = NewLeadHandler(env.leads, detector, resend)
	env.dispatch = NewDispatchHandler(units)

	r := gin.New()
	api := r.Group("/api/v1")
	api.GET("/integrations/types", env.integrations.ListTypes)
	api.POST("/integrations/:type/test", env.integrations.TestConnection)
	api.POST("/integrations/:type/send", env.integrations.Send)
	api.POST("/leads/resend", env.leadHandler.BulkResend)
	api.POST("/leads/:id/dispatch", env.leadHandler.Dispatch)
	api.POST("/leads/:id/resend", env.leadHandler.Resend)
	api.GET("/batches/:id", env.dispatch.GetBatch)
	api.GET("/dispatch/dead", env.dispatch.ListDeadUnits)
	api.GET("/dispatch/stats", env.dispatch.GetStats)
	api.POST("/dispatch/units/:id/retry", env.dispatch.RetryUnit)
	env.router = r

	return env
}

// seedLead stores a lead owned by a fresh entity and returns both
func (e *testEnv) seedLead(t *testing.T) (*lead.Lead, uuid.UUID) {
	t.Helper()
	l := lead.NewLead("Ivan", "ivan@example.com", "+79990000000")
	entityID := uuid.New()
	l.ExternalEntityID = &entityID
	require.NoError(t, e.leads.Save(context.Background(), l))
	return l, entityID
}

// seedWebhookSet stores an enabled webhook credential set for the entity
func (e *testEnv) seedWebhookSet(t *testing.T, entityID uuid.UUID) {
	t.Helper()
	set := integration.NewCredentialSet("hooks", integration.ChannelTypeWebhooks,
		integration.Credentials{"url": "https://hooks.example.com/lead"})
	set.EntityID = &entityID
	require.NoError(t, e.credentials.Save(context.Background(), set))
}
