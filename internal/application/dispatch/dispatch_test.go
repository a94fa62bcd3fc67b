package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/domain/shared"
	"github.com/leadflow/backend/internal/infrastructure/queue"
)

func targetsOf(types ...integration.ChannelType) []Target {
	out := make([]Target, len(types))
	for i, t := range types {
		out[i] = Target{Type: t, Credentials: integration.Credentials{"url": "https://hooks.example.com"}}
	}
	return out
}

func TestOrchestrator_DispatchPublishesOneMessagePerUnit(t *testing.T) {
	h := newHarness(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks)
	l := h.addLead()

	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID,
		targetsOf(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks),
		DispatchOptions{Trigger: integration.BatchTriggerAPI, AllowFailures: true})
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, integration.BatchStatusRunning, batch.Status)

	units := h.store.unitsOf(batch.ID)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.Equal(t, integration.UnitStatusPending, u.Status)
		assert.Equal(t, 5, u.MaxAttempts)
		assert.Equal(t, 120*time.Second, u.Timeout)
		assert.Equal(t, integration.UnitModeSend, u.Mode)
	}

	msgs := h.drain(queue.UnitStream(integration.ChannelTypeAmoCRM))
	require.Len(t, msgs, 1)
	assert.Equal(t, queue.KindUnit, msgs[0].Kind)
	assert.Equal(t, batch.ID, msgs[0].BatchID)
	assert.Len(t, h.drain(queue.UnitStream(integration.ChannelTypeWebhooks)), 1)
}

func TestOrchestrator_DispatchWithoutTargets(t *testing.T) {
	h := newHarness()
	_, err := h.orchestrator.Dispatch(context.Background(), uuid.New(), nil, DispatchOptions{})
	assert.ErrorIs(t, err, integration.ErrBatchEmpty)
	assert.Zero(t, h.store.batchCount())
}

func TestOrchestrator_DefaultPolicyFromConfiguration(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	h.orchestrator.SetDefaultPolicy(integration.RetryPolicy{
		MaxAttempts: 2,
		Backoff:     []time.Duration{time.Minute},
	})
	l := h.addLead()

	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks), DispatchOptions{})
	require.NoError(t, err)

	u := h.store.unitsOf(batch.ID)[0]
	assert.Equal(t, 2, u.MaxAttempts)
	assert.Equal(t, []time.Duration{time.Minute}, u.Backoff)
	assert.Equal(t, 120*time.Second, u.Timeout, "zero timeout keeps the built-in value")

	override := integration.DefaultJobPolicy()
	batch, err = h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks), DispatchOptions{Policy: &override})
	require.NoError(t, err)
	assert.Equal(t, 3, h.store.unitsOf(batch.ID)[0].MaxAttempts)
}

func TestOrchestrator_UnpublishedUnitIsDueImmediately(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	h.orchestrator.producer = failingProducer{}
	l := h.addLead()

	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks), DispatchOptions{})
	require.NoError(t, err)

	u := h.store.unitsOf(batch.ID)[0]
	assert.Equal(t, integration.UnitStatusFailed, u.Status)
	assert.Equal(t, 0, u.Attempt)
	require.NotNil(t, u.NextRunAt)
	assert.True(t, u.IsDue(h.now))
	assert.Contains(t, u.LastError, "enqueue failed")
}

func TestProcessor_SuccessUpdatesLeadAndReportsOutcome(t *testing.T) {
	h := newHarness(integration.ChannelTypeAmoCRM)
	h.channels[integration.ChannelTypeAmoCRM].results = []*integration.Result{
		integration.Success("Lead sent to AmoCRM", "777", nil),
	}
	l := h.addLead()
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeAmoCRM), DispatchOptions{})
	require.NoError(t, err)

	h.runUnits(integration.ChannelTypeAmoCRM)

	u := h.store.unitsOf(batch.ID)[0]
	assert.Equal(t, integration.UnitStatusSucceeded, u.Status)
	assert.Equal(t, 1, u.Attempt)
	require.NotNil(t, u.ExternalID)
	assert.Equal(t, "777", *u.ExternalID)

	stored := h.store.lead(l.ID)
	require.NotNil(t, stored.ExternalID)
	assert.Equal(t, "777", *stored.ExternalID)
	entry, ok := stored.IntegrationData["amocrm"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, entry["success"])
	assert.Equal(t, "777", entry["external_id"])
	assert.Equal(t, "2026-03-01T12:00:00Z", entry["sent_at"])

	outcomes := h.drain(queue.StreamOutcomes)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Succeeded)
	assert.Equal(t, u.ID, outcomes[0].UnitID)
}

func TestProcessor_FailureSchedulesRetryFromBackoff(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	h.channels[integration.ChannelTypeWebhooks].results = []*integration.Result{
		integration.FailureOf(integration.ErrorKindRemote, "HTTP 503", 503, nil),
	}
	l := h.addLead()
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks), DispatchOptions{})
	require.NoError(t, err)

	h.runUnits(integration.ChannelTypeWebhooks)

	u := h.store.unitsOf(batch.ID)[0]
	assert.Equal(t, integration.UnitStatusFailed, u.Status)
	assert.Equal(t, "HTTP 503", u.LastError)
	require.NotNil(t, u.LastHTTPCode)
	assert.Equal(t, 503, *u.LastHTTPCode)
	require.NotNil(t, u.NextRunAt)
	assert.Equal(t, h.now.Add(10*time.Second), *u.NextRunAt)

	assert.Empty(t, h.drain(queue.StreamOutcomes))
	assert.Empty(t, h.mail.all())
}

func TestProcessor_ExhaustedUnitNotifiesOwner(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	h.channels[integration.ChannelTypeWebhooks].results = []*integration.Result{
		integration.FailureOf(integration.ErrorKindTransport, "connection refused", 0, nil),
	}
	ownerID := uuid.New()
	h.store.owners[ownerID] = &lead.Owner{ID: ownerID, Email: "owner@example.com", Locale: "en"}
	l := h.addLead(func(l *lead.Lead) { l.OwnerID = &ownerID })

	policy := integration.RetryPolicy{MaxAttempts: 2, Backoff: []time.Duration{time.Second}, Timeout: time.Second}
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks),
		DispatchOptions{Policy: &policy})
	require.NoError(t, err)
	unitID := h.store.unitsOf(batch.ID)[0].ID

	h.runUnits(integration.ChannelTypeWebhooks)
	u := h.store.unit(unitID)
	require.Equal(t, integration.UnitStatusFailed, u.Status)

	// second attempt after the scheduler released the unit
	require.NoError(t, u.Release(h.now.Add(time.Second)))
	require.NoError(t, h.store.UpdateIfStatus(context.Background(), &u, integration.UnitStatusFailed))
	require.NoError(t, h.processor.Process(context.Background(), unitID))

	u = h.store.unit(unitID)
	assert.Equal(t, integration.UnitStatusPermanentlyFailed, u.Status)
	assert.Equal(t, 2, u.Attempt)
	assert.Nil(t, u.NextRunAt)

	mails := h.mail.all()
	require.Len(t, mails, 1)
	assert.Equal(t, "owner@example.com", mails[0].Address)
	assert.Equal(t, "webhooks", mails[0].Data["integration"])
	assert.Equal(t, "connection refused", mails[0].Data["error"])
	assert.Equal(t, l.ID.String(), mails[0].Data["lead_id"])

	entry := h.store.lead(l.ID).IntegrationData["webhooks"].(map[string]any)
	assert.Equal(t, false, entry["success"])

	outcomes := h.drain(queue.StreamOutcomes)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Succeeded)
}

func TestProcessor_SkipsUnclaimableUnits(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	l := h.addLead()
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks), DispatchOptions{})
	require.NoError(t, err)
	u := h.store.unitsOf(batch.ID)[0]

	require.NoError(t, u.Start())
	require.NoError(t, h.store.UpdateIfStatus(context.Background(), &u, integration.UnitStatusPending))

	require.NoError(t, h.processor.Process(context.Background(), u.ID))
	assert.Empty(t, h.channels[integration.ChannelTypeWebhooks].recorded())

	// unknown unit is dropped without error
	assert.NoError(t, h.processor.Process(context.Background(), uuid.New()))
}

func TestProcessor_RedeliveredTerminalUnitRepublishesOutcome(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	l := h.addLead()
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks), DispatchOptions{})
	require.NoError(t, err)
	h.runUnits(integration.ChannelTypeWebhooks)
	require.Len(t, h.drain(queue.StreamOutcomes), 1)

	unitID := h.store.unitsOf(batch.ID)[0].ID
	require.NoError(t, h.processor.Process(context.Background(), unitID))

	assert.Len(t, h.channels[integration.ChannelTypeWebhooks].recorded(), 1)
	assert.Len(t, h.drain(queue.StreamOutcomes), 1)
}

func TestProcessor_StoreFailureIsReturned(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	l := h.addLead()
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks), DispatchOptions{})
	require.NoError(t, err)

	h.store.failUnitUpdate = errors.New("db down")
	err = h.processor.Process(context.Background(), h.store.unitsOf(batch.ID)[0].ID)
	assert.Error(t, err)
}

func TestProcessor_MissingLeadFailsTheAttempt(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	leadID := uuid.New()
	batch, err := h.orchestrator.Dispatch(context.Background(), leadID, targetsOf(integration.ChannelTypeWebhooks), DispatchOptions{})
	require.NoError(t, err)

	h.runUnits(integration.ChannelTypeWebhooks)

	u := h.store.unitsOf(batch.ID)[0]
	assert.Equal(t, integration.UnitStatusFailed, u.Status)
	assert.Equal(t, "Lead not found", u.LastError)
	assert.Empty(t, h.channels[integration.ChannelTypeWebhooks].recorded())
}

func TestProcessor_AbandonCountsTheLostAttempt(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	l := h.addLead()
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks), DispatchOptions{})
	require.NoError(t, err)
	u := h.store.unitsOf(batch.ID)[0]
	require.NoError(t, u.Start())
	require.NoError(t, h.store.UpdateIfStatus(context.Background(), &u, integration.UnitStatusPending))

	require.NoError(t, h.processor.Abandon(context.Background(), &u))

	stored := h.store.unit(u.ID)
	assert.Equal(t, integration.UnitStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempt)
	assert.Equal(t, "Unit timed out while running", stored.LastError)

	pending := h.store.unit(u.ID)
	pending.Status = integration.UnitStatusPending
	assert.ErrorIs(t, h.processor.Abandon(context.Background(), &pending), integration.ErrUnitStale)
}

func TestRunner_UpdateModeInjectsRecordedExternalID(t *testing.T) {
	h := newHarness(integration.ChannelTypeAmoCRM, integration.ChannelTypeMailchimp)
	l := h.addLead(func(l *lead.Lead) {
		l.IntegrationData = map[string]any{
			"amocrm":    map[string]any{"external_id": "42", "success": true},
			"mailchimp": map[string]any{"external_id": "abc123"},
		}
	})

	amo := integration.NewDispatchUnit(uuid.New(), l.ID, integration.ChannelTypeAmoCRM,
		integration.Credentials{"base_url": "https://x.amocrm.ru"}, integration.UnitModeUpdate, integration.DefaultIntegrationPolicy())
	_, _, err := h.processor.runner.Run(context.Background(), amo)
	require.NoError(t, err)

	calls := h.channels[integration.ChannelTypeAmoCRM].recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "update", calls[0].Op)
	assert.Equal(t, "42", calls[0].Creds["lead_id"])
	assert.NotContains(t, amo.Credentials, "lead_id")

	// explicit credentials win over the recorded id
	mc := integration.NewDispatchUnit(uuid.New(), l.ID, integration.ChannelTypeMailchimp,
		integration.Credentials{"member_id": "explicit"}, integration.UnitModeUpdate, integration.DefaultIntegrationPolicy())
	_, _, err = h.processor.runner.Run(context.Background(), mc)
	require.NoError(t, err)
	assert.Equal(t, "explicit", h.channels[integration.ChannelTypeMailchimp].recorded()[0].Creds["member_id"])
}

func TestRunner_UnknownChannelIsAFailedResult(t *testing.T) {
	h := newHarness()
	l := h.addLead()
	unit := integration.NewDispatchUnit(uuid.New(), l.ID, integration.ChannelTypeTelegram, nil, integration.UnitModeSend, integration.DefaultIntegrationPolicy())

	res, _, err := h.processor.runner.Run(context.Background(), unit)
	require.NoError(t, err)
	assert.False(t, res.IsSuccess())
	assert.Equal(t, "Integration type 'telegram' not supported", res.Message())
}

func TestAggregator_PartialBatchFinalizesOnce(t *testing.T) {
	h := newHarness(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks)
	h.channels[integration.ChannelTypeWebhooks].results = []*integration.Result{
		integration.Failure("HTTP 500", 500, nil),
	}
	l := h.addLead()
	policy := integration.RetryPolicy{MaxAttempts: 1, Timeout: time.Second}
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID,
		targetsOf(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks),
		DispatchOptions{AllowFailures: true, Policy: &policy})
	require.NoError(t, err)

	h.runUnits(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks)
	outcomes := h.drain(queue.StreamOutcomes)
	require.Len(t, outcomes, 2)

	for _, msg := range outcomes {
		require.NoError(t, h.aggregator.Handle(context.Background(), msg))
	}
	// redelivery of both outcomes
	for _, msg := range outcomes {
		require.NoError(t, h.aggregator.Handle(context.Background(), msg))
	}

	stored := h.store.batch(batch.ID)
	assert.Equal(t, integration.BatchStatusPartial, stored.Status)
	assert.Equal(t, 2, stored.Processed)
	assert.Equal(t, 1, stored.Succeeded)
	assert.Equal(t, 1, stored.Failed)
	assert.NotNil(t, stored.FinalizedAt)

	assert.Equal(t, lead.IntegrationStatusPartial, h.store.lead(l.ID).IntegrationStatus)

	mails := h.mail.all()
	require.Len(t, mails, len(operators))
	for i, m := range mails {
		assert.Equal(t, operators[i], m.Address)
		assert.Equal(t, "batch-failure-en", m.Template)
		assert.Equal(t, 1, m.Data["succeeded"])
		assert.Len(t, m.Data["failures"], 1)
	}
}

func TestAggregator_StatusPerOutcome(t *testing.T) {
	tests := []struct {
		name       string
		results    []*integration.Result
		wantLead   lead.IntegrationStatus
		wantMail   string
		wantStatus integration.BatchStatus
	}{
		{
			name:       "all succeeded",
			results:    []*integration.Result{integration.Success("ok", "1", nil)},
			wantLead:   lead.IntegrationStatusCompleted,
			wantMail:   "batch-success-en",
			wantStatus: integration.BatchStatusCompleted,
		},
		{
			name:       "none succeeded",
			results:    []*integration.Result{integration.Failure("down", 0, nil)},
			wantLead:   lead.IntegrationStatusFailed,
			wantMail:   "batch-critical-en",
			wantStatus: integration.BatchStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(integration.ChannelTypeWebhooks, integration.ChannelTypeTelegram)
			h.channels[integration.ChannelTypeWebhooks].results = tt.results
			h.channels[integration.ChannelTypeTelegram].results = tt.results
			l := h.addLead()
			policy := integration.RetryPolicy{MaxAttempts: 1}
			batch, err := h.orchestrator.Dispatch(context.Background(), l.ID,
				targetsOf(integration.ChannelTypeWebhooks, integration.ChannelTypeTelegram),
				DispatchOptions{AllowFailures: true, Policy: &policy})
			require.NoError(t, err)

			h.runUnits(integration.ChannelTypeWebhooks, integration.ChannelTypeTelegram)
			h.aggregate()

			assert.Equal(t, tt.wantStatus, h.store.batch(batch.ID).Status)
			assert.Equal(t, tt.wantLead, h.store.lead(l.ID).IntegrationStatus)
			mails := h.mail.all()
			require.NotEmpty(t, mails)
			assert.Equal(t, tt.wantMail, mails[len(mails)-1].Template)
		})
	}
}

func TestAggregator_StrictBatchFinishesOnFirstFailure(t *testing.T) {
	h := newHarness(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks)
	h.channels[integration.ChannelTypeWebhooks].results = []*integration.Result{integration.Failure("bad", 400, nil)}
	l := h.addLead()
	policy := integration.RetryPolicy{MaxAttempts: 1}
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID,
		targetsOf(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks),
		DispatchOptions{AllowFailures: false, Policy: &policy})
	require.NoError(t, err)

	h.runUnits(integration.ChannelTypeWebhooks)
	h.aggregate()

	stored := h.store.batch(batch.ID)
	require.NotNil(t, stored.FinalizedAt)
	assert.Equal(t, 1, stored.Processed)
	assert.Equal(t, integration.BatchStatusFailed, stored.Status)

	// the late success does not reopen the batch or notify again
	sent := len(h.mail.all())
	h.runUnits(integration.ChannelTypeAmoCRM)
	h.aggregate()
	assert.Equal(t, 1, h.store.batch(batch.ID).Processed)
	assert.Len(t, h.mail.all(), sent)
}

// racingBatches lets another writer update the batch between this
// aggregator's load and its first write
type racingBatches struct {
	batchRepo
	once sync.Once
	race func()
}

func (r *racingBatches) Update(ctx context.Context, batch *integration.Batch) error {
	r.once.Do(r.race)
	return r.batchRepo.Update(ctx, batch)
}

func TestAggregator_ConcurrentOutcomesAreAllRecorded(t *testing.T) {
	h := newHarness(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks)
	l := h.addLead()
	policy := integration.RetryPolicy{MaxAttempts: 1}
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID,
		targetsOf(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks),
		DispatchOptions{AllowFailures: true, Policy: &policy})
	require.NoError(t, err)

	h.runUnits(integration.ChannelTypeAmoCRM, integration.ChannelTypeWebhooks)
	outcomes := h.drain(queue.StreamOutcomes)
	require.Len(t, outcomes, 2)

	newAggregator := func(batches integration.BatchRepository) *Aggregator {
		a := NewAggregator(batches, h.store, leadRepo{h.store}, h.aggregator.notifier,
			h.aggregator.idempotency, shared.DefaultIdempotencyConfig(), nil, zap.NewNop())
		a.now = h.aggregator.now
		return a
	}
	other := newAggregator(batchRepo{h.store})
	racing := &racingBatches{batchRepo: batchRepo{h.store}, race: func() {
		require.NoError(t, other.Handle(context.Background(), outcomes[1]))
	}}
	require.NoError(t, newAggregator(racing).Handle(context.Background(), outcomes[0]))

	stored := h.store.batch(batch.ID)
	assert.Equal(t, 2, stored.Processed)
	assert.Equal(t, 2, stored.Succeeded)
	assert.Equal(t, integration.BatchStatusCompleted, stored.Status)
	require.NotNil(t, stored.FinalizedAt)
	assert.Equal(t, lead.IntegrationStatusCompleted, h.store.lead(l.ID).IntegrationStatus)
	assert.Len(t, h.mail.all(), len(operators))
}

func TestAggregator_UnknownBatchIsDropped(t *testing.T) {
	h := newHarness()
	err := h.aggregator.Handle(context.Background(), queue.Message{
		Kind: queue.KindOutcome, UnitID: uuid.New(), BatchID: uuid.New(), Succeeded: true,
	})
	assert.NoError(t, err)
	assert.Error(t, h.aggregator.Handle(context.Background(), queue.Message{Kind: queue.KindUnit}))
}

func TestAutoDetector_DedupsByTypeFirstWins(t *testing.T) {
	h := newHarness(integration.ChannelTypeAmoCRM)
	entityID, projectID := uuid.New(), uuid.New()
	l := h.addLead(func(l *lead.Lead) {
		l.ExternalEntityID = &entityID
		l.ExternalProjectID = &projectID
	})

	forEntity := func(s *integration.CredentialSet) { s.EntityID = &entityID }
	forProject := func(s *integration.CredentialSet) { s.ProjectID = &projectID }
	h.addCredentialSet(integration.ChannelTypeAmoCRM, integration.Credentials{"base_url": "https://first.amocrm.ru"}, forEntity)
	h.addCredentialSet(integration.ChannelTypeAmoCRM, integration.Credentials{"base_url": "https://second.amocrm.ru"}, forEntity)
	h.addCredentialSet(integration.ChannelTypeAmoCRM, integration.Credentials{"base_url": "https://project.amocrm.ru"}, forProject)
	h.addCredentialSet(integration.ChannelTypeGetResponse, integration.Credentials{"api_key": "k"}, forProject)
	disabled := h.addCredentialSet(integration.ChannelTypeWebhooks, integration.Credentials{"url": "https://x"}, forProject)
	disabled.Enabled = false

	batch, err := h.detector.Run(context.Background(), l.ID)
	require.NoError(t, err)
	require.NotNil(t, batch)

	assert.Equal(t, integration.BatchTriggerAutoDetect, batch.Trigger)
	assert.True(t, batch.AllowFailures)
	units := h.store.unitsOf(batch.ID)
	require.Len(t, units, 1)
	assert.Equal(t, integration.ChannelTypeAmoCRM, units[0].ChannelType)
	assert.Equal(t, "https://first.amocrm.ru", units[0].Credentials["base_url"])
}

func TestAutoDetector_NothingConfigured(t *testing.T) {
	h := newHarness()
	l := h.addLead()

	batch, err := h.detector.Run(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Nil(t, batch)
	assert.Zero(t, h.store.batchCount())

	_, err = h.detector.Run(context.Background(), uuid.New())
	assert.ErrorIs(t, err, lead.ErrLeadNotFound)
}

func TestAutoDetector_EnqueuePublishesJob(t *testing.T) {
	h := newHarness()
	leadID := uuid.New()
	require.NoError(t, h.detector.Enqueue(context.Background(), leadID))

	msgs := h.drain(queue.StreamJobs)
	require.Len(t, msgs, 1)
	assert.Equal(t, queue.JobAutoDetect, msgs[0].Job)
	assert.Equal(t, leadID, msgs[0].LeadID)
}

func TestResend_ExplicitTypesWithOverrides(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks, integration.ChannelTypeAmoCRM)
	projectID := uuid.New()
	l := h.addLead(func(l *lead.Lead) {
		l.ExternalProjectID = &projectID
		l.IntegrationData = map[string]any{"amocrm": map[string]any{"external_id": "9"}}
	})
	h.addCredentialSet(integration.ChannelTypeAmoCRM, integration.Credentials{"base_url": "https://a.amocrm.ru", "token": "t"},
		func(s *integration.CredentialSet) { s.ProjectID = &projectID })

	batch, err := h.resend.Resend(context.Background(), ResendRequest{
		LeadID: l.ID,
		Types:  []integration.ChannelType{"AmoCRM", "webhooks", "amocrm"},
		Credentials: map[integration.ChannelType]integration.Credentials{
			integration.ChannelTypeWebhooks: {"url": "https://override.example.com"},
		},
		Update: true,
	})
	require.NoError(t, err)
	assert.Equal(t, integration.BatchTriggerResend, batch.Trigger)

	units := h.store.unitsOf(batch.ID)
	require.Len(t, units, 2)
	assert.Equal(t, integration.ChannelTypeAmoCRM, units[0].ChannelType)
	assert.Equal(t, integration.UnitModeUpdate, units[0].Mode)
	assert.Equal(t, integration.ChannelTypeWebhooks, units[1].ChannelType)
	assert.Equal(t, integration.UnitModeSend, units[1].Mode)
	assert.Equal(t, "https://override.example.com", units[1].Credentials["url"])
}

func TestResend_Errors(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	l := h.addLead()

	_, err := h.resend.Resend(context.Background(), ResendRequest{LeadID: l.ID, Types: []integration.ChannelType{"salesforce"}})
	assert.ErrorIs(t, err, integration.ErrUnsupportedType)

	_, err = h.resend.Resend(context.Background(), ResendRequest{LeadID: l.ID, Types: []integration.ChannelType{"webhooks"}})
	assert.ErrorIs(t, err, integration.ErrCredentialSetAbsent)

	_, err = h.resend.Resend(context.Background(), ResendRequest{LeadID: uuid.New()})
	assert.ErrorIs(t, err, lead.ErrLeadNotFound)
}

func TestBulkResend_ContinuesPastFailures(t *testing.T) {
	h := newHarness()
	a, b := h.addLead(), h.addLead()
	missing := uuid.New()

	res := h.resend.BulkResend(context.Background(), BulkResendRequest{
		LeadIDs: []uuid.UUID{a.ID, missing, b.ID},
		Types:   []integration.ChannelType{integration.ChannelTypeWebhooks},
	})

	assert.Equal(t, 2, res.Dispatched)
	assert.Equal(t, 1, res.Errors)
	assert.Contains(t, res.Failures, missing.String())

	jobs := h.drain(queue.StreamJobs)
	require.Len(t, jobs, 2)
	req, err := DecodeResendRequest(jobs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, a.ID, req.LeadID)
	assert.Equal(t, []integration.ChannelType{integration.ChannelTypeWebhooks}, req.Types)
}

func TestJobHandler(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	projectID := uuid.New()
	l := h.addLead(func(l *lead.Lead) { l.ExternalProjectID = &projectID })
	h.addCredentialSet(integration.ChannelTypeWebhooks, integration.Credentials{"url": "https://x.example.com"},
		func(s *integration.CredentialSet) { s.ProjectID = &projectID })
	ctx := context.Background()

	require.NoError(t, h.jobs.Handle(ctx, queue.JobMessage(queue.JobAutoDetect, l.ID, "")))
	assert.Equal(t, 1, h.store.batchCount())

	require.NoError(t, h.resend.Enqueue(ctx, ResendRequest{LeadID: l.ID}))
	for _, msg := range h.drain(queue.StreamJobs) {
		require.NoError(t, h.jobs.Handle(ctx, msg))
	}
	assert.Equal(t, 2, h.store.batchCount())

	// dropped, not retried
	assert.NoError(t, h.jobs.Handle(ctx, queue.JobMessage(queue.JobAutoDetect, uuid.New(), "")))
	assert.NoError(t, h.jobs.Handle(ctx, queue.JobMessage(queue.JobResend, l.ID, "{not json")))
	assert.NoError(t, h.jobs.Handle(ctx, queue.JobMessage("unknown", l.ID, "")))
	assert.Equal(t, 2, h.store.batchCount())
}

func TestUnitService_RetryDeadUnit(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	h.channels[integration.ChannelTypeWebhooks].results = []*integration.Result{integration.Failure("down", 0, nil)}
	l := h.addLead()
	policy := integration.RetryPolicy{MaxAttempts: 1}
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks),
		DispatchOptions{Policy: &policy})
	require.NoError(t, err)
	h.runUnits(integration.ChannelTypeWebhooks)
	unitID := h.store.unitsOf(batch.ID)[0].ID

	dead, err := h.units.ListDead(context.Background(), UnitFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead.Total)
	assert.Equal(t, 20, dead.PageSize)
	require.Len(t, dead.Units, 1)
	assert.Equal(t, "PERMANENTLY_FAILED", dead.Units[0].Status)

	dto, err := h.units.Retry(context.Background(), unitID)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", dto.Status)
	assert.Equal(t, 0, dto.Attempt)
	assert.Len(t, h.drain(queue.UnitStream(integration.ChannelTypeWebhooks)), 1)

	_, err = h.units.Retry(context.Background(), unitID)
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_STATUS", domainErr.Code)

	_, err = h.units.Retry(context.Background(), uuid.New())
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "UNIT_NOT_FOUND", domainErr.Code)
}

func TestUnitService_WithoutLogger(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks)
	h.channels[integration.ChannelTypeWebhooks].results = []*integration.Result{integration.Failure("down", 0, nil)}
	l := h.addLead()
	policy := integration.RetryPolicy{MaxAttempts: 1}
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID, targetsOf(integration.ChannelTypeWebhooks),
		DispatchOptions{Policy: &policy})
	require.NoError(t, err)
	h.runUnits(integration.ChannelTypeWebhooks)

	svc := NewUnitService(h.store, batchRepo{h.store}, h.orchestrator, nil)
	assert.NotPanics(t, func() {
		dto, err := svc.Retry(context.Background(), h.store.unitsOf(batch.ID)[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "PENDING", dto.Status)
	})
}

func TestUnitService_BatchAndStats(t *testing.T) {
	h := newHarness(integration.ChannelTypeWebhooks, integration.ChannelTypeAmoCRM)
	l := h.addLead()
	batch, err := h.orchestrator.Dispatch(context.Background(), l.ID,
		targetsOf(integration.ChannelTypeWebhooks, integration.ChannelTypeAmoCRM), DispatchOptions{AllowFailures: true})
	require.NoError(t, err)
	h.runUnits(integration.ChannelTypeWebhooks)

	dto, err := h.units.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, dto.Total)
	require.Len(t, dto.Units, 2)
	assert.Equal(t, "SUCCEEDED", dto.Units[0].Status)
	assert.Equal(t, "PENDING", dto.Units[1].Status)

	stats, err := h.units.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(2), stats.Total)

	_, err = h.units.GetBatch(context.Background(), uuid.New())
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "BATCH_NOT_FOUND", domainErr.Code)
}

func TestNotifier_NeverFails(t *testing.T) {
	h := newHarness()
	h.mail.err = errors.New("smtp down")
	ownerID := uuid.New()
	h.store.owners[ownerID] = &lead.Owner{ID: ownerID, Email: "owner@example.com"}
	l := h.addLead(func(l *lead.Lead) { l.OwnerID = &ownerID })
	unit := integration.NewDispatchUnit(uuid.New(), l.ID, integration.ChannelTypeEmail, nil, "", integration.DefaultIntegrationPolicy())
	notifier := h.processor.notifier

	assert.NotPanics(t, func() {
		notifier.UnitFailed(context.Background(), l, unit)
		notifier.UnitFailed(context.Background(), h.addLead(), unit)
		notifier.UnitFailed(context.Background(), nil, unit)
		notifier.BatchFinished(context.Background(), integration.NewBatch(l.ID, integration.BatchTriggerAPI, 1, true), nil)
	})
	assert.Empty(t, h.mail.all())
}
