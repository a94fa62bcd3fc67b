package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name      string
		succeeded int
		failed    int
		want      lead.IntegrationStatus
	}{
		{"all succeeded", 3, 0, lead.IntegrationStatusCompleted},
		{"all failed", 0, 3, lead.IntegrationStatusFailed},
		{"mixed", 2, 1, lead.IntegrationStatusPartial},
		{"single failure", 0, 1, lead.IntegrationStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateStatus(tt.succeeded, tt.failed))
		})
	}
}

func TestBatch_Record(t *testing.T) {
	b := NewBatch(uuid.New(), BatchTriggerAutoDetect, 3, true)
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	assert.True(t, b.Record(u1, true))
	assert.False(t, b.Record(u1, false), "duplicate outcome must be ignored")
	assert.Equal(t, 1, b.Processed)
	assert.False(t, b.IsFinished())

	assert.True(t, b.Record(u2, false))
	assert.False(t, b.IsFinished(), "failures are allowed")
	assert.True(t, b.Record(u3, true))
	assert.True(t, b.IsFinished())

	assert.Equal(t, 2, b.Succeeded)
	assert.Equal(t, 1, b.Failed)
	assert.Equal(t, lead.IntegrationStatusPartial, b.LeadStatus())
}

func TestBatch_FinishesOnFirstFailureWhenFailuresNotAllowed(t *testing.T) {
	b := NewBatch(uuid.New(), BatchTriggerAPI, 3, false)

	b.Record(uuid.New(), true)
	assert.False(t, b.IsFinished())
	b.Record(uuid.New(), false)
	assert.True(t, b.IsFinished())
}

func TestBatch_Finalize(t *testing.T) {
	b := NewBatch(uuid.New(), BatchTriggerResend, 2, true)
	b.Record(uuid.New(), false)
	b.Record(uuid.New(), false)

	status, err := b.Finalize(time.Now())
	require.NoError(t, err)
	assert.Equal(t, lead.IntegrationStatusFailed, status)
	assert.Equal(t, BatchStatusFailed, b.Status)
	assert.True(t, b.IsFinalized())

	_, err = b.Finalize(time.Now())
	assert.ErrorIs(t, err, ErrBatchFinalized)
	assert.False(t, b.Record(uuid.New(), true), "finalized batch accepts no outcomes")
}
