package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// UnitStatus represents the status of a dispatch unit
type UnitStatus string

const (
	UnitStatusPending           UnitStatus = "PENDING"
	UnitStatusRunning           UnitStatus = "RUNNING"
	UnitStatusSucceeded         UnitStatus = "SUCCEEDED"
	UnitStatusFailed            UnitStatus = "FAILED"
	UnitStatusPermanentlyFailed UnitStatus = "PERMANENTLY_FAILED"
)

// IsTerminal returns true for statuses that will not change without an
// explicit operator action
func (s UnitStatus) IsTerminal() bool {
	return s == UnitStatusSucceeded || s == UnitStatusPermanentlyFailed
}

// UnitMode selects which channel operation a unit performs
type UnitMode string

const (
	UnitModeSend   UnitMode = "send"
	UnitModeUpdate UnitMode = "update"
)

// RetryPolicy bounds attempts and spacing of a unit
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	Timeout     time.Duration
}

// DefaultIntegrationPolicy is the policy of channel delivery units
func DefaultIntegrationPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: []time.Duration{
			10 * time.Second,
			30 * time.Second,
			60 * time.Second,
			300 * time.Second,
			3600 * time.Second,
		},
		Timeout: 120 * time.Second,
	}
}

// DefaultJobPolicy is the policy of orchestration jobs (auto-detection, resend)
func DefaultJobPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second},
		Timeout:     300 * time.Second,
	}
}

// Delay returns the wait before the retry that follows the given attempt
// (1-based). The last configured delay repeats.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 || attempt <= 0 {
		return 0
	}
	if attempt > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt-1]
}

// DispatchUnit is one retryable delivery of a lead over one channel.
type DispatchUnit struct {
	ID           uuid.UUID
	BatchID      uuid.UUID
	LeadID       uuid.UUID
	ChannelType  ChannelType
	Mode         UnitMode
	Credentials  Credentials
	Status       UnitStatus
	Attempt      int
	MaxAttempts  int
	Backoff      []time.Duration
	Timeout      time.Duration
	NextRunAt    *time.Time
	LastError    string
	LastHTTPCode *int
	ExternalID   *string
	ResultData   map[string]any
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDispatchUnit creates a pending unit
func NewDispatchUnit(batchID, leadID uuid.UUID, t ChannelType, creds Credentials, mode UnitMode, policy RetryPolicy) *DispatchUnit {
	now := time.Now()
	if mode == "" {
		mode = UnitModeSend
	}
	return &DispatchUnit{
		ID:          uuid.New(),
		BatchID:     batchID,
		LeadID:      leadID,
		ChannelType: t,
		Mode:        mode,
		Credentials: creds.Clone(),
		Status:      UnitStatusPending,
		MaxAttempts: policy.MaxAttempts,
		Backoff:     policy.Backoff,
		Timeout:     policy.Timeout,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Policy returns the retry policy stored on the unit
func (u *DispatchUnit) Policy() RetryPolicy {
	return RetryPolicy{MaxAttempts: u.MaxAttempts, Backoff: u.Backoff, Timeout: u.Timeout}
}

// Start moves a pending unit to running and counts the attempt
func (u *DispatchUnit) Start() error {
	if u.Status != UnitStatusPending {
		return ErrUnitNotClaimable
	}
	u.Status = UnitStatusRunning
	u.Attempt++
	u.NextRunAt = nil
	u.UpdatedAt = time.Now()
	return nil
}

// Succeed records a successful result
func (u *DispatchUnit) Succeed(res *Result) {
	now := time.Now()
	u.Status = UnitStatusSucceeded
	u.LastError = ""
	u.recordResult(res)
	u.CompletedAt = &now
	u.UpdatedAt = now
}

// Fail records a failed result. It returns true when the unit has exhausted
// its attempts and is now permanently failed; otherwise the next run time is
// scheduled from the backoff policy.
func (u *DispatchUnit) Fail(res *Result, now time.Time) bool {
	u.LastError = res.Message()
	u.recordResult(res)
	u.UpdatedAt = now

	if u.Attempt >= u.MaxAttempts {
		u.Status = UnitStatusPermanentlyFailed
		u.NextRunAt = nil
		u.CompletedAt = &now
		return true
	}

	u.Status = UnitStatusFailed
	next := now.Add(u.Policy().Delay(u.Attempt))
	u.NextRunAt = &next
	return false
}

func (u *DispatchUnit) recordResult(res *Result) {
	if code, ok := res.HTTPCode(); ok {
		u.LastHTTPCode = &code
	} else {
		u.LastHTTPCode = nil
	}
	if id, ok := res.ExternalID(); ok {
		u.ExternalID = &id
	}
	u.ResultData = res.Data()
}

// Release returns a failed unit whose retry time has come to pending
func (u *DispatchUnit) Release(now time.Time) error {
	if u.Status != UnitStatusFailed {
		return errors.New("can only release failed units")
	}
	if u.NextRunAt != nil && u.NextRunAt.After(now) {
		return errors.New("unit retry is not due yet")
	}
	u.Status = UnitStatusPending
	u.UpdatedAt = now
	return nil
}

// ResetForRetry resets a permanently failed unit for a manual retry
func (u *DispatchUnit) ResetForRetry() error {
	if u.Status != UnitStatusPermanentlyFailed {
		return ErrUnitNotRetryable
	}
	u.Status = UnitStatusPending
	u.Attempt = 0
	u.LastError = ""
	u.NextRunAt = nil
	u.CompletedAt = nil
	u.UpdatedAt = time.Now()
	return nil
}

// IsDue returns true if a failed unit may be retried at now
func (u *DispatchUnit) IsDue(now time.Time) bool {
	return u.Status == UnitStatusFailed && u.NextRunAt != nil && !u.NextRunAt.After(now)
}

// DispatchUnitRepository persists dispatch units
type DispatchUnitRepository interface {
	Save(ctx context.Context, units ...*DispatchUnit) error
	FindByID(ctx context.Context, id uuid.UUID) (*DispatchUnit, error)
	FindByBatch(ctx context.Context, batchID uuid.UUID) ([]*DispatchUnit, error)
	// UpdateIfStatus writes the unit only while its stored status still
	// equals expected. It returns ErrUnitStale otherwise.
	UpdateIfStatus(ctx context.Context, unit *DispatchUnit, expected UnitStatus) error
	// FindDue returns failed units whose retry time is at or before now
	FindDue(ctx context.Context, now time.Time, limit int) ([]*DispatchUnit, error)
	// FindStaleRunning returns running units last updated before the cutoff
	FindStaleRunning(ctx context.Context, before time.Time, limit int) ([]*DispatchUnit, error)
	// FindPermanentlyFailed returns dead units with pagination
	FindPermanentlyFailed(ctx context.Context, page, pageSize int) ([]*DispatchUnit, int64, error)
	// DeleteCompletedBefore removes succeeded units completed before the cutoff
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[UnitStatus]int64, error)
}
