package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
)

// UnitPublisher puts a pending unit back on its channel stream
type UnitPublisher interface {
	Publish(ctx context.Context, unit *integration.DispatchUnit) error
}

// UnitAbandoner fails a running unit whose worker disappeared
type UnitAbandoner interface {
	Abandon(ctx context.Context, unit *integration.DispatchUnit) error
}

// RetrySchedulerConfig holds configuration for the retry scheduler
type RetrySchedulerConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// StaleAfter is how long a unit may stay RUNNING before it is reclaimed.
	// Zero disables reclaiming.
	StaleAfter       time.Duration
	CleanupEnabled   bool
	CleanupRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultRetrySchedulerConfig returns default configuration
func DefaultRetrySchedulerConfig() RetrySchedulerConfig {
	return RetrySchedulerConfig{
		BatchSize:        100,
		PollInterval:     5 * time.Second,
		StaleAfter:       4 * time.Minute,
		CleanupEnabled:   true,
		CleanupRetention: 7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Validate checks the configuration
func (c RetrySchedulerConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.CleanupEnabled && (c.CleanupInterval <= 0 || c.CleanupRetention <= 0) {
		return fmt.Errorf("%w: cleanup interval and retention must be positive", ErrInvalidConfig)
	}
	return nil
}

// RetryScheduler re-publishes failed units once their retry time has come.
// It knows nothing about how a unit runs: it only moves FAILED units back to
// PENDING, reclaims units stuck in RUNNING and purges old succeeded units.
type RetryScheduler struct {
	units     integration.DispatchUnitRepository
	publisher UnitPublisher
	abandoner UnitAbandoner
	config    RetrySchedulerConfig
	logger    *zap.Logger
	now       func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewRetryScheduler creates a new retry scheduler. abandoner may be nil, in
// which case stale units are not reclaimed.
func NewRetryScheduler(
	units integration.DispatchUnitRepository,
	publisher UnitPublisher,
	abandoner UnitAbandoner,
	config RetrySchedulerConfig,
	logger *zap.Logger,
) *RetryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryScheduler{
		units:     units,
		publisher: publisher,
		abandoner: abandoner,
		config:    config,
		logger:    logger.Named("retry_scheduler"),
		now:       time.Now,
	}
}

// Start starts the background loops
func (s *RetryScheduler) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.processLoop(ctx)

	if s.config.CleanupEnabled {
		s.wg.Add(1)
		go s.cleanupLoop(ctx)
	}

	s.logger.Info("Retry scheduler started",
		zap.Int("batch_size", s.config.BatchSize),
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Duration("stale_after", s.config.StaleAfter),
		zap.Bool("cleanup_enabled", s.config.CleanupEnabled),
	)
	return nil
}

// Stop gracefully stops the scheduler
func (s *RetryScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Retry scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RetryScheduler) processLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one scheduling pass
func (s *RetryScheduler) RunOnce(ctx context.Context) {
	s.reclaimStale(ctx)
	s.releaseDue(ctx)
}

func (s *RetryScheduler) releaseDue(ctx context.Context) {
	now := s.now()
	due, err := s.units.FindDue(ctx, now, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Failed to find due units", zap.Error(err))
		return
	}

	released := 0
	for _, unit := range due {
		if s.release(ctx, unit, now) {
			released++
		}
	}
	if released > 0 {
		s.logger.Debug("Released due units", zap.Int("count", released))
	}
}

func (s *RetryScheduler) release(ctx context.Context, unit *integration.DispatchUnit, now time.Time) bool {
	log := s.logger.With(
		zap.String("unit_id", unit.ID.String()),
		zap.String("lead_id", unit.LeadID.String()),
		zap.String("channel", unit.ChannelType.String()),
	)

	if err := unit.Release(now); err != nil {
		log.Debug("Unit not releasable", zap.Error(err))
		return false
	}
	if err := s.units.UpdateIfStatus(ctx, unit, integration.UnitStatusFailed); err != nil {
		if !errors.Is(err, integration.ErrUnitStale) {
			log.Error("Failed to release unit", zap.Error(err))
		}
		return false
	}

	if err := s.publisher.Publish(ctx, unit); err != nil {
		log.Warn("Failed to publish released unit, rescheduling", zap.Error(err))
		next := now.Add(s.config.PollInterval)
		unit.Status = integration.UnitStatusFailed
		unit.NextRunAt = &next
		unit.UpdatedAt = now
		if updErr := s.units.UpdateIfStatus(ctx, unit, integration.UnitStatusPending); updErr != nil && !errors.Is(updErr, integration.ErrUnitStale) {
			log.Error("Failed to reschedule unit", zap.Error(updErr))
		}
		return false
	}
	return true
}

func (s *RetryScheduler) reclaimStale(ctx context.Context) {
	if s.abandoner == nil || s.config.StaleAfter <= 0 {
		return
	}
	cutoff := s.now().Add(-s.config.StaleAfter)
	stale, err := s.units.FindStaleRunning(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Failed to find stale units", zap.Error(err))
		return
	}

	for _, unit := range stale {
		err := s.abandoner.Abandon(ctx, unit)
		switch {
		case errors.Is(err, integration.ErrUnitStale):
			s.logger.Debug("Stale unit finished before it was reclaimed",
				zap.String("unit_id", unit.ID.String()),
			)
			continue
		case err != nil:
			s.logger.Error("Failed to reclaim stale unit",
				zap.String("unit_id", unit.ID.String()),
				zap.Error(err),
			)
			continue
		}
		s.logger.Warn("Reclaimed stale running unit",
			zap.String("unit_id", unit.ID.String()),
			zap.String("channel", unit.ChannelType.String()),
			zap.Int("attempt", unit.Attempt),
		)
	}
}

func (s *RetryScheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(ctx)
		}
	}
}

// Cleanup removes succeeded units older than the retention
func (s *RetryScheduler) Cleanup(ctx context.Context) {
	cutoff := s.now().Add(-s.config.CleanupRetention)
	deleted, err := s.units.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to clean up old units", zap.Error(err))
		return
	}

	if deleted > 0 {
		s.logger.Info("Cleaned up old dispatch units",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
}
