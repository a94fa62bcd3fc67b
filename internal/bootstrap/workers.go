package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/infrastructure/queue"
	"github.com/leadflow/backend/internal/infrastructure/scheduler"
)

// Workers assembles the background side of dispatch: one worker per channel
// stream, the job worker, the single outcome aggregator and the retry
// scheduler.
func (a *App) Workers(ctx context.Context, component string) (*scheduler.Group, error) {
	dc := a.Config.Dispatch
	group := scheduler.NewGroup(a.Logger)

	for _, t := range a.Factory.AvailableTypes() {
		consumers, err := a.consumers(ctx, component, queue.UnitStream(t), dc.Workers)
		if err != nil {
			return nil, err
		}
		// The unit carries its own timeout, the worker bound only adds slack.
		group.Add(scheduler.NewWorker(scheduler.WorkerConfig{
			Name:    "dispatch:" + t.String(),
			Timeout: dc.UnitTimeout + dc.UnitTimeout/2,
		}, consumers, a.Processor.Handle, a.Logger))
	}

	jobConsumers, err := a.consumers(ctx, component, queue.StreamJobs, dc.JobWorkers)
	if err != nil {
		return nil, err
	}
	group.Add(scheduler.NewWorker(scheduler.WorkerConfig{
		Name:    "jobs",
		Timeout: dc.JobTimeout,
	}, jobConsumers, a.Jobs.Handle, a.Logger))

	outcomeConsumers, err := a.consumers(ctx, component, queue.StreamOutcomes, 1)
	if err != nil {
		return nil, err
	}
	group.Add(scheduler.NewWorker(scheduler.WorkerConfig{Name: "aggregator"},
		outcomeConsumers, a.Aggregator.Handle, a.Logger))

	group.Add(scheduler.NewRetryScheduler(a.Units, a.Orchestrator, a.Processor, scheduler.RetrySchedulerConfig{
		BatchSize:        dc.BatchSize,
		PollInterval:     dc.PollInterval,
		StaleAfter:       dc.StaleAfter,
		CleanupEnabled:   dc.CleanupEnabled,
		CleanupRetention: dc.CleanupRetention,
		CleanupInterval:  dc.CleanupInterval,
	}, a.Logger))

	a.Logger.Info("Dispatch workers assembled",
		zap.Int("channel_streams", len(a.Factory.AvailableTypes())),
		zap.Int("workers_per_stream", dc.Workers),
		zap.Int("job_workers", dc.JobWorkers),
	)
	return group, nil
}

func (a *App) consumers(ctx context.Context, component, stream string, n int) ([]queue.Consumer, error) {
	if n <= 0 {
		n = 1
	}
	dc := a.Config.Dispatch
	out := make([]queue.Consumer, 0, n)
	for i := 0; i < n; i++ {
		if a.Memory != nil {
			out = append(out, a.Memory.Consumer(stream, dc.MaxDeliveries, dc.ReadBlock))
			continue
		}
		c, err := queue.NewRedisConsumer(ctx, a.Redis, queue.ConsumerConfig{
			Stream:      stream,
			Group:       dc.ConsumerGroup,
			Consumer:    ConsumerName(component, i),
			Block:       dc.ReadBlock,
			MaxAttempts: dc.MaxDeliveries,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer for %s: %w", stream, err)
		}
		out = append(out, c)
	}
	return out, nil
}
