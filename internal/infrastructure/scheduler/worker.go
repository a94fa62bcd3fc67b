package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/infrastructure/queue"
)

// WorkerConfig configures one stream worker
type WorkerConfig struct {
	// Name identifies the worker in logs
	Name string
	// Timeout bounds one handler call. Zero means no bound.
	Timeout time.Duration
	// ErrorBackoff is the pause after a failed read
	ErrorBackoff time.Duration
}

// Worker consumes one stream with one goroutine per consumer. A handler
// error requeues the message until the consumer's attempt budget is spent,
// then the message goes to the dead letter stream.
type Worker struct {
	config    WorkerConfig
	consumers []queue.Consumer
	handler   queue.Handler
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewWorker creates a new worker
func NewWorker(config WorkerConfig, consumers []queue.Consumer, handler queue.Handler, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = time.Second
	}
	return &Worker{
		config:    config,
		consumers: consumers,
		handler:   handler,
		logger:    logger.Named("worker").With(zap.String("worker", config.Name)),
	}
}

// Start starts one goroutine per consumer
func (w *Worker) Start(ctx context.Context) error {
	if len(w.consumers) == 0 {
		return ErrNoConsumers
	}
	if w.handler == nil {
		return fmt.Errorf("%w: worker %s has no handler", ErrInvalidConfig, w.config.Name)
	}

	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = true
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i, c := range w.consumers {
		w.wg.Add(1)
		go w.consume(ctx, i, c)
	}

	w.logger.Info("Worker started",
		zap.String("stream", w.consumers[0].Stream()),
		zap.Int("goroutines", len(w.consumers)),
		zap.Duration("timeout", w.config.Timeout),
	)
	return nil
}

// Stop cancels the consumers and waits for in-flight messages
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Worker stop timed out")
		return ctx.Err()
	}
}

func (w *Worker) consume(ctx context.Context, id int, c queue.Consumer) {
	defer w.wg.Done()
	log := w.logger.With(zap.Int("goroutine", id))

	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Failed to read from stream", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.ErrorBackoff):
			}
			continue
		}
		for _, msg := range messages {
			w.process(ctx, log, c, msg)
		}
	}
}

// process runs the handler for one message and settles it on the stream.
// Settling uses a detached context so shutdown does not strand a message.
func (w *Worker) process(ctx context.Context, log *zap.Logger, c queue.Consumer, msg queue.Message) {
	log = log.With(
		zap.String("message_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.Int("attempt", msg.Attempt),
	)

	err := w.handle(ctx, msg)
	settleCtx := context.WithoutCancel(ctx)

	if err == nil {
		if ackErr := c.Ack(settleCtx, msg); ackErr != nil {
			log.Error("Failed to ack message", zap.Error(ackErr))
		}
		return
	}

	log.Warn("Message handler failed", zap.Error(err))
	if msg.Attempt >= c.MaxAttempts() {
		if dlqErr := c.SendDLQ(settleCtx, msg, err.Error()); dlqErr != nil {
			log.Error("Failed to move message to dead letter stream", zap.Error(dlqErr))
		}
		return
	}
	if reqErr := c.Requeue(settleCtx, msg, err.Error()); reqErr != nil {
		log.Error("Failed to requeue message", zap.Error(reqErr))
	}
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) (err error) {
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, msg)
}

// Runnable is a background component with a start/stop lifecycle
type Runnable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Group starts and stops a set of background components together
type Group struct {
	members []Runnable
	started []Runnable
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewGroup creates a group of components
func NewGroup(logger *zap.Logger, members ...Runnable) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{members: members, logger: logger}
}

// Add appends a component. It must be called before Start.
func (g *Group) Add(r Runnable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, r)
}

// Start starts every component. When one fails the ones already started
// are stopped again.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.started) > 0 {
		return ErrAlreadyRunning
	}
	for _, m := range g.members {
		if err := m.Start(ctx); err != nil {
			g.stopStarted(context.WithoutCancel(ctx))
			return err
		}
		g.started = append(g.started, m)
	}
	return nil
}

// Stop stops the components in reverse start order
func (g *Group) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopStarted(ctx)
}

func (g *Group) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(g.started) - 1; i >= 0; i-- {
		if err := g.started[i].Stop(ctx); err != nil {
			g.logger.Warn("Component failed to stop", zap.Error(err))
			errs = append(errs, err)
		}
	}
	g.started = nil
	return errors.Join(errs...)
}
