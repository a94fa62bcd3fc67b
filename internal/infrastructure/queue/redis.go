package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/infrastructure/logger"
)

// ConsumerConfig configures one stream consumer
type ConsumerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	DLQStream string
	BatchSize int64
	// Block is how long Read waits for new messages
	Block time.Duration
	// MaxAttempts is the number of deliveries before a message goes to the DLQ
	MaxAttempts  int
	RequeueDelay time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.DLQStream == "" {
		c.DLQStream = DLQStream(c.Stream)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// RedisProducer appends messages with XADD
type RedisProducer struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisProducer creates a producer
func NewRedisProducer(client redis.UniversalClient, log *zap.Logger) *RedisProducer {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisProducer{client: client, logger: log.Named("queue.producer")}
}

func (p *RedisProducer) Enqueue(ctx context.Context, stream string, msg Message) error {
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: messageValues(msg, msg.Attempt),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.Kind, err)
	}
	logger.WithLogger(ctx, p.logger).Debug("Enqueued message",
		zap.String("stream", stream),
		zap.String("kind", string(msg.Kind)),
	)
	return nil
}

func (p *RedisProducer) Close() error {
	return p.client.Close()
}

// RedisConsumer reads a stream through a consumer group
type RedisConsumer struct {
	client redis.UniversalClient
	cfg    ConsumerConfig
	logger *zap.Logger
}

// NewRedisConsumer creates the consumer group if needed
func NewRedisConsumer(ctx context.Context, client redis.UniversalClient, cfg ConsumerConfig, log *zap.Logger) (*RedisConsumer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &RedisConsumer{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: log.Named("queue.consumer").With(zap.String("stream", cfg.Stream)),
	}
	if err := c.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// start from "0" so messages added before the group existed are not lost
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Stream() string   { return c.cfg.Stream }
func (c *RedisConsumer) MaxAttempts() int { return c.cfg.MaxAttempts }

// Read returns new messages. Unparseable entries are acked and dropped.
func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			msg, parseErr := ParseMessage(raw.ID, raw.Values)
			if parseErr != nil {
				logger.WithLogger(ctx, c.logger).Error("Failed to parse message",
					zap.Error(parseErr),
					zap.String("message_id", raw.ID),
				)
				_ = c.Ack(ctx, Message{ID: raw.ID})
				continue
			}
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// Requeue acks msg and appends it again with the next attempt number
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}
	msg.LastError = errMsg
	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: messageValues(msg, msg.Attempt+1),
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}
	logger.WithLogger(ctx, c.logger).Info("Message requeued for retry",
		zap.Int("next_attempt", msg.Attempt+1),
		zap.String("reason", errMsg),
	)
	return nil
}

// SendDLQ acks msg and moves it to the dead letter stream
func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}
	msg.LastError = errMsg
	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: messageValues(msg, msg.Attempt),
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}
	logger.WithLogger(ctx, c.logger).Error("Message sent to DLQ",
		zap.String("final_error", errMsg),
		zap.String("dlq_stream", c.cfg.DLQStream),
	)
	return nil
}
