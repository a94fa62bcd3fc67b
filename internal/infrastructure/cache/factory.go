package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/shared"
	"github.com/leadflow/backend/internal/infrastructure/config"
)

const defaultPingTimeout = 3 * time.Second

// NewRedisClient builds the client shared by the dispatch queue and the
// finalization store.
func NewRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr()},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// StoreOptions selects the finalization store
type StoreOptions struct {
	// KeyPrefix namespaces keys in Redis; empty uses DefaultIdempotencyPrefix
	KeyPrefix string
	// RequireRedis fails instead of degrading to process memory. Set it
	// whenever more than one aggregator runs.
	RequireRedis bool
	PingTimeout  time.Duration
	Logger       *zap.Logger
}

// OpenIdempotencyStore returns the Redis store when client answers a ping.
// A nil or unreachable client yields a MemoryStore unless RequireRedis is set.
func OpenIdempotencyStore(ctx context.Context, client redis.UniversalClient, opts StoreOptions) (shared.IdempotencyStore, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	err := pingRedis(ctx, client, opts.PingTimeout)
	if err == nil {
		log.Info("Finalization claims stored in Redis", zap.String("prefix", opts.KeyPrefix))
		return NewRedisIdempotencyStore(client, opts.KeyPrefix), nil
	}
	if opts.RequireRedis {
		return nil, fmt.Errorf("redis is required for batch finalization: %w", err)
	}
	log.Warn("Finalization claims kept in process memory; only this process is deduplicated", zap.Error(err))
	return NewMemoryStore(), nil
}

var errNoRedisClient = errors.New("no redis client configured")

func pingRedis(ctx context.Context, client redis.UniversalClient, timeout time.Duration) error {
	if client == nil {
		return errNoRedisClient
	}
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}
