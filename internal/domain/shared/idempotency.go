package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys of work that must run at most once, such
// as the finalization of a dispatch batch.
type IdempotencyStore interface {
	// MarkProcessed claims key for ttl. It returns true for the first caller
	// and false while the key is held.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether key is currently held
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Release drops key so the work may be claimed again
	Release(ctx context.Context, key string) error

	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long a claimed key is held
	TTL time.Duration
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{TTL: 7 * 24 * time.Hour}
}
