package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = clock.now
	return s, clock
}

func TestMemoryStore_FinalizeClaimedOnce(t *testing.T) {
	s, _ := newClockedStore()
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "batch:b-1:finalize", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkProcessed(ctx, "batch:b-1:finalize", time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	other, _ := s.MarkProcessed(ctx, "batch:b-2:finalize", time.Hour)
	assert.True(t, other)
}

func TestMemoryStore_ClaimExpiresAtTTL(t *testing.T) {
	s, clock := newClockedStore()
	ctx := context.Background()

	_, _ = s.MarkProcessed(ctx, "batch:b-1:finalize", time.Minute)

	clock.advance(time.Minute - time.Second)
	held, _ := s.IsProcessed(ctx, "batch:b-1:finalize")
	assert.True(t, held)

	clock.advance(time.Second)
	held, _ = s.IsProcessed(ctx, "batch:b-1:finalize")
	assert.False(t, held)
	assert.Zero(t, s.Len())

	retaken, _ := s.MarkProcessed(ctx, "batch:b-1:finalize", time.Minute)
	assert.True(t, retaken)
}

func TestMemoryStore_ReleaseAllowsRetry(t *testing.T) {
	s, _ := newClockedStore()
	ctx := context.Background()

	_, _ = s.MarkProcessed(ctx, "batch:b-3:finalize", time.Hour)
	require.NoError(t, s.Release(ctx, "batch:b-3:finalize"))
	require.NoError(t, s.Release(ctx, "never-claimed"))

	held, _ := s.IsProcessed(ctx, "batch:b-3:finalize")
	assert.False(t, held)
	retaken, _ := s.MarkProcessed(ctx, "batch:b-3:finalize", time.Hour)
	assert.True(t, retaken)
}

func TestMemoryStore_SweepDropsExpired(t *testing.T) {
	s, clock := newClockedStore()
	ctx := context.Background()

	for i := 0; i < sweepEvery-1; i++ {
		_, _ = s.MarkProcessed(ctx, fmt.Sprintf("batch:old-%d:finalize", i), time.Minute)
	}
	clock.advance(time.Hour)
	_, _ = s.MarkProcessed(ctx, "batch:new:finalize", time.Minute)

	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	s := NewMemoryStore()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.MarkProcessed(context.Background(), "batch:b-9:finalize", time.Hour); err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
	assert.NoError(t, s.Close())
}
