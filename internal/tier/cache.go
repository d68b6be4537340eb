package tier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// CacheConfig holds configuration for the recent-turn cache tier.
type CacheConfig struct {
	// MaxEntriesPerUser caps the per-user recency buffer.
	MaxEntriesPerUser int

	// MaxCost is the total cost budget across all user buffers, measured in
	// buffered records.
	MaxCost int64

	// TTL is how long an idle user buffer stays resident.
	TTL time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *CacheConfig) ApplyDefaults() {
	if c.MaxEntriesPerUser == 0 {
		c.MaxEntriesPerUser = 50
	}
	if c.MaxCost == 0 {
		c.MaxCost = 100_000
	}
	if c.TTL == 0 {
		c.TTL = 30 * time.Minute
	}
}

// Cache is the low-latency recent-turn tier. Each user's turns live in a
// small ring buffer held under a ristretto cache, which handles admission,
// eviction and TTL across users. Contents are derived data; a cold cache is
// repopulated from the archive on the read path.
type Cache struct {
	cache  *ristretto.Cache
	config CacheConfig

	// mu serializes buffer creation so two writers cannot race a Set.
	mu sync.Mutex
}

// NewCache creates the recent-turn cache tier.
func NewCache(config CacheConfig) (*Cache, error) {
	config.ApplyDefaults()

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.MaxCost * 10,
		MaxCost:     config.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	return &Cache{cache: cache, config: config}, nil
}

// Name identifies the tier.
func (c *Cache) Name() string { return TierCache }

// Store appends the record to the user's recency buffer.
func (c *Cache) Store(_ context.Context, rec *memory.Record) error {
	buf := c.buffer(rec.UserID)
	buf.add(*rec, c.config.MaxEntriesPerUser)
	return nil
}

// Retrieve returns the user's buffered recent turns, newest first. The
// cache ignores the query text: its candidates are recency-based.
func (c *Cache) Retrieve(_ context.Context, userID, _ string, limit int) ([]memory.Record, error) {
	val, ok := c.cache.Get(userID)
	if !ok {
		return nil, nil
	}
	buf := val.(*recentBuffer)
	return buf.snapshot(limit), nil
}

// Recent returns the user's buffered recent turns, newest first.
func (c *Cache) Recent(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	return c.Retrieve(ctx, userID, "", limit)
}

// Wait blocks until pending cache writes are applied. For tests.
func (c *Cache) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *Cache) Close() error {
	c.cache.Close()
	return nil
}

func (c *Cache) buffer(userID string) *recentBuffer {
	if val, ok := c.cache.Get(userID); ok {
		return val.(*recentBuffer)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if val, ok := c.cache.Get(userID); ok {
		return val.(*recentBuffer)
	}

	buf := &recentBuffer{}
	// Cost is the buffer capacity so the global budget tracks records.
	c.cache.SetWithTTL(userID, buf, int64(c.config.MaxEntriesPerUser), c.config.TTL)
	c.cache.Wait()
	return buf
}

// recentBuffer holds one user's recent turns in exact recency order.
type recentBuffer struct {
	mu   sync.RWMutex
	recs []memory.Record
}

func (b *recentBuffer) add(rec memory.Record, max int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Replace in place when the same record is re-stored.
	for i := range b.recs {
		if b.recs[i].ID == rec.ID {
			b.recs[i] = rec
			return
		}
	}

	b.recs = append(b.recs, rec)
	if len(b.recs) > max {
		b.recs = b.recs[len(b.recs)-max:]
	}
}

func (b *recentBuffer) snapshot(limit int) []memory.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.recs)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]memory.Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, b.recs[i])
	}
	return out
}
