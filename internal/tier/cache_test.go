package tier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxPerUser int) *Cache {
	t.Helper()
	c, err := NewCache(CacheConfig{MaxEntriesPerUser: maxPerUser})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheStoreAndRecent(t *testing.T) {
	c := newTestCache(t, 10)
	ctx := context.Background()
	now := time.Now().UTC()

	var ids []string
	for i := 0; i < 3; i++ {
		rec := testRecord("user-1", fmt.Sprintf("turn %d", i), now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, c.Store(ctx, rec))
		ids = append(ids, rec.ID)
	}
	c.Wait()

	recs, err := c.Recent(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Exact recency order, newest first.
	assert.Equal(t, ids[2], recs[0].ID)
	assert.Equal(t, ids[1], recs[1].ID)
	assert.Equal(t, ids[0], recs[2].ID)
}

func TestCacheLimit(t *testing.T) {
	c := newTestCache(t, 10)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Store(ctx, testRecord("user-1", "x", now)))
	}
	c.Wait()

	recs, err := c.Recent(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCacheTrimsToMaxEntries(t *testing.T) {
	c := newTestCache(t, 3)
	ctx := context.Background()
	now := time.Now().UTC()

	var ids []string
	for i := 0; i < 5; i++ {
		rec := testRecord("user-1", fmt.Sprintf("turn %d", i), now.Add(time.Duration(i)*time.Second))
		require.NoError(t, c.Store(ctx, rec))
		ids = append(ids, rec.ID)
	}
	c.Wait()

	recs, err := c.Recent(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Oldest two were dropped.
	assert.Equal(t, ids[4], recs[0].ID)
	assert.Equal(t, ids[2], recs[2].ID)
}

func TestCacheReplacesByID(t *testing.T) {
	c := newTestCache(t, 10)
	ctx := context.Background()

	rec := testRecord("user-1", "before", time.Now().UTC())
	require.NoError(t, c.Store(ctx, rec))
	rec.Content = "after"
	require.NoError(t, c.Store(ctx, rec))
	c.Wait()

	recs, err := c.Recent(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "after", recs[0].Content)
}

func TestCacheIsolatesUsers(t *testing.T) {
	c := newTestCache(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, testRecord("user-1", "mine", time.Now().UTC())))
	c.Wait()

	recs, err := c.Recent(ctx, "user-2", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCacheMissReturnsNil(t *testing.T) {
	c := newTestCache(t, 10)
	recs, err := c.Retrieve(context.Background(), "nobody", "query", 5)
	require.NoError(t, err)
	assert.Nil(t, recs)
}
