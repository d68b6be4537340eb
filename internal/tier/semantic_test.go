package tier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/embed"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func newTestSemantic(t *testing.T) *Semantic {
	t.Helper()
	s, err := NewSemantic(SemanticConfig{}, embed.NewLocalEmbedder(128), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSemanticRequiresEmbedder(t *testing.T) {
	_, err := NewSemantic(SemanticConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrTierUnavailable)
}

func TestSemanticStoreAndRetrieve(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := testRecord("user-1", "we talked about hiking in the mountains", now)
	rec.Tags = []string{"outdoors"}
	rec.ImportanceScore = 0.3
	require.NoError(t, s.Store(ctx, rec))
	require.NoError(t, s.Store(ctx, testRecord("user-1", "sourdough starter troubleshooting", now)))

	recs, err := s.Retrieve(ctx, "user-1", "mountains and hiking", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	assert.Equal(t, rec.Content, recs[0].Content)
	assert.Equal(t, "noted", recs[0].Response)
	assert.Equal(t, []string{"outdoors"}, recs[0].Tags)
	assert.InDelta(t, 0.3, recs[0].ImportanceScore, 1e-9)
	assert.Equal(t, memory.KindDirect, recs[0].Context.Kind)
	assert.Equal(t, memory.LevelPrivateIsolated, recs[0].Context.Level)
	assert.WithinDuration(t, now, recs[0].Timestamp, time.Millisecond)
}

func TestSemanticEmptyQuery(t *testing.T) {
	s := newTestSemantic(t)
	recs, err := s.Retrieve(context.Background(), "user-1", "   ", 5)
	require.NoError(t, err)
	assert.Nil(t, recs)
}

func TestSemanticEmptyCollection(t *testing.T) {
	s := newTestSemantic(t)
	recs, err := s.Retrieve(context.Background(), "user-1", "anything", 5)
	require.NoError(t, err)
	assert.Nil(t, recs)
}

func TestSemanticIsolatesUsers(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, testRecord("user-1", "my private plans", time.Now().UTC())))

	recs, err := s.Retrieve(ctx, "user-2", "plans", 5)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSemanticLimitClampedToCount(t *testing.T) {
	s := newTestSemantic(t)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, testRecord("user-1", "only one memory", time.Now().UTC())))

	recs, err := s.Retrieve(ctx, "user-1", "memory", 50)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "user_alice", collectionName("Alice"))
	assert.Equal(t, "user_a_b_c", collectionName("a/b:c"))

	long := collectionName("user-with-a-very-long-identifier-that-exceeds-the-collection-limit")
	assert.LessOrEqual(t, len(long), 61)
}
