package tier

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func directContext() memory.Context {
	return memory.Context{Kind: memory.KindDirect, IsPrivate: true, Level: memory.LevelPrivateIsolated}
}

func groupContext(groupID string) memory.Context {
	return memory.Context{Kind: memory.KindPublicGroup, GroupID: groupID, Level: memory.LevelPublicGroup}
}

func testRecord(userID, content string, ts time.Time) *memory.Record {
	return &memory.Record{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Content:   content,
		Response:  "noted",
		Timestamp: ts,
		Context:   directContext(),
	}
}

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchiveStoreAndGet(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	rec := testRecord("user-1", "my dog is named Rex", time.Now().UTC())
	rec.Tags = []string{"pets", memory.TagCrossGroupSafe}
	rec.Metadata = map[string]string{"source": "chat"}
	rec.ImportanceScore = 0.42
	require.NoError(t, a.Store(ctx, rec))

	got, err := a.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, rec.Metadata, got.Metadata)
	assert.InDelta(t, 0.42, got.ImportanceScore, 1e-9)
	assert.Equal(t, memory.KindDirect, got.Context.Kind)
	assert.Equal(t, memory.LevelPrivateIsolated, got.Context.Level)
}

func TestArchiveGetNotFound(t *testing.T) {
	a := newTestArchive(t)
	_, err := a.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestArchiveStoreUpsert(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	rec := testRecord("user-1", "original", time.Now().UTC())
	require.NoError(t, a.Store(ctx, rec))

	rec.Content = "revised"
	require.NoError(t, a.Store(ctx, rec))

	got, err := a.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "revised", got.Content)

	n, err := a.CountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArchiveRetrieveMatchesContentAndResponse(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	now := time.Now().UTC()

	r1 := testRecord("user-1", "planning a hiking trip", now.Add(-2*time.Hour))
	r2 := testRecord("user-1", "grocery list", now.Add(-time.Hour))
	r2.Response = "added hiking boots to the list"
	r3 := testRecord("user-2", "hiking again", now)
	for _, r := range []*memory.Record{r1, r2, r3} {
		require.NoError(t, a.Store(ctx, r))
	}

	recs, err := a.Retrieve(ctx, "user-1", "hiking", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// Newest first.
	assert.Equal(t, r2.ID, recs[0].ID)
	assert.Equal(t, r1.ID, recs[1].ID)
}

func TestArchiveRecentOrder(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var ids []string
	for i := 0; i < 5; i++ {
		r := testRecord("user-1", fmt.Sprintf("turn %d", i), now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, a.Store(ctx, r))
		ids = append(ids, r.ID)
	}

	recs, err := a.Recent(ctx, "user-1", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, ids[4], recs[0].ID)
	assert.Equal(t, ids[3], recs[1].ID)
	assert.Equal(t, ids[2], recs[2].ID)
}

func TestArchiveByImportance(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()
	now := time.Now().UTC()

	low := testRecord("user-1", "low", now)
	low.ImportanceScore = 0.1
	high := testRecord("user-1", "high", now.Add(-time.Hour))
	high.ImportanceScore = 0.9
	require.NoError(t, a.Store(ctx, low))
	require.NoError(t, a.Store(ctx, high))

	recs, err := a.ByImportance(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, high.ID, recs[0].ID)
}

func TestArchiveUpdateImportance(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	rec := testRecord("user-1", "x", time.Now().UTC())
	require.NoError(t, a.Store(ctx, rec))
	require.NoError(t, a.UpdateImportance(ctx, rec.ID, 0.77))

	got, err := a.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.77, got.ImportanceScore, 1e-9)

	assert.ErrorIs(t, a.UpdateImportance(ctx, "missing", 0.5), ErrRecordNotFound)
}

func TestArchivePing(t *testing.T) {
	a := newTestArchive(t)
	assert.NoError(t, a.Ping(context.Background()))
}
