package privacy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "user-1")
	assert.ErrorIs(t, err, ErrPreferenceNotFound)

	yes := true
	pref := NewDefaultPreference("user-1")
	pref.AllowCrossGroup = &yes
	require.NoError(t, store.Upsert(ctx, pref))

	got, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, LevelModerate, got.Level)
	require.NotNil(t, got.AllowCrossGroup)
	assert.True(t, *got.AllowCrossGroup)
	assert.Nil(t, got.AllowPrivateToPublic)
}

func TestFileStoreRejectsUnsafeUserID(t *testing.T) {
	store := newTestFileStore(t)
	_, err := store.Get(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidPreference)
}

func TestFileStoreSetCustomRuleCreatesDefault(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetCustomRule(ctx, "user-1", "group-to-direct", true))
	got, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, LevelModerate, got.Level)
	assert.True(t, got.CustomRules["group-to-direct"])
}

func TestFileStoreSetConsentStatus(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetConsentStatus(ctx, "user-1", ConsentExpired))
	got, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ConsentExpired, got.ConsentStatus)
}

func TestFileStoreAuditHistoryAndPrune(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-200 * 24 * time.Hour)
	require.NoError(t, store.Append(ctx, &AuditEntry{UserID: "u1", Decision: "blocked", Timestamp: old}))
	require.NoError(t, store.Append(ctx, &AuditEntry{UserID: "u1", Decision: "allowed"}))
	require.NoError(t, store.Append(ctx, &AuditEntry{UserID: "u2", Decision: "allowed"}))

	entries, err := store.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "allowed", entries[0].Decision)

	pruned, err := store.Prune(ctx, time.Now().UTC().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	entries, err = store.History(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFileStoreClosed(t *testing.T) {
	store := newTestFileStore(t)
	require.NoError(t, store.Close())

	_, err := store.Get(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrStoreClosed)
	err = store.Append(context.Background(), &AuditEntry{UserID: "u"})
	assert.ErrorIs(t, err, ErrStoreClosed)
}
