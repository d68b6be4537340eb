package privacy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "privacy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteGetNotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	_, err := store.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrPreferenceNotFound)
}

func TestSQLiteUpsertRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	yes := true
	pref := NewDefaultPreference("user-1")
	pref.Level = LevelStrict
	pref.AllowGroupToDirect = &yes
	pref.CustomRules["direct-to-group"] = false
	require.NoError(t, store.Upsert(ctx, pref))

	got, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, LevelStrict, got.Level)
	require.NotNil(t, got.AllowGroupToDirect)
	assert.True(t, *got.AllowGroupToDirect)
	// Unset toggles stay unset, they do not come back as false.
	assert.Nil(t, got.AllowCrossGroup)
	assert.Equal(t, map[string]bool{"direct-to-group": false}, got.CustomRules)

	// Upsert replaces in place.
	pref.Level = LevelPermissive
	require.NoError(t, store.Upsert(ctx, pref))
	got, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, LevelPermissive, got.Level)
}

func TestSQLiteUpsertValidates(t *testing.T) {
	store := newTestSQLiteStore(t)
	err := store.Upsert(context.Background(), &Preference{UserID: "", Level: LevelModerate})
	assert.ErrorIs(t, err, memory.ErrEmptyUserID)

	err = store.Upsert(context.Background(), &Preference{UserID: "u", Level: Level("bogus")})
	assert.ErrorIs(t, err, ErrInvalidPreference)
}

func TestSQLiteSetCustomRule(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	// Creates the preference with defaults when absent.
	require.NoError(t, store.SetCustomRule(ctx, "user-1", "group-to-direct", true))
	got, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, LevelModerate, got.Level)
	assert.True(t, got.CustomRules["group-to-direct"])

	// Merges into existing rules.
	require.NoError(t, store.SetCustomRule(ctx, "user-1", "direct-to-group", false))
	got, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, got.CustomRules, 2)
	assert.False(t, got.CustomRules["direct-to-group"])
}

func TestSQLiteSetConsentStatus(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	// Creates with defaults when absent.
	require.NoError(t, store.SetConsentStatus(ctx, "user-1", ConsentGranted))
	got, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ConsentGranted, got.ConsentStatus)

	require.NoError(t, store.SetConsentStatus(ctx, "user-1", ConsentDenied))
	got, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ConsentDenied, got.ConsentStatus)
}

func TestSQLiteAuditAppendAndHistory(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, &AuditEntry{
			UserID:       "user-1",
			SourceLevel:  memory.LevelPrivateIsolated,
			TargetLevel:  memory.LevelPublicGroup,
			Decision:     "blocked",
			Reason:       "test",
			PrivacyLevel: LevelModerate,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.Append(ctx, &AuditEntry{
		UserID:    "user-2",
		Decision:  "allowed",
		Timestamp: base.Add(time.Hour),
	}))

	// Newest first, filtered by user.
	entries, err := store.History(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
	assert.Equal(t, "user-1", entries[0].UserID)

	// Empty userID spans all users.
	all, err := store.History(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLiteAuditAssignsIDAndTimestamp(t *testing.T) {
	store := newTestSQLiteStore(t)
	entry := &AuditEntry{UserID: "user-1", Decision: "allowed"}
	require.NoError(t, store.Append(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestSQLitePrune(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	recent := time.Now().UTC()
	require.NoError(t, store.Append(ctx, &AuditEntry{UserID: "u", Decision: "blocked", Timestamp: old}))
	require.NoError(t, store.Append(ctx, &AuditEntry{UserID: "u", Decision: "allowed", Timestamp: recent}))

	pruned, err := store.Prune(ctx, time.Now().UTC().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	entries, err := store.History(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "allowed", entries[0].Decision)
}
