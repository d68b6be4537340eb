package boundary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/privacy"
)

// memStore is an in-memory PreferenceStore + AuditStore for tests.
type memStore struct {
	mu      sync.Mutex
	prefs   map[string]*privacy.Preference
	entries []privacy.AuditEntry

	getErr    error
	appendErr error
}

func newMemStore() *memStore {
	return &memStore{prefs: map[string]*privacy.Preference{}}
}

func (s *memStore) Get(_ context.Context, userID string) (*privacy.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	pref, ok := s.prefs[userID]
	if !ok {
		return nil, privacy.ErrPreferenceNotFound
	}
	return pref.Clone(), nil
}

func (s *memStore) Upsert(_ context.Context, pref *privacy.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[pref.UserID] = pref.Clone()
	return nil
}

func (s *memStore) SetCustomRule(_ context.Context, userID, key string, allow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pref, ok := s.prefs[userID]
	if !ok {
		pref = privacy.NewDefaultPreference(userID)
		s.prefs[userID] = pref
	}
	if pref.CustomRules == nil {
		pref.CustomRules = map[string]bool{}
	}
	pref.CustomRules[key] = allow
	return nil
}

func (s *memStore) SetConsentStatus(_ context.Context, userID string, status privacy.ConsentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pref, ok := s.prefs[userID]
	if !ok {
		pref = privacy.NewDefaultPreference(userID)
		s.prefs[userID] = pref
	}
	pref.ConsentStatus = status
	return nil
}

func (s *memStore) Append(_ context.Context, entry *privacy.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memStore) History(_ context.Context, userID string, limit int) ([]privacy.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []privacy.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if userID != "" && s.entries[i].UserID != userID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) lastDecision(t *testing.T) privacy.AuditEntry {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.entries)
	return s.entries[len(s.entries)-1]
}

func boolPtr(b bool) *bool { return &b }

var (
	ctxDirect    = memory.Context{Kind: memory.KindDirect, IsPrivate: true, Level: memory.LevelPrivateIsolated}
	ctxPrivGroup = memory.Context{Kind: memory.KindPrivateGroup, GroupID: "g1", IsPrivate: true, Level: memory.LevelPrivateGroup}
	ctxPubGroup  = memory.Context{Kind: memory.KindPublicGroup, GroupID: "g1", IsPrivate: false, Level: memory.LevelPublicGroup}
	ctxOtherPub  = memory.Context{Kind: memory.KindPublicGroup, GroupID: "g2", IsPrivate: false, Level: memory.LevelPublicGroup}
)

func TestPreferenceLazyCreation(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, store)

	pref, err := m.Preference(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, privacy.LevelModerate, pref.Level)
	assert.Equal(t, privacy.ConsentNotAsked, pref.ConsentStatus)

	// Second access returns the persisted record.
	again, err := m.Preference(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, pref.UserID, again.UserID)
}

func TestCheckBoundaryIdenticalContext(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, store)

	d, err := m.CheckBoundary(context.Background(), "user-1", ctxPrivGroup, ctxPrivGroup)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.RequiresConsent)
	assert.Equal(t, DecisionAllowed, store.lastDecision(t).Decision)
}

func TestCheckBoundaryCustomRuleWins(t *testing.T) {
	store := newMemStore()
	pref := privacy.NewDefaultPreference("user-1")
	pref.Level = privacy.LevelPermissive
	pref.CustomRules["group-to-direct"] = false
	require.NoError(t, store.Upsert(context.Background(), pref))

	m := NewManager(store, store)

	// Permissive would allow this, but the custom rule denies first.
	d, err := m.CheckBoundary(context.Background(), "user-1", ctxPubGroup, ctxDirect)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "custom rule")
}

func TestCheckBoundaryToggleBeforeMatrix(t *testing.T) {
	store := newMemStore()
	pref := privacy.NewDefaultPreference("user-1")
	pref.Level = privacy.LevelStrict
	pref.AllowDirectToGroup = boolPtr(true)
	require.NoError(t, store.Upsert(context.Background(), pref))

	m := NewManager(store, store)

	// Strict would block, but the explicit toggle allows.
	d, err := m.CheckBoundary(context.Background(), "user-1", ctxDirect, ctxPrivGroup)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckBoundaryMatrixStrict(t *testing.T) {
	store := newMemStore()
	pref := privacy.NewDefaultPreference("user-1")
	pref.Level = privacy.LevelStrict
	require.NoError(t, store.Upsert(context.Background(), pref))

	m := NewManager(store, store)

	// Only public-to-private passes under strict.
	d, err := m.CheckBoundary(context.Background(), "user-1", ctxPubGroup, ctxDirect)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = m.CheckBoundary(context.Background(), "user-1", ctxDirect, ctxPrivGroup)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresConsent)
}

func TestCheckBoundaryMatrixPermissive(t *testing.T) {
	store := newMemStore()
	pref := privacy.NewDefaultPreference("user-1")
	pref.Level = privacy.LevelPermissive
	require.NoError(t, store.Upsert(context.Background(), pref))

	m := NewManager(store, store)

	d, err := m.CheckBoundary(context.Background(), "user-1", ctxPubGroup, ctxOtherPub)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Private-to-public stays blocked even under permissive.
	d, err = m.CheckBoundary(context.Background(), "user-1", ctxDirect, ctxPubGroup)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresConsent)
}

func TestCheckMemoryModerateCrossGroupSafe(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, store)

	rec := &memory.Record{
		ID:      "01J0000000000000000000AAAA",
		UserID:  "user-1",
		Content: "likes hiking",
		Context: ctxPrivGroup,
	}

	// Moderate blocks the group transition without the safe tag.
	d, err := m.CheckMemory(context.Background(), "user-1", rec, ctxOtherPub)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.RequiresConsent)

	rec.Tags = []string{memory.TagCrossGroupSafe}
	d, err = m.CheckMemory(context.Background(), "user-1", rec, ctxOtherPub)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckMemoryHighSensitivityBlocked(t *testing.T) {
	store := newMemStore()
	pref := privacy.NewDefaultPreference("user-1")
	pref.Level = privacy.LevelPermissive
	require.NoError(t, store.Upsert(context.Background(), pref))

	m := NewManager(store, store)

	rec := &memory.Record{
		ID:      "01J0000000000000000000AAAB",
		UserID:  "user-1",
		Content: "medical history",
		Context: ctxPubGroup,
		Tags:    []string{memory.TagHighSensitivity},
	}

	// Permissive alone is not enough for high-sensitivity content.
	d, err := m.CheckMemory(context.Background(), "user-1", rec, ctxOtherPub)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Permissive plus the explicit toggle is.
	pref.AllowCrossGroup = boolPtr(true)
	require.NoError(t, store.Upsert(context.Background(), pref))
	d, err = m.CheckMemory(context.Background(), "user-1", rec, ctxOtherPub)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckMemoryMissingContextFailsSafe(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, store)

	// A record with no stored context is treated as private-isolated.
	rec := &memory.Record{ID: "01J0000000000000000000AAAC", UserID: "user-1", Content: "x"}
	d, err := m.CheckMemory(context.Background(), "user-1", rec, ctxPubGroup)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestCheckBoundaryStoreErrorDenies(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("disk gone")
	m := NewManager(store, store)

	d, err := m.CheckBoundary(context.Background(), "user-1", ctxDirect, ctxPubGroup)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBoundaryEvaluation)
	assert.False(t, d.Allowed)
	assert.Equal(t, DecisionError, store.lastDecision(t).Decision)
}

func TestEveryDecisionAudited(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, store)

	_, err := m.CheckBoundary(context.Background(), "user-1", ctxDirect, ctxDirect)
	require.NoError(t, err)
	_, err = m.CheckBoundary(context.Background(), "user-1", ctxDirect, ctxPubGroup)
	require.NoError(t, err)

	history, err := store.History(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestUpdatePreference(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, store)

	level := privacy.LevelStrict
	pref, err := m.UpdatePreference(context.Background(), "user-1", privacy.Update{
		Level:              &level,
		AllowGroupToDirect: boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, privacy.LevelStrict, pref.Level)
	require.NotNil(t, pref.AllowGroupToDirect)
	assert.True(t, *pref.AllowGroupToDirect)

	// Persisted, not just returned.
	stored, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, privacy.LevelStrict, stored.Level)
}

func TestUpdatePreferenceInvalidLevel(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, store)

	bad := privacy.Level("PARANOID")
	_, err := m.UpdatePreference(context.Background(), "user-1", privacy.Update{Level: &bad})
	assert.ErrorIs(t, err, privacy.ErrInvalidPreference)
}

func TestSafeSubset(t *testing.T) {
	recs := []memory.Record{
		{ID: "a", Tags: []string{memory.TagCrossGroupSafe}},
		{ID: "b"},
		{ID: "c", Tags: []string{memory.TagHighSensitivity}},
		{ID: "d", Tags: []string{"misc", memory.TagCrossGroupSafe}},
	}

	safe := SafeSubset(recs)
	require.Len(t, safe, 2)
	assert.Equal(t, "a", safe[0].ID)
	assert.Equal(t, "d", safe[1].ID)

	assert.Empty(t, SafeSubset([]memory.Record{{ID: "x"}}))
}

func TestSameGroupMorePrivateAllowed(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, store)

	// Public group to private group of the same group is toward more
	// private, allowed under moderate.
	d, err := m.CheckBoundary(context.Background(), "user-1", ctxPubGroup, ctxPrivGroup)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
