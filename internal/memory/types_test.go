package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForKind(t *testing.T) {
	tests := []struct {
		name string
		kind ContextKind
		want SecurityLevel
	}{
		{"direct", KindDirect, LevelPrivateIsolated},
		{"private group", KindPrivateGroup, LevelPrivateGroup},
		{"public group", KindPublicGroup, LevelPublicGroup},
		{"unknown fails safe", ContextKind("dm_thread"), LevelPrivateIsolated},
		{"empty fails safe", ContextKind(""), LevelPrivateIsolated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelForKind(tt.kind))
		})
	}
}

func TestSecurityLevelRank(t *testing.T) {
	assert.Less(t, LevelPrivateIsolated.Rank(), LevelPrivateGroup.Rank())
	assert.Less(t, LevelPrivateGroup.Rank(), LevelPublicGroup.Rank())
	assert.Less(t, LevelPublicGroup.Rank(), LevelCrossGroupSafe.Rank())

	// Unknown levels rank as most restrictive.
	assert.Equal(t, LevelPrivateIsolated.Rank(), SecurityLevel("TOP_SECRET").Rank())
}

func TestContextValidate(t *testing.T) {
	valid := Context{Kind: KindDirect, IsPrivate: true, Level: LevelPrivateIsolated}
	require.NoError(t, valid.Validate())

	mismatched := Context{Kind: KindPublicGroup, Level: LevelPrivateIsolated}
	assert.ErrorIs(t, mismatched.Validate(), ErrInvalidContext)

	unknown := Context{Kind: ContextKind("broadcast"), Level: LevelPrivateIsolated}
	assert.ErrorIs(t, unknown.Validate(), ErrInvalidContext)
}

func TestContextEqual(t *testing.T) {
	a := Context{Kind: KindPrivateGroup, GroupID: "g1", ChannelID: "c1", Level: LevelPrivateGroup}
	b := Context{Kind: KindPrivateGroup, GroupID: "g1", ChannelID: "c1", Level: LevelPrivateGroup}
	assert.True(t, a.Equal(b))

	b.ChannelID = "c2"
	assert.False(t, a.Equal(b))
}

func TestTransitionKey(t *testing.T) {
	direct := Context{Kind: KindDirect}
	privGroup := Context{Kind: KindPrivateGroup, GroupID: "g1"}
	pubGroup := Context{Kind: KindPublicGroup, GroupID: "g2"}

	assert.Equal(t, "direct-to-group", TransitionKey(direct, privGroup))
	assert.Equal(t, "group-to-direct", TransitionKey(pubGroup, direct))
	// Private and public groups collapse to the same transition word.
	assert.Equal(t, "group-to-group", TransitionKey(privGroup, pubGroup))
}

func TestRecordValidate(t *testing.T) {
	base := func() Record {
		return Record{
			ID:        "01J0000000000000000000AAAA",
			UserID:    "user-1",
			Content:   "hello",
			Timestamp: time.Now(),
			Context:   Context{Kind: KindDirect, IsPrivate: true, Level: LevelPrivateIsolated},
		}
	}

	rec := base()
	require.NoError(t, rec.Validate())

	rec = base()
	rec.UserID = "  "
	assert.ErrorIs(t, rec.Validate(), ErrEmptyUserID)

	rec = base()
	rec.Content = ""
	assert.ErrorIs(t, rec.Validate(), ErrEmptyContent)

	rec = base()
	rec.ImportanceScore = 1.5
	assert.ErrorIs(t, rec.Validate(), ErrInvalidScore)

	rec = base()
	rec.Context.Level = LevelPublicGroup
	assert.ErrorIs(t, rec.Validate(), ErrInvalidContext)
}

func TestRecordHasTag(t *testing.T) {
	rec := Record{Tags: []string{TagCrossGroupSafe}}
	assert.True(t, rec.HasTag(TagCrossGroupSafe))
	assert.False(t, rec.HasTag(TagHighSensitivity))
}

func TestRecordEffectiveContext(t *testing.T) {
	// A record recovered without a context is treated as fully private.
	rec := Record{}
	got := rec.EffectiveContext()
	assert.Equal(t, KindDirect, got.Kind)
	assert.Equal(t, LevelPrivateIsolated, got.Level)
	assert.True(t, got.IsPrivate)

	rec.Context = Context{Kind: KindPublicGroup, GroupID: "g", Level: LevelPublicGroup}
	assert.Equal(t, rec.Context, rec.EffectiveContext())
}
