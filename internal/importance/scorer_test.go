package importance

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedScorer() *Scorer {
	return NewScorer(DefaultWeights()).WithNow(func() time.Time { return testNow })
}

func record(id, content string, ts time.Time) memory.Record {
	return memory.Record{
		ID:        id,
		UserID:    "user-1",
		Content:   content,
		Timestamp: ts,
		Context:   memory.Context{Kind: memory.KindDirect, IsPrivate: true, Level: memory.LevelPrivateIsolated},
	}
}

func TestScoreStaysInRange(t *testing.T) {
	s := fixedScorer()
	tests := []string{
		"",
		"ok",
		"I love love love this, I'm thrilled and overjoyed and so excited!!! " +
			"My best friend and my sister were crying, I feel amazing, honestly my dream came true!",
		"the weather report says rain tomorrow",
	}
	for i, content := range tests {
		rec := record(fmt.Sprintf("r%d", i), content, testNow)
		score := s.Score(&rec, nil)
		assert.GreaterOrEqual(t, score, 0.0, "content %q", content)
		assert.LessOrEqual(t, score, 1.0, "content %q", content)
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := fixedScorer()
	rec := record("r1", "I feel proud of my sister's wedding", testNow.Add(-time.Hour))
	history := []memory.Record{record("r2", "wedding planning updates", testNow)}

	first := s.Score(&rec, history)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Score(&rec, history))
	}
}

func TestScoreDoesNotMutateRecord(t *testing.T) {
	s := fixedScorer()
	rec := record("r1", "I love my family", testNow)
	rec.ImportanceScore = 0.123

	_ = s.Score(&rec, nil)
	assert.Equal(t, 0.123, rec.ImportanceScore)
}

func TestEmotionalContentScoresHigher(t *testing.T) {
	s := fixedScorer()
	flat := record("r1", "picked up groceries on the way home", testNow)
	charged := record("r2", "I'm devastated and heartbroken, I can't stop crying!", testNow)

	assert.Greater(t, s.Score(&charged, nil), s.Score(&flat, nil))
}

func TestPersonalDisclosureScoresHigher(t *testing.T) {
	s := fixedScorer()
	impersonal := record("r1", "the meeting starts tomorrow at noon", testNow)
	personal := record("r2", "honestly, I've never told anyone this, but my dream is to open a bakery", testNow)

	assert.Greater(t, s.Score(&personal, nil), s.Score(&impersonal, nil))
}

func TestRecencyDecay(t *testing.T) {
	s := fixedScorer()

	fresh := record("r1", "thinking about dinner plans", testNow)
	week := record("r2", "thinking about breakfast ideas", testNow.Add(-7*24*time.Hour))
	month := record("r3", "thinking about holiday menus", testNow.Add(-30*24*time.Hour))

	freshScore := s.Score(&fresh, nil)
	weekScore := s.Score(&week, nil)
	monthScore := s.Score(&month, nil)
	assert.Greater(t, freshScore, weekScore)
	assert.Greater(t, weekScore, monthScore)

	// A future timestamp does not overshoot.
	future := record("r4", "thinking about dinner plans", testNow.Add(time.Hour))
	assert.Equal(t, freshScore, s.Score(&future, nil))
}

func TestReferenceFrequencyCountsLaterTurns(t *testing.T) {
	s := fixedScorer()
	rec := record("r1", "adopted a golden retriever puppy named Biscuit", testNow.Add(-3*24*time.Hour))

	noFollowups := s.Score(&rec, nil)

	history := []memory.Record{
		record("r2", "biscuit chewed another shoe today", testNow.Add(-2*24*time.Hour)),
		record("r3", "took biscuit to the vet", testNow.Add(-24*time.Hour)),
		// Earlier turns never count as references.
		record("r0", "thinking about getting a puppy, maybe a retriever", testNow.Add(-10*24*time.Hour)),
	}
	referenced := s.Score(&rec, history)
	assert.Greater(t, referenced, noFollowups)
}

func TestUniquenessAgainstHistory(t *testing.T) {
	s := fixedScorer()
	rec := record("r1", "started learning the cello this weekend", testNow)

	novel := s.Score(&rec, []memory.Record{
		record("r2", "grocery shopping and laundry", testNow),
	})
	repeated := s.Score(&rec, []memory.Record{
		record("r3", "started learning the cello this weekend", testNow),
	})
	assert.Greater(t, novel, repeated)
}

func TestScoreZeroWeights(t *testing.T) {
	s := NewScorer(Weights{})
	rec := record("r1", "I love this!", testNow)
	assert.Equal(t, 0.0, s.Score(&rec, nil))
}

func TestCoreMemories(t *testing.T) {
	now := testNow
	recs := []memory.Record{
		{ID: "low", ImportanceScore: 0.2, Timestamp: now},
		{ID: "high", ImportanceScore: 0.9, Timestamp: now},
		{ID: "mid-old", ImportanceScore: 0.5, Timestamp: now.Add(-time.Hour)},
		{ID: "mid-new", ImportanceScore: 0.5, Timestamp: now},
	}

	top := CoreMemories(recs, 3)
	require.Len(t, top, 3)
	assert.Equal(t, "high", top[0].ID)
	// Equal scores break toward the newer record.
	assert.Equal(t, "mid-new", top[1].ID)
	assert.Equal(t, "mid-old", top[2].ID)

	// Input order is untouched.
	assert.Equal(t, "low", recs[0].ID)
}

func TestCoreMemoriesEdgeCases(t *testing.T) {
	assert.Nil(t, CoreMemories(nil, 5))
	assert.Nil(t, CoreMemories([]memory.Record{{ID: "x"}}, 0))

	all := CoreMemories([]memory.Record{{ID: "x"}, {ID: "y"}}, 10)
	assert.Len(t, all, 2)
}
