// Package importance computes bounded significance scores for memory
// records and selects core memories.
//
// Scoring is a weighted sum of sub-signals clipped to [0,1]. Weights come
// from configuration. Scoring is deterministic for identical inputs and
// never mutates the record; callers persist recomputed scores explicitly.
package importance

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Weights configures the contribution of each sub-signal.
type Weights struct {
	Emotional    float64
	Personal     float64
	Relationship float64
	Reference    float64
	Recency      float64
	Uniqueness   float64

	// RecencyHalfLife is the age at which the recency sub-signal halves.
	RecencyHalfLife time.Duration
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Emotional:       0.25,
		Personal:        0.20,
		Relationship:    0.15,
		Reference:       0.15,
		Recency:         0.15,
		Uniqueness:      0.10,
		RecencyHalfLife: 7 * 24 * time.Hour,
	}
}

// Scorer computes importance scores.
type Scorer struct {
	weights Weights

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewScorer creates a scorer with the given weights.
func NewScorer(weights Weights) *Scorer {
	if weights.RecencyHalfLife == 0 {
		weights.RecencyHalfLife = 7 * 24 * time.Hour
	}
	return &Scorer{weights: weights, now: time.Now}
}

// WithNow overrides the clock. For tests.
func (s *Scorer) WithNow(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score computes the record's importance in [0,1] given the user's recent
// history. Identical inputs yield identical output.
func (s *Scorer) Score(rec *memory.Record, recentHistory []memory.Record) float64 {
	w := s.weights
	total := w.Emotional + w.Personal + w.Relationship + w.Reference + w.Recency + w.Uniqueness
	if total == 0 {
		return 0
	}

	text := strings.ToLower(rec.Content + " " + rec.Response)
	sum := w.Emotional*emotionalIntensity(text) +
		w.Personal*personalSignificance(text) +
		w.Relationship*relationshipImpact(text) +
		w.Reference*referenceFrequency(rec, recentHistory) +
		w.Recency*s.recencyDecay(rec.Timestamp) +
		w.Uniqueness*uniqueness(rec, recentHistory)

	return clip01(sum / total)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// emotionKeywords weight emotionally loaded language.
var emotionKeywords = map[string]float64{
	"love": 1.0, "hate": 1.0, "amazing": 0.8, "terrible": 0.8,
	"excited": 0.8, "devastated": 1.0, "thrilled": 0.9, "furious": 0.9,
	"happy": 0.6, "sad": 0.6, "angry": 0.7, "scared": 0.7, "afraid": 0.7,
	"worried": 0.6, "anxious": 0.7, "proud": 0.7, "ashamed": 0.8,
	"grateful": 0.6, "heartbroken": 1.0, "overjoyed": 0.9, "miserable": 0.9,
	"wonderful": 0.7, "awful": 0.7, "crying": 0.9, "laughing": 0.5,
}

// emotionalIntensity scores emotionally loaded language, saturating at
// three strong hits.
func emotionalIntensity(text string) float64 {
	var sum float64
	for _, word := range tokenize(text) {
		if weight, ok := emotionKeywords[word]; ok {
			sum += weight
		}
	}
	// Exclamation marks add mild intensity.
	sum += 0.2 * float64(strings.Count(text, "!"))
	return clip01(sum / 3)
}

// personalMarkers signal self-referential, disclosing content.
var personalMarkers = []string{
	"i feel", "i think", "i believe", "i want", "i need", "i wish",
	"my dream", "my goal", "my secret", "i've never told", "personally",
	"to be honest", "honestly", "i'm afraid", "i realized", "i decided",
}

// personalSignificance scores self-referential content.
func personalSignificance(text string) float64 {
	var hits int
	for _, marker := range personalMarkers {
		if strings.Contains(text, marker) {
			hits++
		}
	}
	// First-person density contributes a baseline.
	words := tokenize(text)
	var firstPerson int
	for _, w := range words {
		switch w {
		case "i", "me", "my", "mine", "myself":
			firstPerson++
		}
	}
	density := 0.0
	if len(words) > 0 {
		density = float64(firstPerson) / float64(len(words))
	}
	return clip01(float64(hits)/2 + density*2)
}

// relationshipKeywords signal content about the user's relationships.
var relationshipKeywords = []string{
	"friend", "family", "mother", "father", "mom", "dad", "sister",
	"brother", "partner", "girlfriend", "boyfriend", "wife", "husband",
	"relationship", "breakup", "divorce", "wedding", "married", "dating",
	"best friend", "roommate", "colleague",
}

// relationshipImpact scores relationship-bearing content.
func relationshipImpact(text string) float64 {
	var hits int
	for _, kw := range relationshipKeywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return clip01(float64(hits) / 2)
}

// referenceFrequency measures how often later conversation alludes back to
// this memory, approximated by distinctive-token overlap with newer turns.
func referenceFrequency(rec *memory.Record, history []memory.Record) float64 {
	keywords := distinctiveTokens(rec.Content)
	if len(keywords) == 0 || len(history) == 0 {
		return 0
	}

	var references int
	for i := range history {
		if history[i].ID == rec.ID || !history[i].Timestamp.After(rec.Timestamp) {
			continue
		}
		later := strings.ToLower(history[i].Content)
		for kw := range keywords {
			if strings.Contains(later, kw) {
				references++
				break
			}
		}
	}
	return clip01(float64(references) / 3)
}

// recencyDecay applies exponential decay by age with the configured
// half-life.
func (s *Scorer) recencyDecay(ts time.Time) float64 {
	age := s.now().Sub(ts)
	if age <= 0 {
		return 1
	}
	halfLives := float64(age) / float64(s.weights.RecencyHalfLife)
	return math.Pow(0.5, halfLives)
}

// uniqueness measures lexical novelty relative to the rest of the stored
// set: 1 means no other memory shares distinctive tokens.
func uniqueness(rec *memory.Record, history []memory.Record) float64 {
	keywords := distinctiveTokens(rec.Content)
	if len(keywords) == 0 {
		return 0
	}
	if len(history) == 0 {
		return 1
	}

	var maxOverlap float64
	for i := range history {
		if history[i].ID == rec.ID {
			continue
		}
		other := distinctiveTokens(history[i].Content)
		if len(other) == 0 {
			continue
		}
		var shared int
		for kw := range keywords {
			if other[kw] {
				shared++
			}
		}
		overlap := float64(shared) / float64(len(keywords))
		if overlap > maxOverlap {
			maxOverlap = overlap
		}
	}
	return clip01(1 - maxOverlap)
}

// stopWords excluded from distinctive-token comparison.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "is": true, "are": true, "was": true, "were": true,
	"i": true, "you": true, "it": true, "that": true, "this": true,
	"to": true, "of": true, "in": true, "on": true, "for": true,
	"with": true, "my": true, "me": true, "we": true, "so": true,
	"just": true, "have": true, "has": true, "had": true, "be": true,
	"at": true, "as": true, "do": true, "did": true, "not": true,
}

func distinctiveTokens(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range tokenize(strings.ToLower(text)) {
		if len(w) >= 4 && !stopWords[w] {
			tokens[w] = true
		}
	}
	return tokens
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

// CoreMemories returns the top-limit records by importance score, ties
// broken by recency (newer wins). The input is not mutated.
func CoreMemories(recs []memory.Record, limit int) []memory.Record {
	if limit <= 0 || len(recs) == 0 {
		return nil
	}

	sorted := make([]memory.Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ImportanceScore != sorted[j].ImportanceScore {
			return sorted[i].ImportanceScore > sorted[j].ImportanceScore
		}
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
