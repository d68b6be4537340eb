package insight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/tier"
)

// DetectorConfig bounds pattern emission.
type DetectorConfig struct {
	// MinConfidence is the emission threshold.
	MinConfidence float64

	// MinFrequency is the minimum supporting count for frequency-based
	// detectors.
	MinFrequency int
}

// ApplyDefaults sets default values for unset fields.
func (c *DetectorConfig) ApplyDefaults() {
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.6
	}
	if c.MinFrequency == 0 {
		c.MinFrequency = 2
	}
}

// detector is one independent pattern detector.
type detector func(recs []memory.Record, cfg DetectorConfig) []Pattern

// detectors in emission order. Each runs independently; one detector
// finding nothing never affects another.
var detectors = []detector{
	detectTemporal,
	detectBehavioral,
	detectTopical,
	detectEmotional,
	detectConversational,
	detectPreference,
}

// DetectPatterns runs every detector over the memory set and returns the
// patterns at or above the confidence threshold, sorted descending by
// confidence.
func DetectPatterns(recs []memory.Record, cfg DetectorConfig) []Pattern {
	cfg.ApplyDefaults()

	var patterns []Pattern
	for _, detect := range detectors {
		for _, p := range detect(recs, cfg) {
			if p.Confidence >= cfg.MinConfidence {
				patterns = append(patterns, p)
			}
		}
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Confidence > patterns[j].Confidence
	})
	return patterns
}

// newPattern fills the common fields from the supporting records.
func newPattern(ptype PatternType, title, description string, confidence float64, supporting []memory.Record) Pattern {
	p := Pattern{
		ID:          uuid.NewString(),
		Type:        ptype,
		Title:       title,
		Description: description,
		Confidence:  clip01(confidence),
		Frequency:   len(supporting),
	}
	for i := range supporting {
		p.MemoryIDs = append(p.MemoryIDs, supporting[i].ID)
		ts := supporting[i].Timestamp
		if p.FirstSeen.IsZero() || ts.Before(p.FirstSeen) {
			p.FirstSeen = ts
		}
		if ts.After(p.LastSeen) {
			p.LastSeen = ts
		}
	}
	return p
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

// timeBucket assigns an hour of day to a named bucket.
func timeBucket(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

// detectTemporal clusters conversations by time-of-day bucket and emits a
// pattern per bucket meeting the minimum frequency.
func detectTemporal(recs []memory.Record, cfg DetectorConfig) []Pattern {
	buckets := make(map[string][]memory.Record)
	for i := range recs {
		b := timeBucket(recs[i].Timestamp.Hour())
		buckets[b] = append(buckets[b], recs[i])
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	var patterns []Pattern
	for _, name := range names {
		hits := buckets[name]
		if len(hits) < cfg.MinFrequency {
			continue
		}
		confidence := float64(len(hits)) / float64(len(recs))
		// A bucket holding most of the activity is a strong habit even
		// with few total memories.
		if len(hits) >= cfg.MinFrequency*2 {
			confidence = clip01(confidence + 0.2)
		}
		patterns = append(patterns, newPattern(
			PatternTemporal,
			fmt.Sprintf("Active in the %s", name),
			fmt.Sprintf("%d of %d conversations happen in the %s", len(hits), len(recs), name),
			confidence,
			hits,
		))
	}
	return patterns
}

// habitualMarkers signal recurring habitual language.
var habitualMarkers = []string{
	"always", "every day", "every morning", "every night", "every week",
	"usually", "routine", "habit", "daily", "weekly", "whenever i",
	"i keep", "again and again", "as usual", "like always",
}

// detectBehavioral finds recurring habitual language.
func detectBehavioral(recs []memory.Record, cfg DetectorConfig) []Pattern {
	byMarker := make(map[string][]memory.Record)
	for i := range recs {
		text := strings.ToLower(recs[i].Content)
		for _, marker := range habitualMarkers {
			if strings.Contains(text, marker) {
				byMarker[marker] = append(byMarker[marker], recs[i])
			}
		}
	}

	markers := make([]string, 0, len(byMarker))
	for m := range byMarker {
		markers = append(markers, m)
	}
	sort.Strings(markers)

	var patterns []Pattern
	for _, marker := range markers {
		hits := byMarker[marker]
		if len(hits) < cfg.MinFrequency {
			continue
		}
		confidence := 0.5 + 0.1*float64(len(hits))
		patterns = append(patterns, newPattern(
			PatternBehavioral,
			fmt.Sprintf("Recurring habit: %q", marker),
			fmt.Sprintf("habitual phrasing %q appears in %d conversations", marker, len(hits)),
			confidence,
			hits,
		))
	}
	return patterns
}

// detectTopical matches conversations against the shared topic vocabulary
// also used by the relationship graph tier.
func detectTopical(recs []memory.Record, cfg DetectorConfig) []Pattern {
	byTopic := make(map[string][]memory.Record)
	for i := range recs {
		for _, topic := range tier.ExtractTopics(recs[i].Content + " " + recs[i].Response) {
			byTopic[topic] = append(byTopic[topic], recs[i])
		}
	}

	topics := make([]string, 0, len(byTopic))
	for t := range byTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	var patterns []Pattern
	for _, topic := range topics {
		hits := byTopic[topic]
		if len(hits) < cfg.MinFrequency {
			continue
		}
		confidence := 0.4 + float64(len(hits))/float64(len(recs))
		patterns = append(patterns, newPattern(
			PatternTopical,
			fmt.Sprintf("Frequent topic: %s", topic),
			fmt.Sprintf("topic %q comes up in %d of %d conversations", topic, len(hits), len(recs)),
			confidence,
			hits,
		))
	}
	return patterns
}

// emotionVocabulary maps emotion names to trigger keywords.
var emotionVocabulary = map[string][]string{
	"joy":     {"happy", "excited", "thrilled", "love", "amazing", "wonderful", "great", "overjoyed"},
	"sadness": {"sad", "devastated", "heartbroken", "miserable", "crying", "depressed", "down"},
	"anger":   {"angry", "furious", "hate", "annoyed", "frustrated", "mad"},
	"fear":    {"scared", "afraid", "anxious", "worried", "terrified", "nervous"},
	"stress":  {"stressed", "overwhelmed", "exhausted", "burned out", "pressure", "deadline"},
}

// detectEmotional tags conversations by emotion keywords and emits a
// pattern per emotion exceeding the intensity floor.
func detectEmotional(recs []memory.Record, cfg DetectorConfig) []Pattern {
	byEmotion := make(map[string][]memory.Record)
	for i := range recs {
		text := strings.ToLower(recs[i].Content)
		for emotion, keywords := range emotionVocabulary {
			for _, kw := range keywords {
				if strings.Contains(text, kw) {
					byEmotion[emotion] = append(byEmotion[emotion], recs[i])
					break
				}
			}
		}
	}

	emotions := make([]string, 0, len(byEmotion))
	for e := range byEmotion {
		emotions = append(emotions, e)
	}
	sort.Strings(emotions)

	var patterns []Pattern
	for _, emotion := range emotions {
		hits := byEmotion[emotion]
		if len(hits) < cfg.MinFrequency {
			continue
		}
		intensity := float64(len(hits)) / float64(len(recs))
		confidence := 0.5 + intensity
		patterns = append(patterns, newPattern(
			PatternEmotional,
			fmt.Sprintf("Recurring emotion: %s", emotion),
			fmt.Sprintf("%s shows up in %d of %d conversations", emotion, len(hits), len(recs)),
			confidence,
			hits,
		))
	}
	return patterns
}

// detectConversational emits style patterns from question density and
// message length distribution.
func detectConversational(recs []memory.Record, cfg DetectorConfig) []Pattern {
	if len(recs) < cfg.MinFrequency {
		return nil
	}

	var questions []memory.Record
	var long []memory.Record
	var short []memory.Record
	for i := range recs {
		if strings.Contains(recs[i].Content, "?") {
			questions = append(questions, recs[i])
		}
		words := len(strings.Fields(recs[i].Content))
		switch {
		case words >= 60:
			long = append(long, recs[i])
		case words > 0 && words <= 8:
			short = append(short, recs[i])
		}
	}

	var patterns []Pattern
	if ratio := float64(len(questions)) / float64(len(recs)); ratio >= 0.5 && len(questions) >= cfg.MinFrequency {
		patterns = append(patterns, newPattern(
			PatternConversational,
			"Question-driven conversations",
			fmt.Sprintf("%d of %d messages are questions", len(questions), len(recs)),
			0.4+ratio,
			questions,
		))
	}
	if ratio := float64(len(long)) / float64(len(recs)); ratio >= 0.5 && len(long) >= cfg.MinFrequency {
		patterns = append(patterns, newPattern(
			PatternConversational,
			"Long-form messages",
			fmt.Sprintf("%d of %d messages run long", len(long), len(recs)),
			0.4+ratio,
			long,
		))
	}
	if ratio := float64(len(short)) / float64(len(recs)); ratio >= 0.5 && len(short) >= cfg.MinFrequency {
		patterns = append(patterns, newPattern(
			PatternConversational,
			"Short, terse messages",
			fmt.Sprintf("%d of %d messages are brief", len(short), len(recs)),
			0.4+ratio,
			short,
		))
	}
	return patterns
}

// likeMarkers and dislikeMarkers signal explicit preference language.
var likeMarkers = []string{
	"i love", "i like", "i enjoy", "i prefer", "my favorite", "i'm a fan of",
}

var dislikeMarkers = []string{
	"i hate", "i dislike", "i can't stand", "i don't like", "not a fan of",
}

// detectPreference finds explicit like/dislike statements.
func detectPreference(recs []memory.Record, cfg DetectorConfig) []Pattern {
	var likes []memory.Record
	var dislikes []memory.Record
	for i := range recs {
		text := strings.ToLower(recs[i].Content)
		for _, m := range likeMarkers {
			if strings.Contains(text, m) {
				likes = append(likes, recs[i])
				break
			}
		}
		for _, m := range dislikeMarkers {
			if strings.Contains(text, m) {
				dislikes = append(dislikes, recs[i])
				break
			}
		}
	}

	var patterns []Pattern
	if len(likes) >= cfg.MinFrequency {
		patterns = append(patterns, newPattern(
			PatternPreference,
			"Stated likes",
			fmt.Sprintf("%d conversations contain explicit positive preferences", len(likes)),
			0.5+0.1*float64(len(likes)),
			likes,
		))
	}
	if len(dislikes) >= cfg.MinFrequency {
		patterns = append(patterns, newPattern(
			PatternPreference,
			"Stated dislikes",
			fmt.Sprintf("%d conversations contain explicit negative preferences", len(dislikes)),
			0.5+0.1*float64(len(dislikes)),
			dislikes,
		))
	}
	return patterns
}
