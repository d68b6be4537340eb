// Package insight detects recurring patterns in a user's memory set and
// synthesizes cross-component recommendations. Everything it produces is
// derived data, recomputed per analysis run.
package insight

import (
	"errors"
	"time"
)

// ErrAnalysisTimeout marks an analysis run that exceeded its deadline.
// Callers receive a minimal flagged result, never a panic or partial data.
var ErrAnalysisTimeout = errors.New("insight: analysis timed out")

// PatternType classifies a detected pattern.
type PatternType string

const (
	PatternTemporal       PatternType = "temporal"
	PatternBehavioral     PatternType = "behavioral"
	PatternTopical        PatternType = "topical"
	PatternEmotional      PatternType = "emotional"
	PatternConversational PatternType = "conversational"
	PatternPreference     PatternType = "preference"
)

// Pattern is one detected regularity in a user's memory set.
type Pattern struct {
	ID          string      `json:"id"`
	Type        PatternType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Confidence  float64     `json:"confidence"`
	MemoryIDs   []string    `json:"memory_ids"`
	Frequency   int         `json:"frequency"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
}

// ScoredMemory pairs a memory ID with its computed importance.
type ScoredMemory struct {
	MemoryID string  `json:"memory_id"`
	Score    float64 `json:"score"`
}

// Recommendation is a prioritized, human-readable synthesis output with
// its supporting evidence.
type Recommendation struct {
	Priority   int      `json:"priority"`
	Text       string   `json:"text"`
	MemoryIDs  []string `json:"memory_ids,omitempty"`
	PatternIDs []string `json:"pattern_ids,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Analysis statuses.
const (
	StatusComplete = "complete"
	StatusTimedOut = "timed_out"
	StatusError    = "error"
	StatusEmpty    = "empty"
)

// NetworkAnalysis is the result of one analysis run. Status is "complete"
// for a full run; degraded runs carry a minimal result and an explicit
// non-complete status.
type NetworkAnalysis struct {
	UserID          string           `json:"user_id"`
	Status          string           `json:"status"`
	AnalyzedCount   int              `json:"analyzed_count"`
	Importance      []ScoredMemory   `json:"importance,omitempty"`
	CoreMemoryIDs   []string         `json:"core_memory_ids,omitempty"`
	Patterns        []Pattern        `json:"patterns,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Duration        time.Duration    `json:"duration"`
}
