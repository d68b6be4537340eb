package insight

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/importance"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// MemorySource supplies a user's memories for analysis. Implemented by the
// durable archive tier, the authoritative record set.
type MemorySource interface {
	Recent(ctx context.Context, userID string, limit int) ([]memory.Record, error)
	ByImportance(ctx context.Context, userID string, limit int) ([]memory.Record, error)
}

// EngineConfig bounds analysis runs.
type EngineConfig struct {
	// MaxMemories caps the analyzed subset.
	MaxMemories int

	// AnalysisTimeout bounds the whole run, scoring and detection included.
	AnalysisTimeout time.Duration

	// Detector holds pattern emission thresholds.
	Detector DetectorConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *EngineConfig) ApplyDefaults() {
	if c.MaxMemories == 0 {
		c.MaxMemories = 50
	}
	if c.AnalysisTimeout == 0 {
		c.AnalysisTimeout = 60 * time.Second
	}
	c.Detector.ApplyDefaults()
}

// Engine runs network analysis: importance scoring and pattern detection
// concurrently over a bounded memory subset, then synthesis.
type Engine struct {
	source MemorySource
	scorer *importance.Scorer
	config EngineConfig
	logger *logging.Logger
	now    func() time.Time
}

// NewEngine wires the analysis engine.
func NewEngine(source MemorySource, scorer *importance.Scorer, config EngineConfig, logger *logging.Logger) (*Engine, error) {
	if source == nil {
		return nil, errors.New("insight: memory source is required")
	}
	if scorer == nil {
		return nil, errors.New("insight: scorer is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	config.ApplyDefaults()
	return &Engine{
		source: source,
		scorer: scorer,
		config: config,
		logger: logger,
		now:    time.Now,
	}, nil
}

// WithNow overrides the clock. For tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// minimalResult is what callers get when the run degrades: no partial
// scores or patterns, just an explicit status.
func (e *Engine) minimalResult(userID, status string, started time.Time) NetworkAnalysis {
	return NetworkAnalysis{
		UserID:      userID,
		Status:      status,
		GeneratedAt: e.now(),
		Duration:    time.Since(started),
	}
}

// AnalyzeNetwork scores and pattern-detects the user's bounded memory set
// under one timeout. On timeout or unhandled error it returns a minimal
// result flagged by Status; it never raises and never surfaces partial
// concurrent output.
func (e *Engine) AnalyzeNetwork(ctx context.Context, userID string) (NetworkAnalysis, error) {
	if userID == "" {
		return NetworkAnalysis{}, memory.ErrEmptyUserID
	}

	started := time.Now()
	defer func() {
		AnalysisDuration.Observe(time.Since(started).Seconds())
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.config.AnalysisTimeout)
	defer cancel()

	recs, err := e.selectMemories(runCtx, userID)
	if err != nil {
		e.logger.Warn(ctx, "memory selection failed", zap.Error(err))
		AnalysisTotal.WithLabelValues(StatusError).Inc()
		return e.minimalResult(userID, StatusError, started), nil
	}
	if len(recs) == 0 {
		AnalysisTotal.WithLabelValues(StatusEmpty).Inc()
		return e.minimalResult(userID, StatusEmpty, started), nil
	}

	// Scoring and detection have no data dependency; run them
	// concurrently under the shared deadline.
	scoresCh := make(chan []ScoredMemory, 1)
	patternsCh := make(chan []Pattern, 1)

	go func() {
		scores := make([]ScoredMemory, len(recs))
		for i := range recs {
			scores[i] = ScoredMemory{
				MemoryID: recs[i].ID,
				Score:    e.scorer.Score(&recs[i], recs),
			}
		}
		scoresCh <- scores
	}()
	go func() {
		patternsCh <- DetectPatterns(recs, e.config.Detector)
	}()

	var scores []ScoredMemory
	var patterns []Pattern
	for i := 0; i < 2; i++ {
		select {
		case scores = <-scoresCh:
		case patterns = <-patternsCh:
		case <-runCtx.Done():
			e.logger.Warn(ctx, "analysis timed out, returning minimal result",
				zap.String("user.id", userID))
			AnalysisTotal.WithLabelValues(StatusTimedOut).Inc()
			return e.minimalResult(userID, StatusTimedOut, started), nil
		}
	}

	scored := make([]memory.Record, len(recs))
	copy(scored, recs)
	byID := make(map[string]float64, len(scores))
	for _, s := range scores {
		byID[s.MemoryID] = s.Score
	}
	for i := range scored {
		scored[i].ImportanceScore = byID[scored[i].ID]
	}
	core := importance.CoreMemories(scored, 10)
	coreIDs := make([]string, len(core))
	for i := range core {
		coreIDs[i] = core[i].ID
	}

	result := NetworkAnalysis{
		UserID:          userID,
		Status:          StatusComplete,
		AnalyzedCount:   len(recs),
		Importance:      scores,
		CoreMemoryIDs:   coreIDs,
		Patterns:        patterns,
		Recommendations: synthesize(scored, coreIDs, patterns),
		GeneratedAt:     e.now(),
		Duration:        time.Since(started),
	}
	AnalysisTotal.WithLabelValues(StatusComplete).Inc()
	return result, nil
}

// selectMemories returns the bounded analysis subset: the whole set when it
// fits the cap, otherwise a balanced half-by-importance / half-by-recency
// selection.
func (e *Engine) selectMemories(ctx context.Context, userID string) ([]memory.Record, error) {
	limit := e.config.MaxMemories

	recent, err := e.source.Recent(ctx, userID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("select recent: %w", err)
	}
	if len(recent) <= limit {
		return recent, nil
	}

	half := limit / 2
	top, err := e.source.ByImportance(ctx, userID, half)
	if err != nil {
		return nil, fmt.Errorf("select by importance: %w", err)
	}

	seen := make(map[string]bool, limit)
	selected := make([]memory.Record, 0, limit)
	for i := range top {
		if !seen[top[i].ID] {
			seen[top[i].ID] = true
			selected = append(selected, top[i])
		}
	}
	for i := range recent {
		if len(selected) >= limit {
			break
		}
		if !seen[recent[i].ID] {
			seen[recent[i].ID] = true
			selected = append(selected, recent[i])
		}
	}
	return selected, nil
}

// synthesize cross-references importance and patterns into prioritized
// recommendations with supporting memory and pattern IDs.
func synthesize(scored []memory.Record, coreIDs []string, patterns []Pattern) []Recommendation {
	var recs []Recommendation

	coreSet := make(map[string]bool, len(coreIDs))
	for _, id := range coreIDs {
		coreSet[id] = true
	}

	// Patterns whose supporting memories concentrate among the core set
	// matter most: the user's significant memories cluster there.
	for _, p := range patterns {
		var coreHits int
		for _, id := range p.MemoryIDs {
			if coreSet[id] {
				coreHits++
			}
		}
		if len(p.MemoryIDs) == 0 {
			continue
		}
		overlap := float64(coreHits) / float64(len(p.MemoryIDs))
		if overlap < 0.5 || coreHits < 2 {
			continue
		}
		recs = append(recs, Recommendation{
			Text: fmt.Sprintf("%s: %d of your most significant memories share this pattern (%s)",
				p.Title, coreHits, p.Description),
			MemoryIDs:  intersect(p.MemoryIDs, coreSet),
			PatternIDs: []string{p.ID},
			Confidence: clip01(p.Confidence * overlap),
		})
	}

	// Emotional patterns with high aggregate importance deserve a callout
	// even without core-set overlap.
	for _, p := range patterns {
		if p.Type != PatternEmotional {
			continue
		}
		if avgScore(scored, p.MemoryIDs) >= 0.6 {
			recs = append(recs, Recommendation{
				Text:       fmt.Sprintf("High-importance memories cluster around %q", p.Title),
				MemoryIDs:  p.MemoryIDs,
				PatternIDs: []string{p.ID},
				Confidence: p.Confidence,
			})
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Confidence > recs[j].Confidence
	})
	for i := range recs {
		recs[i].Priority = i + 1
	}
	return recs
}

func intersect(ids []string, set map[string]bool) []string {
	var out []string
	for _, id := range ids {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

func avgScore(scored []memory.Record, ids []string) float64 {
	if len(ids) == 0 {
		return 0
	}
	byID := make(map[string]float64, len(scored))
	for i := range scored {
		byID[scored[i].ID] = scored[i].ImportanceScore
	}
	var sum float64
	for _, id := range ids {
		sum += byID[id]
	}
	return sum / float64(len(ids))
}
