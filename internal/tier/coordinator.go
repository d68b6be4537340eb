package tier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/boundary"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// BoundaryChecker decides whether a stored record may surface in a target
// context. Implemented by boundary.Manager.
type BoundaryChecker interface {
	CheckMemory(ctx context.Context, userID string, rec *memory.Record, target memory.Context) (boundary.Decision, error)
}

// CoordinatorConfig bounds fan-out behavior.
type CoordinatorConfig struct {
	// InteractiveTimeout bounds interactive recall fan-out.
	InteractiveTimeout time.Duration

	// DeepTimeout bounds deep analysis retrieval fan-out.
	DeepTimeout time.Duration

	// DefaultLimit is the result limit when the caller passes none.
	DefaultLimit int
}

// ApplyDefaults sets default values for unset fields.
func (c *CoordinatorConfig) ApplyDefaults() {
	if c.InteractiveTimeout == 0 {
		c.InteractiveTimeout = 800 * time.Millisecond
	}
	if c.DeepTimeout == 0 {
		c.DeepTimeout = 60 * time.Second
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = 10
	}
}

// Coordinator presents a single store/retrieve contract over the physical
// tiers. The archive write is the only mandatory one; everything else is
// best-effort, and retrieval degrades by excluding failed tiers.
type Coordinator struct {
	archive *Archive
	cache   *Cache
	extras  []Tier
	checker BoundaryChecker
	config  CoordinatorConfig
	logger  *logging.Logger
}

// NewCoordinator wires the coordinator. The archive and checker are
// required; cache and extras (semantic, graph) may be nil/empty.
func NewCoordinator(archive *Archive, cache *Cache, extras []Tier, checker BoundaryChecker, config CoordinatorConfig, logger *logging.Logger) (*Coordinator, error) {
	if archive == nil {
		return nil, fmt.Errorf("%w: archive is required", ErrArchiveUnavailable)
	}
	if checker == nil {
		return nil, fmt.Errorf("coordinator: boundary checker is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	config.ApplyDefaults()

	return &Coordinator{
		archive: archive,
		cache:   cache,
		extras:  extras,
		checker: checker,
		config:  config,
		logger:  logger,
	}, nil
}

// Store persists the record. The durable archive write must succeed;
// derived tiers are best-effort and their failures are warnings.
func (c *Coordinator) Store(ctx context.Context, rec *memory.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	if err := c.archive.Store(ctx, rec); err != nil {
		StoreTotal.WithLabelValues("error").Inc()
		TierFailures.WithLabelValues(TierArchive).Inc()
		return err
	}

	if c.cache != nil {
		if err := c.cache.Store(ctx, rec); err != nil {
			TierFailures.WithLabelValues(TierCache).Inc()
			c.logger.Warn(ctx, "cache store failed", zap.Error(err))
		}
	}
	for _, t := range c.extras {
		if err := t.Store(ctx, rec); err != nil {
			TierFailures.WithLabelValues(t.Name()).Inc()
			c.logger.Warn(ctx, "derived tier store failed",
				zap.String("tier", t.Name()), zap.Error(err))
		}
	}

	StoreTotal.WithLabelValues("success").Inc()
	return nil
}

// tierResult is one tier's contribution to a fan-out.
type tierResult struct {
	name string
	recs []memory.Record
	err  error
}

// Retrieve fans out across enabled tiers under one deadline, merges and
// dedupes candidates, and boundary-filters every record against the query
// context before returning. Tier failures degrade the result, never the
// call; only boundary evaluation failure narrows it to the emergency-safe
// subset.
func (c *Coordinator) Retrieve(ctx context.Context, userID, query string, queryCtx memory.Context, limit int, deep bool) ([]memory.Record, RetrievalInfo, error) {
	if userID == "" {
		return nil, RetrievalInfo{}, memory.ErrEmptyUserID
	}
	if err := queryCtx.Validate(); err != nil {
		return nil, RetrievalInfo{}, err
	}
	if limit <= 0 {
		limit = c.config.DefaultLimit
	}

	timeout := c.config.InteractiveTimeout
	if deep {
		timeout = c.config.DeepTimeout
	}
	fanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		RetrieveDuration.Observe(time.Since(started).Seconds())
	}()

	tiers := c.enabledTiers()
	results := make(chan tierResult, len(tiers))
	for _, t := range tiers {
		t := t
		go func() {
			recs, err := t.Retrieve(fanCtx, userID, query, limit)
			results <- tierResult{name: t.Name(), recs: recs, err: err}
		}()
	}

	info := RetrievalInfo{TierErrors: map[string]string{}}
	byTier := make(map[string][]memory.Record, len(tiers))
	responded := make(map[string]bool, len(tiers))

collect:
	for range tiers {
		select {
		case res := <-results:
			responded[res.name] = true
			if res.err != nil {
				info.TierErrors[res.name] = res.err.Error()
				TierFailures.WithLabelValues(res.name).Inc()
				c.logger.Warn(ctx, "tier retrieval failed",
					zap.String("tier", res.name), zap.Error(res.err))
				continue
			}
			info.TiersUsed = append(info.TiersUsed, res.name)
			byTier[res.name] = res.recs
		case <-fanCtx.Done():
			// Outstanding tiers are abandoned and excluded.
			break collect
		}
	}
	for _, t := range tiers {
		if !responded[t.Name()] {
			info.TierErrors[t.Name()] = context.DeadlineExceeded.Error()
			TierFailures.WithLabelValues(t.Name()).Inc()
		}
	}
	info.Degraded = len(info.TierErrors) > 0
	if len(info.TierErrors) == 0 {
		info.TierErrors = nil
	}
	sort.Strings(info.TiersUsed)

	merged := c.merge(byTier)

	filtered, emergency := c.boundaryFilter(ctx, userID, queryCtx, merged)
	if emergency {
		info.EmergencySafe = true
		RetrieveTotal.WithLabelValues("emergency_safe").Inc()
	} else if info.Degraded {
		RetrieveTotal.WithLabelValues("degraded").Inc()
	} else {
		RetrieveTotal.WithLabelValues("success").Inc()
	}

	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, info, nil
}

// enabledTiers lists all tiers participating in fan-out. The archive
// participates like any other on the read path; it is only special for
// writes.
func (c *Coordinator) enabledTiers() []Tier {
	tiers := []Tier{c.archive}
	if c.cache != nil {
		tiers = append(tiers, c.cache)
	}
	tiers = append(tiers, c.extras...)
	return tiers
}

// merge combines per-tier candidates, deduplicating by record ID. The
// archive's copy wins duplicates since it is the source of truth. The
// merged set is ordered newest first.
func (c *Coordinator) merge(byTier map[string][]memory.Record) []memory.Record {
	order := []string{TierArchive, TierCache, TierSemantic, TierGraph}
	seen := make(map[string]bool)
	var merged []memory.Record

	appendFrom := func(recs []memory.Record) {
		for i := range recs {
			if recs[i].ID == "" || seen[recs[i].ID] {
				continue
			}
			seen[recs[i].ID] = true
			merged = append(merged, recs[i])
		}
	}

	for _, name := range order {
		appendFrom(byTier[name])
		delete(byTier, name)
	}
	for _, recs := range byTier {
		appendFrom(recs)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}

// boundaryFilter removes every candidate whose stored context fails the
// boundary check against the query context. If boundary evaluation itself
// errors, it returns only the explicitly safe-tagged subset.
func (c *Coordinator) boundaryFilter(ctx context.Context, userID string, queryCtx memory.Context, recs []memory.Record) (filtered []memory.Record, emergency bool) {
	for i := range recs {
		decision, err := c.checker.CheckMemory(ctx, userID, &recs[i], queryCtx)
		if err != nil {
			c.logger.Error(ctx, "boundary evaluation failed, returning safe subset only",
				zap.Error(err))
			return boundary.SafeSubset(recs), true
		}
		if decision.Allowed {
			filtered = append(filtered, recs[i])
		}
	}
	return filtered, false
}

// Recent returns the user's most recent turns in exact recency order,
// served from the cache when warm and repopulated from the archive when
// cold.
func (c *Coordinator) Recent(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}
	if limit <= 0 {
		limit = c.config.DefaultLimit
	}

	if c.cache != nil {
		recs, err := c.cache.Recent(ctx, userID, limit)
		if err == nil && len(recs) > 0 {
			return recs, nil
		}
	}

	recs, err := c.archive.Recent(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	// Warm the cache for the next call, oldest first to preserve order.
	if c.cache != nil {
		for i := len(recs) - 1; i >= 0; i-- {
			_ = c.cache.Store(ctx, &recs[i])
		}
	}
	return recs, nil
}

// Archive exposes the durable tier for analysis paths that need the
// complete, authoritative record set.
func (c *Coordinator) Archive() *Archive {
	return c.archive
}

// Close closes every tier. The archive closes last.
func (c *Coordinator) Close() error {
	var firstErr error
	for _, t := range c.extras {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.archive.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
