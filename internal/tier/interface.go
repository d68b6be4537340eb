// Package tier implements the tiered storage coordinator: a recent-turn
// cache, a durable archive, a semantic similarity index, and an optional
// relationship graph behind one store/retrieve contract.
//
// The durable archive is the source of truth; every other tier holds
// derived, best-effort copies. Retrieval fans out across enabled tiers
// concurrently under one deadline and degrades by exclusion: a failed or
// slow tier costs candidates, never the whole call.
package tier

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Sentinel errors for tier operations.
var (
	// ErrTierUnavailable indicates one storage tier is down. Recovered by
	// exclusion and logged as a warning.
	ErrTierUnavailable = errors.New("storage tier unavailable")

	// ErrArchiveUnavailable indicates the durable archive is down. The only
	// tier outage that blocks writes.
	ErrArchiveUnavailable = errors.New("durable archive unavailable")

	// ErrRecordNotFound is returned for lookups of unknown record IDs.
	ErrRecordNotFound = errors.New("memory record not found")
)

// Tier names reported in RetrievalInfo.TiersUsed.
const (
	TierCache    = "cache"
	TierArchive  = "archive"
	TierSemantic = "semantic"
	TierGraph    = "graph"
)

// Tier is one physical backing store contributing to memory retrieval.
type Tier interface {
	// Name identifies the tier in logs and RetrievalInfo.
	Name() string

	// Store writes a derived copy of the record. Best-effort for every tier
	// except the archive.
	Store(ctx context.Context, rec *memory.Record) error

	// Retrieve returns candidate records for the query, unfiltered by
	// privacy boundaries. The coordinator applies boundary filtering.
	Retrieve(ctx context.Context, userID, query string, limit int) ([]memory.Record, error)

	// Close releases tier resources.
	Close() error
}

// RetrievalInfo reports how a retrieval was served, for observability and
// degradation-aware callers.
type RetrievalInfo struct {
	// TiersUsed lists tiers that contributed candidates.
	TiersUsed []string `json:"tiers_used"`

	// TierErrors maps failed tiers to their error strings.
	TierErrors map[string]string `json:"tier_errors,omitempty"`

	// Degraded is set when at least one enabled tier failed or timed out.
	Degraded bool `json:"degraded"`

	// EmergencySafe is set when boundary evaluation itself failed and only
	// explicitly safe-tagged memories (or nothing) were returned.
	EmergencySafe bool `json:"emergency_safe,omitempty"`
}
