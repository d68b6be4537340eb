// Package service is the public façade of the memory subsystem. It wires
// classification, boundary enforcement, tiered storage, importance scoring
// and network analysis behind one API consumed by the HTTP surface and by
// embedding applications.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/boundary"
	"github.com/fyrsmithlabs/recalld/internal/importance"
	"github.com/fyrsmithlabs/recalld/internal/insight"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/privacy"
	"github.com/fyrsmithlabs/recalld/internal/tier"
)

// historyWindow is how many recent turns feed importance scoring at store
// time.
const historyWindow = 50

// Engine exposes every public operation of the memory subsystem.
type Engine struct {
	classifier  *boundary.Classifier
	boundaries  *boundary.Manager
	coordinator *tier.Coordinator
	scorer      *importance.Scorer
	insights    *insight.Engine
	audit       privacy.AuditStore
	logger      *logging.Logger
	now         func() time.Time
}

// NewEngine wires the façade. All dependencies are required except the
// logger.
func NewEngine(
	classifier *boundary.Classifier,
	boundaries *boundary.Manager,
	coordinator *tier.Coordinator,
	scorer *importance.Scorer,
	insights *insight.Engine,
	audit privacy.AuditStore,
	logger *logging.Logger,
) (*Engine, error) {
	switch {
	case classifier == nil:
		return nil, errors.New("service: classifier is required")
	case boundaries == nil:
		return nil, errors.New("service: boundary manager is required")
	case coordinator == nil:
		return nil, errors.New("service: tier coordinator is required")
	case scorer == nil:
		return nil, errors.New("service: importance scorer is required")
	case insights == nil:
		return nil, errors.New("service: insight engine is required")
	case audit == nil:
		return nil, errors.New("service: audit store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		classifier:  classifier,
		boundaries:  boundaries,
		coordinator: coordinator,
		scorer:      scorer,
		insights:    insights,
		audit:       audit,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// WithNow overrides the clock. For tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ClassifyContext maps a raw platform descriptor to a classified Context.
func (e *Engine) ClassifyContext(raw memory.RawContext) memory.Context {
	return e.classifier.Classify(raw)
}

// StoreRequest carries one conversational turn to persist.
type StoreRequest struct {
	UserID   string
	Content  string
	Response string

	// Context is the raw venue descriptor; it is classified before storage.
	Context memory.RawContext

	// Timestamp defaults to now when zero.
	Timestamp time.Time

	// Tags are caller-supplied markers. cross_group_safe is only ever set
	// here, never inferred.
	Tags []string

	Metadata map[string]string
}

// StoreConversation classifies, scores and persists one turn. The record
// is tagged with its originating context; the durable archive write must
// succeed for the call to succeed.
func (e *Engine) StoreConversation(ctx context.Context, req StoreRequest) (*memory.Record, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, memory.ErrEmptyUserID
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, memory.ErrEmptyContent
	}
	ctx = logging.WithUserID(ctx, req.UserID)

	ts := req.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	rec := &memory.Record{
		ID:        ulid.Make().String(),
		UserID:    req.UserID,
		Content:   req.Content,
		Response:  req.Response,
		Timestamp: ts,
		Context:   e.classifier.Classify(req.Context),
		Tags:      req.Tags,
		Metadata:  req.Metadata,
	}

	history, err := e.coordinator.Recent(ctx, req.UserID, historyWindow)
	if err != nil {
		// Scoring degrades without history; storage does not.
		e.logger.Warn(ctx, "recent history unavailable for scoring", zap.Error(err))
		history = nil
	}
	rec.ImportanceScore = e.scorer.Score(rec, history)

	if err := e.coordinator.Store(ctx, rec); err != nil {
		return nil, err
	}
	e.logger.Debug(ctx, "conversation stored",
		zap.String("memory.id", rec.ID),
		zap.String("context.kind", string(rec.Context.Kind)))
	return rec, nil
}

// RetrieveRelevantMemories returns the stored memories relevant to the
// query that the boundary rules permit in the query's context. The
// RetrievalInfo reports tier degradation; a degraded result is still a
// valid result.
func (e *Engine) RetrieveRelevantMemories(ctx context.Context, userID, query string, raw memory.RawContext, limit int) ([]memory.Record, tier.RetrievalInfo, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, tier.RetrievalInfo{}, memory.ErrEmptyUserID
	}
	ctx = logging.WithUserID(ctx, userID)
	queryCtx := e.classifier.Classify(raw)
	return e.coordinator.Retrieve(ctx, userID, query, queryCtx, limit, false)
}

// GetRecentConversations returns the user's latest turns in exact recency
// order. Recency listing is venue-agnostic; boundary rules apply to
// cross-context relevance retrieval, not to a user reading their own
// timeline.
func (e *Engine) GetRecentConversations(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, memory.ErrEmptyUserID
	}
	return e.coordinator.Recent(logging.WithUserID(ctx, userID), userID, limit)
}

// GetUserPrivacySettings returns the user's preference, lazily creating
// the MODERATE default on first access.
func (e *Engine) GetUserPrivacySettings(ctx context.Context, userID string) (*privacy.Preference, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, memory.ErrEmptyUserID
	}
	return e.boundaries.Preference(logging.WithUserID(ctx, userID), userID)
}

// UpdatePrivacySettings applies a partial update to the user's preference.
// The mutation happens as a storage-level upsert of the merged preference.
func (e *Engine) UpdatePrivacySettings(ctx context.Context, userID string, update privacy.Update) (*privacy.Preference, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, memory.ErrEmptyUserID
	}
	return e.boundaries.UpdatePreference(logging.WithUserID(ctx, userID), userID, update)
}

// RequestConsent asks the user to approve a cross-context transition and
// returns the token the eventual response must carry.
func (e *Engine) RequestConsent(ctx context.Context, userID string, source, target memory.RawContext) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", memory.ErrEmptyUserID
	}
	ctx = logging.WithUserID(ctx, userID)
	return e.boundaries.RequestConsent(ctx, userID,
		e.classifier.Classify(source), e.classifier.Classify(target))
}

// ResolveConsent applies the user's response to a pending consent request.
// Unparseable responses and expired tokens resolve as denial.
func (e *Engine) ResolveConsent(ctx context.Context, token, response string) (boundary.Decision, error) {
	return e.boundaries.ResolveConsent(ctx, token, response)
}

// AnalyzeMemoryNetwork runs bounded importance scoring, pattern detection
// and synthesis for the user. Degraded runs return a minimal result with
// an explicit status instead of an error.
func (e *Engine) AnalyzeMemoryNetwork(ctx context.Context, userID string) (insight.NetworkAnalysis, error) {
	if strings.TrimSpace(userID) == "" {
		return insight.NetworkAnalysis{}, memory.ErrEmptyUserID
	}
	return e.insights.AnalyzeNetwork(logging.WithUserID(ctx, userID), userID)
}

// GetAuditHistory returns boundary decision audit entries, newest first.
// An empty userID returns entries across all users.
func (e *Engine) GetAuditHistory(ctx context.Context, userID string, limit int) ([]privacy.AuditEntry, error) {
	return e.audit.History(ctx, userID, limit)
}

// PruneAudit removes audit entries older than the retention window and
// returns how many were dropped.
func (e *Engine) PruneAudit(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := e.now().Add(-retention)
	return e.audit.Prune(ctx, cutoff)
}

// Healthy reports whether the durable archive is reachable.
func (e *Engine) Healthy(ctx context.Context) error {
	return e.coordinator.Archive().Ping(ctx)
}

// Close shuts down the storage tiers.
func (e *Engine) Close() error {
	return e.coordinator.Close()
}
