package boundary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/privacy"
)

// Sentinel errors for boundary evaluation.
var (
	// ErrBoundaryEvaluation indicates classification or rule lookup failed.
	// Callers must fall back to the emergency-safe path, never fail open.
	ErrBoundaryEvaluation = errors.New("boundary evaluation failed")
)

// Audit decision values.
const (
	DecisionAllowed          = "allowed"
	DecisionBlocked          = "blocked"
	DecisionConsentRequested = "consent_requested"
	DecisionConsentGranted   = "consent_granted"
	DecisionConsentDenied    = "consent_denied"
	DecisionConsentExpired   = "consent_expired"
	DecisionError            = "error"
)

// Decision is the outcome of a boundary check.
type Decision struct {
	// Allowed reports whether the memory may cross from source to target.
	Allowed bool `json:"allowed"`

	// Reason explains the decision in operator-readable terms.
	Reason string `json:"reason"`

	// RequiresConsent is set when the transition was blocked by the default
	// matrix and an explicit user consent could unlock it.
	RequiresConsent bool `json:"requires_consent"`
}

// Manager enforces privacy boundaries between conversational contexts.
type Manager struct {
	prefs      privacy.PreferenceStore
	audit      privacy.AuditStore
	consents   *consentTable
	consentTTL time.Duration
	logger     *logging.Logger
}

// NewManager creates a boundary manager over the given stores.
func NewManager(prefs privacy.PreferenceStore, audit privacy.AuditStore, opts ...Option) *Manager {
	m := &Manager{
		prefs:      prefs,
		audit:      audit,
		consents:   newConsentTable(),
		consentTTL: defaultConsentTTL,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithConsentTTL sets how long a consent request stays open before expiring
// as an implicit deny.
func WithConsentTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.consentTTL = ttl }
}

// Preference returns the user's preference, creating it lazily with safe
// MODERATE defaults on first access.
func (m *Manager) Preference(ctx context.Context, userID string) (*privacy.Preference, error) {
	if userID == "" {
		return nil, memory.ErrEmptyUserID
	}
	pref, err := m.prefs.Get(ctx, userID)
	if errors.Is(err, privacy.ErrPreferenceNotFound) {
		pref = privacy.NewDefaultPreference(userID)
		if uerr := m.prefs.Upsert(ctx, pref); uerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrBoundaryEvaluation, uerr)
		}
		return pref, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBoundaryEvaluation, err)
	}
	return pref, nil
}

// UpdatePreference applies a partial update to the user's preference and
// persists the merged result. The write is a storage-level upsert, never a
// caller-side read-then-write of raw rows.
func (m *Manager) UpdatePreference(ctx context.Context, userID string, update privacy.Update) (*privacy.Preference, error) {
	pref, err := m.Preference(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := pref.Clone()
	if err := update.Apply(merged); err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	if err := m.prefs.Upsert(ctx, merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBoundaryEvaluation, err)
	}
	return merged, nil
}

// CheckBoundary decides whether memory from sourceContext may be used in
// targetContext for the given user. Identical contexts are always allowed.
// The decision is appended to the audit log before it returns.
func (m *Manager) CheckBoundary(ctx context.Context, userID string, source, target memory.Context) (Decision, error) {
	return m.check(ctx, userID, source, target, nil)
}

// CheckMemory decides whether a stored record may surface in targetContext.
// The record's tags participate: cross_group_safe upgrades the effective
// source level, high_sensitivity blocks sharing except under an explicit
// permissive toggle.
func (m *Manager) CheckMemory(ctx context.Context, userID string, rec *memory.Record, target memory.Context) (Decision, error) {
	return m.check(ctx, userID, rec.EffectiveContext(), target, rec.Tags)
}

func (m *Manager) check(ctx context.Context, userID string, source, target memory.Context, tags []string) (Decision, error) {
	if userID == "" {
		return Decision{Reason: "missing user ID"}, memory.ErrEmptyUserID
	}

	pref, err := m.Preference(ctx, userID)
	if err != nil {
		// Emergency-safe: deny and record the failure.
		m.appendAudit(ctx, userID, source, target, DecisionError, "preference lookup failed", "")
		return Decision{Allowed: false, Reason: "boundary evaluation failed"}, err
	}

	d := m.decide(pref, source, target, tags)

	decision := DecisionBlocked
	if d.Allowed {
		decision = DecisionAllowed
	}
	m.appendAudit(ctx, userID, source, target, decision, d.Reason, pref.Level)

	return d, nil
}

// decide applies the decision order: identical context, custom rule,
// high-sensitivity overlay, per-transition toggle, level matrix.
func (m *Manager) decide(pref *privacy.Preference, source, target memory.Context, tags []string) Decision {
	if source.Equal(target) {
		return Decision{Allowed: true, Reason: "identical context"}
	}

	key := memory.TransitionKey(source, target)

	// (1) A user-specific custom rule wins outright.
	if allow, ok := pref.CustomRules[key]; ok {
		if allow {
			return Decision{Allowed: true, Reason: fmt.Sprintf("custom rule %q allows", key)}
		}
		return Decision{Allowed: false, Reason: fmt.Sprintf("custom rule %q denies", key)}
	}

	// High-sensitivity content is blocked even under PERMISSIVE unless the
	// level is PERMISSIVE and the specific toggle is explicitly set.
	if hasTag(tags, memory.TagHighSensitivity) {
		toggle := m.toggleFor(pref, source, target)
		if pref.Level == privacy.LevelPermissive && toggle != nil && *toggle {
			return Decision{Allowed: true, Reason: "high-sensitivity allowed by explicit permissive toggle"}
		}
		return Decision{Allowed: false, Reason: "high-sensitivity content"}
	}

	// (2) Explicit per-transition toggle.
	if toggle := m.toggleFor(pref, source, target); toggle != nil {
		if *toggle {
			return Decision{Allowed: true, Reason: "transition toggle allows"}
		}
		return Decision{Allowed: false, Reason: "transition toggle denies"}
	}

	// (3) Default compatibility matrix for the privacy level.
	return m.matrixDecision(pref.Level, source, target, tags)
}

// toggleFor returns the per-transition toggle that governs this transition,
// or nil when none applies or it is unset.
func (m *Manager) toggleFor(pref *privacy.Preference, source, target memory.Context) *bool {
	switch {
	case source.IsPrivate && !target.IsPrivate:
		return pref.AllowPrivateToPublic
	case source.Kind == memory.KindDirect && target.Kind != memory.KindDirect:
		return pref.AllowDirectToGroup
	case source.Kind != memory.KindDirect && target.Kind == memory.KindDirect:
		return pref.AllowGroupToDirect
	case source.GroupID != target.GroupID:
		return pref.AllowCrossGroup
	default:
		return nil
	}
}

// matrixDecision applies the default compatibility matrix. Blocked outcomes
// here are the ones a consent grant could unlock.
func (m *Manager) matrixDecision(level privacy.Level, source, target memory.Context, tags []string) Decision {
	effective := source.Level
	if hasTag(tags, memory.TagCrossGroupSafe) {
		effective = memory.LevelCrossGroupSafe
	}

	publicToPrivate := !source.IsPrivate && target.IsPrivate
	privateToPublic := source.IsPrivate && !target.IsPrivate

	switch level {
	case privacy.LevelStrict:
		if publicToPrivate {
			return Decision{Allowed: true, Reason: "strict level permits public-to-private"}
		}
		return Decision{Allowed: false, Reason: "strict level blocks cross-context sharing", RequiresConsent: true}

	case privacy.LevelPermissive:
		if privateToPublic {
			return Decision{Allowed: false, Reason: "permissive level still blocks private-to-public", RequiresConsent: true}
		}
		return Decision{Allowed: true, Reason: "permissive level permits transition"}

	default:
		// MODERATE, and the fallback for CUSTOM when no rule matched.
		if effective == memory.LevelCrossGroupSafe {
			return Decision{Allowed: true, Reason: "content marked cross-group safe"}
		}
		if publicToPrivate {
			return Decision{Allowed: true, Reason: "moderate level permits public-to-private"}
		}
		if source.GroupID != "" && source.GroupID == target.GroupID &&
			target.Level.Rank() <= source.Level.Rank() {
			return Decision{Allowed: true, Reason: "same group, target at least as private"}
		}
		return Decision{Allowed: false, Reason: "moderate level blocks transition without cross-group-safe marking", RequiresConsent: true}
	}
}

// SafeSubset returns only memories explicitly tagged safe across all
// contexts. Used when boundary evaluation itself errors: degraded retrieval
// never returns unfiltered data.
func SafeSubset(recs []memory.Record) []memory.Record {
	var safe []memory.Record
	for i := range recs {
		if recs[i].HasTag(memory.TagCrossGroupSafe) {
			safe = append(safe, recs[i])
		}
	}
	return safe
}

func (m *Manager) appendAudit(ctx context.Context, userID string, source, target memory.Context, decision, reason string, level privacy.Level) {
	entry := &privacy.AuditEntry{
		UserID:       userID,
		SourceLevel:  source.Level,
		TargetLevel:  target.Level,
		Decision:     decision,
		Reason:       reason,
		PrivacyLevel: level,
	}
	if err := m.audit.Append(ctx, entry); err != nil {
		m.logger.Warn(ctx, "failed to append boundary audit entry",
			zap.String("decision", decision),
			zap.Error(err))
	}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
