// Package privacy defines per-user privacy preferences, the boundary audit
// log, and their durable stores.
//
// Two store implementations exist behind the same interfaces: a relational
// SQLite store and a local JSON-file store, chosen at startup. Callers never
// know which is active.
package privacy

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Sentinel errors for preference and audit stores.
var (
	// ErrPreferenceNotFound is returned when no preference record exists for
	// a user. Callers create one lazily with safe defaults.
	ErrPreferenceNotFound = errors.New("privacy preference not found")

	// ErrInvalidPreference indicates a malformed preference update.
	ErrInvalidPreference = errors.New("invalid privacy preference")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("privacy store closed")
)

// Level is a user's overall privacy posture.
type Level string

const (
	LevelStrict     Level = "STRICT"
	LevelModerate   Level = "MODERATE"
	LevelPermissive Level = "PERMISSIVE"
	LevelCustom     Level = "CUSTOM"
)

// Valid reports whether the level is a known value.
func (l Level) Valid() bool {
	switch l {
	case LevelStrict, LevelModerate, LevelPermissive, LevelCustom:
		return true
	}
	return false
}

// ConsentStatus tracks the lifecycle of a user's consent interaction.
type ConsentStatus string

const (
	ConsentNotAsked ConsentStatus = "NOT_ASKED"
	ConsentGranted  ConsentStatus = "GRANTED"
	ConsentDenied   ConsentStatus = "DENIED"
	ConsentExpired  ConsentStatus = "EXPIRED"
)

// Preference is one user's privacy preference record.
//
// Created lazily on first privacy check with MODERATE defaults; mutated only
// through explicit user commands or consent responses; never deleted, only
// superseded via upsert.
//
// The per-transition toggles are tri-state: nil means unset, falling through
// to the compatibility matrix for the user's level.
type Preference struct {
	UserID string `json:"user_id"`
	Level  Level  `json:"privacy_level"`

	// Per-transition toggles. When set, they decide a boundary check before
	// the level matrix is consulted.
	AllowCrossGroup      *bool `json:"allow_cross_group,omitempty"`
	AllowDirectToGroup   *bool `json:"allow_direct_to_group,omitempty"`
	AllowGroupToDirect   *bool `json:"allow_group_to_direct,omitempty"`
	AllowPrivateToPublic *bool `json:"allow_private_to_public,omitempty"`

	// CustomRules maps transition keys (e.g. "group-to-direct") to an
	// allow/deny override. A matching rule wins over everything else.
	CustomRules map[string]bool `json:"custom_rules,omitempty"`

	ConsentStatus ConsentStatus `json:"consent_status"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewDefaultPreference returns the safe default preference for a user.
func NewDefaultPreference(userID string) *Preference {
	return &Preference{
		UserID:        userID,
		Level:         LevelModerate,
		CustomRules:   map[string]bool{},
		ConsentStatus: ConsentNotAsked,
		UpdatedAt:     time.Now().UTC(),
	}
}

// Validate checks the preference record.
func (p *Preference) Validate() error {
	if p.UserID == "" {
		return memory.ErrEmptyUserID
	}
	if !p.Level.Valid() {
		return ErrInvalidPreference
	}
	return nil
}

// Clone returns a deep copy. Stores return clones so callers cannot mutate
// shared state.
func (p *Preference) Clone() *Preference {
	cp := *p
	if p.CustomRules != nil {
		cp.CustomRules = make(map[string]bool, len(p.CustomRules))
		for k, v := range p.CustomRules {
			cp.CustomRules[k] = v
		}
	}
	cloneBool := func(b *bool) *bool {
		if b == nil {
			return nil
		}
		v := *b
		return &v
	}
	cp.AllowCrossGroup = cloneBool(p.AllowCrossGroup)
	cp.AllowDirectToGroup = cloneBool(p.AllowDirectToGroup)
	cp.AllowGroupToDirect = cloneBool(p.AllowGroupToDirect)
	cp.AllowPrivateToPublic = cloneBool(p.AllowPrivateToPublic)
	return &cp
}

// Update is a partial preference mutation applied via upsert.
type Update struct {
	Level                *Level          `json:"privacy_level,omitempty"`
	AllowCrossGroup      *bool           `json:"allow_cross_group,omitempty"`
	AllowDirectToGroup   *bool           `json:"allow_direct_to_group,omitempty"`
	AllowGroupToDirect   *bool           `json:"allow_group_to_direct,omitempty"`
	AllowPrivateToPublic *bool           `json:"allow_private_to_public,omitempty"`
	CustomRules          map[string]bool `json:"custom_rules,omitempty"`
}

// Apply merges the update into the preference.
func (u Update) Apply(p *Preference) error {
	if u.Level != nil {
		if !u.Level.Valid() {
			return ErrInvalidPreference
		}
		p.Level = *u.Level
	}
	if u.AllowCrossGroup != nil {
		p.AllowCrossGroup = u.AllowCrossGroup
	}
	if u.AllowDirectToGroup != nil {
		p.AllowDirectToGroup = u.AllowDirectToGroup
	}
	if u.AllowGroupToDirect != nil {
		p.AllowGroupToDirect = u.AllowGroupToDirect
	}
	if u.AllowPrivateToPublic != nil {
		p.AllowPrivateToPublic = u.AllowPrivateToPublic
	}
	if len(u.CustomRules) > 0 {
		if p.CustomRules == nil {
			p.CustomRules = map[string]bool{}
		}
		for k, v := range u.CustomRules {
			p.CustomRules[k] = v
		}
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// AuditEntry records one boundary decision. Append-only; written by the
// boundary manager before every decision returns.
type AuditEntry struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	SourceLevel  memory.SecurityLevel `json:"source_level"`
	TargetLevel  memory.SecurityLevel `json:"target_level"`
	Decision     string               `json:"decision"`
	Reason       string               `json:"reason"`
	PrivacyLevel Level                `json:"privacy_level"`
	Timestamp    time.Time            `json:"timestamp"`
}

// PreferenceStore persists privacy preferences.
//
// Mutations must be read-modify-write atomic at the storage layer; callers
// never do read-then-write themselves.
type PreferenceStore interface {
	// Get returns the preference for a user, or ErrPreferenceNotFound.
	Get(ctx context.Context, userID string) (*Preference, error)

	// Upsert atomically writes the preference record.
	Upsert(ctx context.Context, pref *Preference) error

	// SetCustomRule atomically sets one custom rule on a user's preference,
	// creating the preference with defaults if absent.
	SetCustomRule(ctx context.Context, userID, transitionKey string, allow bool) error

	// SetConsentStatus atomically updates the consent status on a user's
	// preference, creating the preference with defaults if absent.
	SetConsentStatus(ctx context.Context, userID string, status ConsentStatus) error

	// Close releases store resources.
	Close() error
}

// AuditStore persists boundary decision audit entries.
type AuditStore interface {
	// Append writes one entry. Entries are never mutated.
	Append(ctx context.Context, entry *AuditEntry) error

	// History returns recent entries, newest first. Empty userID returns
	// entries across all users.
	History(ctx context.Context, userID string, limit int) ([]AuditEntry, error)

	// Prune deletes entries older than the cutoff and reports how many.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases store resources.
	Close() error
}
