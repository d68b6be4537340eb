// Package memory defines the core data model for conversational memory:
// contexts, security levels, and memory records.
package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation errors returned at the API boundary.
var (
	// ErrEmptyUserID is returned when a record or query has no user ID.
	ErrEmptyUserID = errors.New("user ID cannot be empty")

	// ErrEmptyContent is returned when a record has no content.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidContext is returned when a context fails validation.
	ErrInvalidContext = errors.New("invalid context")

	// ErrInvalidScore is returned when an importance score is outside [0,1].
	ErrInvalidScore = errors.New("importance score must be in [0,1]")
)

// ContextKind identifies the conversational venue a turn occurred in.
type ContextKind string

const (
	// KindDirect is a private one-to-one channel.
	KindDirect ContextKind = "direct"
	// KindPrivateGroup is a private group channel.
	KindPrivateGroup ContextKind = "private_group"
	// KindPublicGroup is a public group channel.
	KindPublicGroup ContextKind = "public_group"
)

// SecurityLevel is a derived, ordered sensitivity classification of a Context.
//
// Levels order from most to least restrictive:
// PRIVATE_ISOLATED < PRIVATE_GROUP < PUBLIC_GROUP < CROSS_GROUP_SAFE.
// CROSS_GROUP_SAFE is not a venue level; it marks content explicitly
// opted in for sharing across group boundaries.
type SecurityLevel string

const (
	LevelPrivateIsolated SecurityLevel = "PRIVATE_ISOLATED"
	LevelPrivateGroup    SecurityLevel = "PRIVATE_GROUP"
	LevelPublicGroup     SecurityLevel = "PUBLIC_GROUP"
	LevelCrossGroupSafe  SecurityLevel = "CROSS_GROUP_SAFE"
)

// levelRank orders security levels from most restrictive (lowest) to least.
var levelRank = map[SecurityLevel]int{
	LevelPrivateIsolated: 0,
	LevelPrivateGroup:    1,
	LevelPublicGroup:     2,
	LevelCrossGroupSafe:  3,
}

// Rank returns the ordering rank of the level. Unknown levels rank as the
// most restrictive.
func (l SecurityLevel) Rank() int {
	if r, ok := levelRank[l]; ok {
		return r
	}
	return 0
}

// LevelForKind derives the security level for a context kind.
// Unknown kinds derive as PRIVATE_ISOLATED (fail-safe).
func LevelForKind(kind ContextKind) SecurityLevel {
	switch kind {
	case KindDirect:
		return LevelPrivateIsolated
	case KindPrivateGroup:
		return LevelPrivateGroup
	case KindPublicGroup:
		return LevelPublicGroup
	default:
		return LevelPrivateIsolated
	}
}

// RawContext is the loosely-typed platform descriptor delivered with a chat
// event. The classifier maps it to a Context; callers never build Contexts
// from raw descriptors directly.
type RawContext struct {
	// Kind is the platform channel kind ("direct", "private_group",
	// "public_group"). Unknown values classify as direct.
	Kind string `json:"kind"`

	// GroupID identifies the group/guild, if any.
	GroupID string `json:"group_id,omitempty"`

	// ChannelID identifies the channel, if any.
	ChannelID string `json:"channel_id,omitempty"`
}

// Context describes where a conversational turn occurred. IsPrivate and
// Level are derived from Kind and are never user-settable. A Context
// embedded in a stored record is immutable once written.
type Context struct {
	Kind      ContextKind   `json:"kind"`
	GroupID   string        `json:"group_id,omitempty"`
	ChannelID string        `json:"channel_id,omitempty"`
	IsPrivate bool          `json:"is_private"`
	Level     SecurityLevel `json:"security_level"`
}

// Validate checks that the context is internally consistent.
func (c Context) Validate() error {
	switch c.Kind {
	case KindDirect, KindPrivateGroup, KindPublicGroup:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidContext, c.Kind)
	}
	if c.Level != LevelForKind(c.Kind) {
		return fmt.Errorf("%w: level %q does not match kind %q", ErrInvalidContext, c.Level, c.Kind)
	}
	return nil
}

// Equal reports whether two contexts describe the same venue.
func (c Context) Equal(other Context) bool {
	return c.Kind == other.Kind && c.GroupID == other.GroupID && c.ChannelID == other.ChannelID
}

// TransitionKey returns the canonical key for a cross-context transition,
// used for custom privacy rules and consent grants (e.g. "group-to-direct").
func TransitionKey(source, target Context) string {
	return fmt.Sprintf("%s-to-%s", transitionWord(source.Kind), transitionWord(target.Kind))
}

func transitionWord(kind ContextKind) string {
	switch kind {
	case KindDirect:
		return "direct"
	case KindPrivateGroup, KindPublicGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Well-known record tags.
const (
	// TagCrossGroupSafe marks content the storing caller explicitly opted in
	// for sharing across group boundaries. It is never inferred from content.
	TagCrossGroupSafe = "cross_group_safe"

	// TagHighSensitivity marks content blocked from cross-context sharing
	// even under a permissive privacy level.
	TagHighSensitivity = "high_sensitivity"
)

// Record is one stored conversational exchange.
type Record struct {
	// ID is a ULID, sortable by creation time.
	ID string `json:"id"`

	// UserID identifies the conversation participant this memory belongs to.
	UserID string `json:"user_id"`

	// Content is the user utterance.
	Content string `json:"content"`

	// Response is the agent reply.
	Response string `json:"response,omitempty"`

	// Timestamp is the caller-provided turn time; storage order within a
	// user follows this, not operation completion order.
	Timestamp time.Time `json:"timestamp"`

	// Context is the venue the turn occurred in. Immutable once written.
	// Records recovered without a context are treated as PRIVATE_ISOLATED.
	Context Context `json:"context"`

	// ImportanceScore is the current significance estimate in [0,1].
	// Recomputed over time; persisted explicitly by callers.
	ImportanceScore float64 `json:"importance_score"`

	// Tags carries well-known markers such as cross_group_safe.
	Tags []string `json:"tags,omitempty"`

	// Metadata is an open key-value bag, including detected pattern refs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks the record at the API boundary. Malformed records are
// rejected, never silently coerced.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(r.Content) == "" {
		return ErrEmptyContent
	}
	if r.ImportanceScore < 0 || r.ImportanceScore > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidScore, r.ImportanceScore)
	}
	return r.Context.Validate()
}

// HasTag reports whether the record carries the given tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// EffectiveContext returns the record's context, substituting the most
// restrictive classification when the stored context is unrecoverable.
func (r *Record) EffectiveContext() Context {
	if r.Context.Kind == "" {
		return Context{
			Kind:      KindDirect,
			IsPrivate: true,
			Level:     LevelPrivateIsolated,
		}
	}
	return r.Context
}
