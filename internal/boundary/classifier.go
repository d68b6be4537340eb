// Package boundary implements context classification, privacy boundary
// enforcement, and the consent flow.
//
// Every boundary decision is appended to the audit log before it returns.
// All failure modes resolve to the most restrictive outcome: unknown input
// classifies as private-isolated, rule-lookup errors deny, unparseable
// consent responses deny.
package boundary

import (
	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Classifier deterministically maps raw platform descriptors to Contexts.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify maps a raw platform event to a Context. Unknown or unavailable
// data always classifies as the most private variant.
func (c *Classifier) Classify(raw memory.RawContext) memory.Context {
	var kind memory.ContextKind
	switch memory.ContextKind(raw.Kind) {
	case memory.KindDirect:
		kind = memory.KindDirect
	case memory.KindPrivateGroup:
		kind = memory.KindPrivateGroup
	case memory.KindPublicGroup:
		kind = memory.KindPublicGroup
	default:
		// Fail-safe: anything unrecognized is treated as a private
		// one-to-one exchange.
		kind = memory.KindDirect
	}

	level := memory.LevelForKind(kind)
	return memory.Context{
		Kind:      kind,
		GroupID:   raw.GroupID,
		ChannelID: raw.ChannelID,
		IsPrivate: level != memory.LevelPublicGroup,
		Level:     level,
	}
}
