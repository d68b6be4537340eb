package boundary

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/privacy"
)

// defaultConsentTTL bounds how long a consent request stays open.
const defaultConsentTTL = 5 * time.Minute

// Consent errors.
var (
	// ErrConsentNotFound is returned for unknown consent tokens.
	ErrConsentNotFound = errors.New("consent request not found")

	// ErrConsentExpired is returned when the user did not respond in time.
	// Treated as an implicit deny.
	ErrConsentExpired = errors.New("consent request expired")
)

// ConsentResponse is a parsed user response to a consent prompt.
type ConsentResponse string

const (
	ConsentAllowOnce   ConsentResponse = "allow_once"
	ConsentAllowAlways ConsentResponse = "allow_always"
	ConsentDenyOnce    ConsentResponse = "deny_once"
	ConsentDenyAlways  ConsentResponse = "deny_always"
)

// ParseConsentResponse parses a raw user reply. Unparseable input returns
// deny_once and false: consent always fails closed.
func ParseConsentResponse(raw string) (ConsentResponse, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch ConsentResponse(normalized) {
	case ConsentAllowOnce, ConsentAllowAlways, ConsentDenyOnce, ConsentDenyAlways:
		return ConsentResponse(normalized), true
	}
	return ConsentDenyOnce, false
}

// consentRequest is one pending consent round-trip.
type consentRequest struct {
	userID    string
	source    memory.Context
	target    memory.Context
	issuedAt  time.Time
}

// consentTable holds pending consent requests keyed by token.
type consentTable struct {
	mu      sync.Mutex
	pending map[string]consentRequest
}

func newConsentTable() *consentTable {
	return &consentTable{pending: make(map[string]consentRequest)}
}

func (t *consentTable) put(token string, req consentRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[token] = req
}

func (t *consentTable) take(token string) (consentRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.pending[token]
	if ok {
		delete(t.pending, token)
	}
	return req, ok
}

// RequestConsent opens a consent round-trip for a cross-context transition
// and returns the token the caller presents back with the user's response.
func (m *Manager) RequestConsent(ctx context.Context, userID string, source, target memory.Context) (string, error) {
	if userID == "" {
		return "", memory.ErrEmptyUserID
	}

	pref, err := m.Preference(ctx, userID)
	if err != nil {
		return "", err
	}

	token := uuid.New().String()
	m.consents.put(token, consentRequest{
		userID:   userID,
		source:   source,
		target:   target,
		issuedAt: time.Now(),
	})

	m.appendAudit(ctx, userID, source, target, DecisionConsentRequested,
		"consent requested for "+memory.TransitionKey(source, target), pref.Level)

	m.logger.Info(ctx, "consent requested",
		zap.String("transition", memory.TransitionKey(source, target)))

	return token, nil
}

// ResolveConsent applies a user's response to a pending consent request.
//
// "_always" responses additionally persist a permanent custom rule for the
// transition key; "_once" responses affect only the current operation.
// Expired tokens and unparseable responses resolve as deny.
func (m *Manager) ResolveConsent(ctx context.Context, token, rawResponse string) (Decision, error) {
	req, ok := m.consents.take(token)
	if !ok {
		return Decision{Allowed: false, Reason: "unknown consent token"}, ErrConsentNotFound
	}

	key := memory.TransitionKey(req.source, req.target)
	pref, err := m.Preference(ctx, req.userID)
	if err != nil {
		return Decision{Allowed: false, Reason: "boundary evaluation failed"}, err
	}

	if time.Since(req.issuedAt) > m.consentTTL {
		m.appendAudit(ctx, req.userID, req.source, req.target, DecisionConsentExpired,
			"consent expired for "+key, pref.Level)
		if err := m.prefs.SetConsentStatus(ctx, req.userID, privacy.ConsentExpired); err != nil {
			m.logger.Warn(ctx, "failed to persist consent status", zap.Error(err))
		}
		return Decision{Allowed: false, Reason: "consent request expired"}, ErrConsentExpired
	}

	response, parsed := ParseConsentResponse(rawResponse)
	reason := "consent " + string(response) + " for " + key
	if !parsed {
		reason = "unparseable consent response, denied"
	}

	allowed := response == ConsentAllowOnce || response == ConsentAllowAlways

	switch response {
	case ConsentAllowAlways:
		if err := m.prefs.SetCustomRule(ctx, req.userID, key, true); err != nil {
			return Decision{Allowed: false, Reason: "failed to persist consent rule"},
				errors.Join(ErrBoundaryEvaluation, err)
		}
		if err := m.prefs.SetConsentStatus(ctx, req.userID, privacy.ConsentGranted); err != nil {
			m.logger.Warn(ctx, "failed to persist consent status", zap.Error(err))
		}
	case ConsentDenyAlways:
		if err := m.prefs.SetCustomRule(ctx, req.userID, key, false); err != nil {
			return Decision{Allowed: false, Reason: "failed to persist consent rule"},
				errors.Join(ErrBoundaryEvaluation, err)
		}
		if err := m.prefs.SetConsentStatus(ctx, req.userID, privacy.ConsentDenied); err != nil {
			m.logger.Warn(ctx, "failed to persist consent status", zap.Error(err))
		}
	case ConsentAllowOnce:
		if err := m.prefs.SetConsentStatus(ctx, req.userID, privacy.ConsentGranted); err != nil {
			m.logger.Warn(ctx, "failed to persist consent status", zap.Error(err))
		}
	case ConsentDenyOnce:
		if err := m.prefs.SetConsentStatus(ctx, req.userID, privacy.ConsentDenied); err != nil {
			m.logger.Warn(ctx, "failed to persist consent status", zap.Error(err))
		}
	}

	decision := DecisionConsentDenied
	if allowed {
		decision = DecisionConsentGranted
	}
	m.appendAudit(ctx, req.userID, req.source, req.target, decision, reason, pref.Level)

	return Decision{Allowed: allowed, Reason: reason}, nil
}
