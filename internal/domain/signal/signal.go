package signal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
)

// Status is the resolution state of a signal. Resolution is one-way: a
// resolved signal is never reopened, only superseded by a new signal when the
// condition matches again in a later window.
type Status string

const (
	StatusUnresolved Status = "unresolved"
	StatusResolved   Status = "resolved"
)

// Context carries the optional origin of the activity that matched.
type Context struct {
	DeviceHash    string     `json:"device_hash,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
}

// FraudSignal records that a specific rule matched for a specific user at a
// specific time. Type and Severity are copied from the rule at match time so
// later rule edits never rewrite history. The record is append-only; Resolve
// and Touch are the only mutation paths.
type FraudSignal struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	RuleID   uuid.UUID `json:"rule_id"`
	RuleCode string    `json:"rule_code"`

	Type     rule.Category `json:"type"`
	Severity int           `json:"severity"`
	Observed float64       `json:"observed"`
	Context  Context       `json:"context"`

	// A sustained violation touches the open signal instead of creating
	// duplicates; MatchCount tracks how many matches it absorbed.
	MatchCount      int       `json:"match_count"`
	FirstMatchedAt  time.Time `json:"first_matched_at"`
	LastMatchedAt   time.Time `json:"last_matched_at"`
	ReviewRequested bool      `json:"review_requested"`

	Status          Status     `json:"status"`
	ResolvedBy      *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates an unresolved signal from a rule match.
func New(r *rule.FraudRule, userID uuid.UUID, observed float64, sctx Context) *FraudSignal {
	now := time.Now().UTC()
	return &FraudSignal{
		ID:             uuid.New(),
		UserID:         userID,
		RuleID:         r.ID,
		RuleCode:       r.Code,
		Type:           r.Category,
		Severity:       r.Severity,
		Observed:       observed,
		Context:        sctx,
		MatchCount:     1,
		FirstMatchedAt: now,
		LastMatchedAt:  now,
		Status:         StatusUnresolved,
		CreatedAt:      now,
	}
}

// Touch extends an open signal with a repeat match inside the rule's window.
// Severity and type stay frozen at their match-time values.
func (s *FraudSignal) Touch(observed float64, at time.Time) error {
	if s.Status != StatusUnresolved {
		return fmt.Errorf("cannot touch a resolved signal")
	}
	s.MatchCount++
	s.Observed = observed
	s.LastMatchedAt = at.UTC()
	return nil
}

// Resolve closes the signal. One-way.
func (s *FraudSignal) Resolve(resolver uuid.UUID, notes string) error {
	if s.Status == StatusResolved {
		return fmt.Errorf("signal %s is already resolved", s.ID)
	}
	if resolver == uuid.Nil {
		return fmt.Errorf("resolver is required")
	}
	now := time.Now().UTC()
	s.Status = StatusResolved
	s.ResolvedBy = &resolver
	s.ResolvedAt = &now
	s.ResolutionNotes = notes
	return nil
}

// RequestReview queues the signal for human review. Review carries no
// automatic restriction.
func (s *FraudSignal) RequestReview() {
	s.ReviewRequested = true
}

// WithinWindow reports whether the signal still absorbs matches for the given
// rule period at the given instant. A zero period never extends: every match
// outside an open all-time signal's creation instant is deduplicated forever,
// so zero-period signals absorb matches while unresolved.
func (s *FraudSignal) WithinWindow(period time.Duration, now time.Time) bool {
	if s.Status != StatusUnresolved {
		return false
	}
	if period == 0 {
		return true
	}
	return now.Sub(s.LastMatchedAt) < period
}

// IsUnresolved reports whether the signal still contributes to risk scoring.
func (s *FraudSignal) IsUnresolved() bool {
	return s.Status == StatusUnresolved
}
