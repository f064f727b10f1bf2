package device

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TrustState is the per-device trust machine. Transitions:
//
//	unknown|trusted -> blocked   (explicit admin action or a rule's block action)
//	blocked         -> unknown   (unblock; trust is never restored implicitly)
//	unknown         -> trusted   (explicit admin action)
type TrustState string

const (
	TrustUnknown TrustState = "unknown"
	TrustTrusted TrustState = "trusted"
	TrustBlocked TrustState = "blocked"
)

// Fingerprint is one observed device/browser signature. Hash is the stable
// lookup key; the user association tracks the most recent user seen on it.
// A blocked fingerprint is a hard gate on authentication and transactions,
// independent of the user's own risk score.
type Fingerprint struct {
	ID         uuid.UUID  `json:"id"`
	Hash       string     `json:"hash"`
	UserID     uuid.UUID  `json:"user_id"`
	UserAgent  string     `json:"user_agent,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	TrustState TrustState `json:"trust_state"`

	BlockedBy     *uuid.UUID `json:"blocked_by,omitempty"`
	BlockedReason string     `json:"blocked_reason,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// New registers a freshly observed fingerprint in the unknown state.
func New(hash string, userID uuid.UUID, userAgent, platform string) *Fingerprint {
	now := time.Now().UTC()
	return &Fingerprint{
		ID:          uuid.New(),
		Hash:        hash,
		UserID:      userID,
		UserAgent:   userAgent,
		Platform:    platform,
		TrustState:  TrustUnknown,
		FirstSeenAt: now,
		LastSeenAt:  now,
		UpdatedAt:   now,
	}
}

// Seen refreshes the last-seen timestamp and user association.
func (f *Fingerprint) Seen(userID uuid.UUID, at time.Time) {
	f.UserID = userID
	f.LastSeenAt = at.UTC()
	f.UpdatedAt = at.UTC()
}

// Block moves the device to blocked. Actor is the admin who blocked it, or
// uuid.Nil when a rule's block action fired automatically.
func (f *Fingerprint) Block(actor uuid.UUID, reason string) error {
	if f.TrustState == TrustBlocked {
		return fmt.Errorf("device %s is already blocked", f.Hash)
	}
	f.TrustState = TrustBlocked
	f.BlockedReason = reason
	if actor != uuid.Nil {
		f.BlockedBy = &actor
	} else {
		f.BlockedBy = nil
	}
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// Unblock returns a blocked device to unknown. It never restores trusted
// status: trust must be re-granted explicitly.
func (f *Fingerprint) Unblock(actor uuid.UUID) error {
	if f.TrustState != TrustBlocked {
		return fmt.Errorf("device %s is not blocked", f.Hash)
	}
	if actor == uuid.Nil {
		return fmt.Errorf("unblock requires an acting admin")
	}
	f.TrustState = TrustUnknown
	f.BlockedBy = nil
	f.BlockedReason = ""
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// Trust promotes an unknown device to trusted. Blocked devices must be
// unblocked first.
func (f *Fingerprint) Trust(actor uuid.UUID) error {
	if actor == uuid.Nil {
		return fmt.Errorf("trust requires an acting admin")
	}
	switch f.TrustState {
	case TrustTrusted:
		return fmt.Errorf("device %s is already trusted", f.Hash)
	case TrustBlocked:
		return fmt.Errorf("device %s is blocked; unblock it before trusting", f.Hash)
	}
	f.TrustState = TrustTrusted
	f.UpdatedAt = time.Now().UTC()
	return nil
}

// IsBlocked reports whether the device fails the hard admission gate.
func (f *Fingerprint) IsBlocked() bool {
	return f.TrustState == TrustBlocked
}

// IsTrusted reports whether the device is explicitly trusted.
func (f *Fingerprint) IsTrusted() bool {
	return f.TrustState == TrustTrusted
}
