package activity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Well-known event types reported by upstream collaborators. The set is open:
// the engine counts whatever types rules reference.
const (
	TypeLoginFailed      = "login_failed"
	TypeLoginSucceeded   = "login_succeeded"
	TypePaymentSubmitted = "payment_submitted"
	TypeShiftApplied     = "shift_applied"
	TypeShiftCancelled   = "shift_cancelled"
	TypeProfileUpdated   = "profile_updated"
)

// Context carries the device/network/transaction origin of an event.
type Context struct {
	DeviceHash    string           `json:"device_hash,omitempty"`
	UserAgent     string           `json:"user_agent,omitempty"`
	Platform      string           `json:"platform,omitempty"`
	IPAddress     string           `json:"ip_address,omitempty"`
	TransactionID *uuid.UUID       `json:"transaction_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
}

// Event is one reported user activity. ID is the caller-supplied idempotency
// key: reprocessing the same event must not double-count it in any velocity
// window.
type Event struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Context    Context   `json:"context"`
}

// Validate checks the fields the engine cannot default.
func (e *Event) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("event id is required")
	}
	if e.UserID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	return nil
}
