package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action names for engine audit events.
const (
	ActionRuleMatched    = "rule.matched"
	ActionRuleUpserted   = "rule.upserted"
	ActionRuleActivated  = "rule.activated"
	ActionRuleDeactived  = "rule.deactivated"
	ActionSignalCreated  = "signal.created"
	ActionSignalTouched  = "signal.touched"
	ActionSignalResolved = "signal.resolved"
	ActionDeviceBlocked  = "device.blocked"
	ActionDeviceUnblock  = "device.unblocked"
	ActionDeviceTrusted  = "device.trusted"
	ActionUserBlocked    = "user.blocked"
	ActionUserUnblocked  = "user.unblocked"
	ActionScoreUpdated   = "score.updated"
)

// Event is one fire-and-forget audit record: who did what to which entity,
// with before/after detail where it applies. Writes never block or fail the
// operation they describe.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Actor      uuid.UUID              `json:"actor"` // uuid.Nil for engine-initiated effects
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// NewEvent builds an audit record stamped now.
func NewEvent(actor uuid.UUID, action, entityType, entityID string, detail map[string]interface{}) *Event {
	return &Event{
		ID:         uuid.New(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
}
