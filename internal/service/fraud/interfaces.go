package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shiftmarket/fraud-engine/internal/domain/activity"
	"github.com/shiftmarket/fraud-engine/internal/domain/audit"
	"github.com/shiftmarket/fraud-engine/internal/domain/device"
	"github.com/shiftmarket/fraud-engine/internal/domain/risk"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/domain/signal"
)

// Service is the engine's contract to upstream collaborators (login, payment
// and marketplace-action flows) and to the admin read/write API. All mutating
// admin operations require an explicit actor: the engine carries no ambient
// authentication context of its own.
type Service interface {
	// ReportActivity is the single synchronous entry point: it records the
	// event (feeding velocity counters) and returns an immediate verdict.
	ReportActivity(ctx context.Context, event *activity.Event) (*Verdict, error)

	// Signal lifecycle
	ResolveSignal(ctx context.Context, signalID, resolver uuid.UUID, notes string) error
	UnresolvedSignals(ctx context.Context, userID uuid.UUID) ([]*signal.FraudSignal, error)
	SignalsBySeverity(ctx context.Context, minSeverity, limit int) ([]*signal.FraudSignal, error)

	// Risk scores
	RecalculateScore(ctx context.Context, userID uuid.UUID) (*risk.UserRiskScore, error)
	GetRiskScore(ctx context.Context, userID uuid.UUID) (*risk.UserRiskScore, error)

	// Rule management
	UpsertRule(ctx context.Context, r *rule.FraudRule, actor uuid.UUID) error
	SetRuleActive(ctx context.Context, code string, active bool, actor uuid.UUID) error
	ListRules(ctx context.Context, category rule.Category) ([]*rule.FraudRule, error)

	// Device trust
	GetDevice(ctx context.Context, hash string) (*device.Fingerprint, error)
	BlockDevice(ctx context.Context, hash string, actor uuid.UUID, reason string) error
	UnblockDevice(ctx context.Context, hash string, actor uuid.UUID) error
	TrustDevice(ctx context.Context, hash string, actor uuid.UUID) error

	// User-level hard block
	BlockUser(ctx context.Context, userID, actor uuid.UUID, reason string) error
	UnblockUser(ctx context.Context, userID, actor uuid.UUID) error

	// Admin "rules with errors" surface
	EvaluationErrors(ctx context.Context, limit int) ([]*rule.EvaluationError, error)
}

// Verdict is what ReportActivity hands back to the calling flow. Blocked is
// the hard gate; RiskLevel is advisory.
type Verdict struct {
	Signals     []*signal.FraudSignal `json:"signals"`
	RiskScore   int                   `json:"risk_score"`
	RiskLevel   risk.Level            `json:"risk_level"`
	Blocked     bool                  `json:"blocked"`
	BlockReason string                `json:"block_reason,omitempty"`
}

// RuleRepository is durable storage for fraud rules.
type RuleRepository interface {
	List(ctx context.Context) ([]*rule.FraudRule, error)
	GetByCode(ctx context.Context, code string) (*rule.FraudRule, error)
	// Create inserts a rule, returning false without error when the code
	// already exists. Idempotent seeding depends on this.
	Create(ctx context.Context, r *rule.FraudRule) (bool, error)
	Update(ctx context.Context, r *rule.FraudRule) error
	SetActive(ctx context.Context, code string, active bool) error
}

// SignalRepository is durable storage for fraud signals.
type SignalRepository interface {
	Save(ctx context.Context, s *signal.FraudSignal) error
	Update(ctx context.Context, s *signal.FraudSignal) error
	GetByID(ctx context.Context, id uuid.UUID) (*signal.FraudSignal, error)
	UnresolvedForUser(ctx context.Context, userID uuid.UUID) ([]*signal.FraudSignal, error)
	// LatestUnresolved returns the newest open signal for (user, rule),
	// or a not-found error.
	LatestUnresolved(ctx context.Context, userID, ruleID uuid.UUID) (*signal.FraudSignal, error)
	BySeverity(ctx context.Context, minSeverity, limit int) ([]*signal.FraudSignal, error)
	CountUnresolvedForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// RiskScoreRepository is durable storage for aggregate user scores. Upsert
// enforces optimistic concurrency: expectedVersion 0 means "create", any
// other value must match the stored row or a conflict error comes back.
type RiskScoreRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*risk.UserRiskScore, error)
	Upsert(ctx context.Context, score *risk.UserRiskScore, expectedVersion int64) error
}

// DeviceRepository is durable storage for device fingerprints, keyed by hash.
type DeviceRepository interface {
	GetByHash(ctx context.Context, hash string) (*device.Fingerprint, error)
	Save(ctx context.Context, f *device.Fingerprint) error
	Update(ctx context.Context, f *device.Fingerprint) error
}

// UserBlockRepository tracks user-level hard blocks applied by block actions
// or admins. A blocked user is denied on the next ReportActivity call.
type UserBlockRepository interface {
	IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error)
	Block(ctx context.Context, userID, actor uuid.UUID, reason string) error
	Unblock(ctx context.Context, userID uuid.UUID) error
}

// AuditRepository is the audit/log sink. Writes are best-effort: the engine
// logs failures and moves on.
type AuditRepository interface {
	Record(ctx context.Context, ev *audit.Event) error
	Recent(ctx context.Context, limit int) ([]*audit.Event, error)
}

// EvaluationErrorRepository persists the queryable record behind the admin
// "rules with errors" surface.
type EvaluationErrorRepository interface {
	Record(ctx context.Context, e *rule.EvaluationError) error
	Recent(ctx context.Context, limit int) ([]*rule.EvaluationError, error)
}

// VelocityCounter computes rolling-window aggregates over reported events.
// Windows are wall-clock relative to evaluation time. Ingestion is idempotent
// per event id. A zero window means all time.
type VelocityCounter interface {
	// RecordEvent ingests an event, returning false when the event id was
	// already seen.
	RecordEvent(ctx context.Context, ev *activity.Event) (bool, error)
	CountEvents(ctx context.Context, userID uuid.UUID, eventType string, window time.Duration) (float64, error)
	DistinctDevices(ctx context.Context, userID uuid.UUID, window time.Duration) (float64, error)
	DistinctIPs(ctx context.Context, userID uuid.UUID, window time.Duration) (float64, error)
	AmountSum(ctx context.Context, userID uuid.UUID, eventType string, window time.Duration) (decimal.Decimal, error)
}

// Notification is the structured payload handed to the notification channel.
type Notification struct {
	UserID   uuid.UUID `json:"user_id"`
	SignalID uuid.UUID `json:"signal_id"`
	RuleCode string    `json:"rule_code"`
	Severity int       `json:"severity"`
	Summary  string    `json:"summary"`
}

// Notifier is the external notification collaborator. Delivery is
// best-effort; failures never roll back signal persistence or block actions.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}
