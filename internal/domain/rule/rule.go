package rule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category classifies the risk class a rule detects. Category drives the
// weight of the signals a rule produces.
type Category string

const (
	CategoryVelocity Category = "velocity"
	CategoryDevice   Category = "device"
	CategoryLocation Category = "location"
	CategoryBehavior Category = "behavior"
	CategoryIdentity Category = "identity"
	CategoryPayment  Category = "payment"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryVelocity,
	CategoryDevice,
	CategoryLocation,
	CategoryBehavior,
	CategoryIdentity,
	CategoryPayment,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Action is the side effect triggered when a rule matches. The set is closed:
// the dispatcher switches exhaustively over these variants.
type Action string

const (
	ActionFlag   Action = "flag"
	ActionBlock  Action = "block"
	ActionReview Action = "review"
	ActionNotify Action = "notify"
)

func (a Action) Valid() bool {
	switch a {
	case ActionFlag, ActionBlock, ActionReview, ActionNotify:
		return true
	}
	return false
}

// Operator is a numeric comparison operator for rule conditions.
type Operator string

const (
	OpGreaterThan  Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLessThan     Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
)

// Compare applies the operator to observed vs threshold.
func (o Operator) Compare(observed, threshold float64) (bool, error) {
	switch o {
	case OpGreaterThan:
		return observed > threshold, nil
	case OpGreaterEqual:
		return observed >= threshold, nil
	case OpLessThan:
		return observed < threshold, nil
	case OpLessEqual:
		return observed <= threshold, nil
	case OpEqual:
		return observed == threshold, nil
	case OpNotEqual:
		return observed != threshold, nil
	default:
		return false, fmt.Errorf("unsupported operator: %q", o)
	}
}

// Condition is the four-tuple a rule evaluates: a measurable field, a
// comparison operator, a numeric threshold, and the window the field is
// measured over. A zero Period means "all time" or "current value",
// depending on the field's semantics.
type Condition struct {
	Field    string        `json:"field"`
	Operator Operator      `json:"operator"`
	Value    float64       `json:"value"`
	Period   time.Duration `json:"period"`
}

// FraudRule is a named, admin-editable detection policy. Code is unique and
// immutable once any signal references it: rules are edited in place, never
// renumbered.
type FraudRule struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Condition   Condition `json:"condition"`
	Severity    int       `json:"severity"` // 1-10
	Action      Action    `json:"action"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewFraudRule creates an active rule with a fresh identity.
func NewFraudRule(code, name string, category Category, cond Condition, severity int, action Action) *FraudRule {
	now := time.Now().UTC()
	return &FraudRule{
		ID:        uuid.New(),
		Code:      code,
		Name:      name,
		Category:  category,
		Condition: cond,
		Severity:  severity,
		Action:    action,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the rule definition. Invalid rules are a configuration
// error and must never reach the evaluator.
func (r *FraudRule) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("rule code cannot be empty")
	}
	if r.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if !r.Category.Valid() {
		return fmt.Errorf("invalid category: %q", r.Category)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("invalid action: %q", r.Action)
	}
	if r.Severity < 1 || r.Severity > 10 {
		return fmt.Errorf("severity must be between 1 and 10, got %d", r.Severity)
	}
	if r.Condition.Field == "" {
		return fmt.Errorf("condition field cannot be empty")
	}
	if _, err := r.Condition.Operator.Compare(0, 0); err != nil {
		return err
	}
	if r.Condition.Period < 0 {
		return fmt.Errorf("condition period cannot be negative")
	}
	return nil
}

// Deactivate excludes the rule from evaluation while retaining it for audit.
func (r *FraudRule) Deactivate() {
	r.Active = false
	r.UpdatedAt = time.Now().UTC()
}

// Activate re-includes the rule in evaluation.
func (r *FraudRule) Activate() {
	r.Active = true
	r.UpdatedAt = time.Now().UTC()
}

// ParsePeriod parses a rule window like "30m", "24h" or "7d". The "d" suffix
// is days, which time.ParseDuration does not accept.
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid period %q: %w", s, err)
		}
		if days < 0 {
			return 0, fmt.Errorf("invalid period %q: negative", s)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid period %q: negative", s)
	}
	return d, nil
}

// FormatPeriod renders a window the way ParsePeriod reads it.
func FormatPeriod(d time.Duration) string {
	if d == 0 {
		return "0"
	}
	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	return d.String()
}

// EvaluationError is the queryable record of a failed rule evaluation. The
// evaluator fails closed and emits one of these instead of surfacing the
// failure on the caller's hot path.
type EvaluationError struct {
	ID         uuid.UUID `json:"id"`
	RuleCode   string    `json:"rule_code"`
	Field      string    `json:"field"`
	UserID     uuid.UUID `json:"user_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvaluationError records why a rule was skipped for a user.
func NewEvaluationError(ruleCode, field string, userID uuid.UUID, reason string) *EvaluationError {
	return &EvaluationError{
		ID:         uuid.New(),
		RuleCode:   ruleCode,
		Field:      field,
		UserID:     userID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}
