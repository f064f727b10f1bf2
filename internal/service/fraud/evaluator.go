package fraud

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shiftmarket/fraud-engine/internal/domain/activity"
	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
)

// Measurable fields the evaluator knows how to resolve. A rule naming
// anything else is a configuration error and fails closed.
const (
	FieldFailedLogins       = "failed_logins"
	FieldDistinctDevices    = "distinct_devices"
	FieldDistinctIPs        = "distinct_ips"
	FieldShiftCancellations = "shift_cancellations"
	FieldPaymentAttempts    = "payment_attempts"
	FieldPaymentAmountSum   = "payment_amount_sum"
	FieldUnresolvedSignals  = "unresolved_signals"
)

// Subject is who (and from where) a rule is evaluated against.
type Subject struct {
	UserID     uuid.UUID
	DeviceHash string
	IPAddress  string
}

// EvaluationResult is the outcome of checking one rule against one subject.
type EvaluationResult struct {
	Matched  bool
	Observed float64
}

// Evaluator interprets the four-tuple rule condition: resolve the field to a
// number for the subject, then compare against the threshold. It never panics
// or errors into the caller's hot path; failures are recorded and the rule is
// treated as not matched.
type Evaluator struct {
	velocity VelocityCounter
	signals  SignalRepository
	evalErrs EvaluationErrorRepository
	logger   *zap.Logger
}

// NewEvaluator wires the condition interpreter.
func NewEvaluator(velocity VelocityCounter, signals SignalRepository, evalErrs EvaluationErrorRepository, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		velocity: velocity,
		signals:  signals,
		evalErrs: evalErrs,
		logger:   logger,
	}
}

// Evaluate checks one rule for one subject. On any resolution or comparison
// failure the result is not-matched (fail closed) and the returned error
// carries the reason; the caller logs and skips, never aborts.
func (e *Evaluator) Evaluate(ctx context.Context, r *rule.FraudRule, subj Subject) (EvaluationResult, error) {
	observed, err := e.resolveField(ctx, r, subj)
	if err != nil {
		e.recordFailure(ctx, r, subj, err)
		return EvaluationResult{}, err
	}

	matched, err := r.Condition.Operator.Compare(observed, r.Condition.Value)
	if err != nil {
		cfgErr := domainerrors.NewConfigurationError("INVALID_OPERATOR", err.Error()).WithCause(err)
		e.recordFailure(ctx, r, subj, cfgErr)
		return EvaluationResult{}, cfgErr
	}

	evaluationsTotal.WithLabelValues(r.Code, outcomeLabel(matched)).Inc()
	return EvaluationResult{Matched: matched, Observed: observed}, nil
}

func (e *Evaluator) resolveField(ctx context.Context, r *rule.FraudRule, subj Subject) (float64, error) {
	cond := r.Condition
	switch cond.Field {
	case FieldFailedLogins:
		return e.velocity.CountEvents(ctx, subj.UserID, activity.TypeLoginFailed, cond.Period)
	case FieldShiftCancellations:
		return e.velocity.CountEvents(ctx, subj.UserID, activity.TypeShiftCancelled, cond.Period)
	case FieldPaymentAttempts:
		return e.velocity.CountEvents(ctx, subj.UserID, activity.TypePaymentSubmitted, cond.Period)
	case FieldDistinctDevices:
		return e.velocity.DistinctDevices(ctx, subj.UserID, cond.Period)
	case FieldDistinctIPs:
		return e.velocity.DistinctIPs(ctx, subj.UserID, cond.Period)
	case FieldPaymentAmountSum:
		sum, err := e.velocity.AmountSum(ctx, subj.UserID, activity.TypePaymentSubmitted, cond.Period)
		if err != nil {
			return 0, err
		}
		return sum.InexactFloat64(), nil
	case FieldUnresolvedSignals:
		n, err := e.signals.CountUnresolvedForUser(ctx, subj.UserID)
		if err != nil {
			return 0, err
		}
		return float64(n), nil
	default:
		return 0, domainerrors.NewConfigurationError("UNKNOWN_FIELD",
			fmt.Sprintf("rule %s references unknown field %q", r.Code, cond.Field))
	}
}

func (e *Evaluator) recordFailure(ctx context.Context, r *rule.FraudRule, subj Subject, cause error) {
	evaluationsTotal.WithLabelValues(r.Code, "error").Inc()
	e.logger.Error("rule evaluation failed, skipping rule",
		zap.String("rule_code", r.Code),
		zap.String("field", r.Condition.Field),
		zap.String("user_id", subj.UserID.String()),
		zap.Error(cause))

	rec := rule.NewEvaluationError(r.Code, r.Condition.Field, subj.UserID, cause.Error())
	if err := e.evalErrs.Record(ctx, rec); err != nil {
		e.logger.Warn("failed to persist evaluation error", zap.Error(err))
	}
}

func outcomeLabel(matched bool) string {
	if matched {
		return "matched"
	}
	return "clean"
}
