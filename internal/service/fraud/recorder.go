package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/domain/signal"
)

// SignalRecorder persists rule matches as signals, deduplicating sustained
// violations: an open signal for (user, rule) inside the rule's own window
// absorbs repeat matches instead of flooding the queue. A new window after
// resolution or expiry yields a fresh signal.
type SignalRecorder struct {
	signals SignalRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewSignalRecorder wires the recorder.
func NewSignalRecorder(signals SignalRepository, logger *zap.Logger) *SignalRecorder {
	return &SignalRecorder{
		signals: signals,
		logger:  logger,
		now:     time.Now,
	}
}

// Record persists a match. The returned bool is true when a new signal was
// created, false when an existing open signal absorbed the match.
func (rec *SignalRecorder) Record(ctx context.Context, r *rule.FraudRule, userID uuid.UUID, observed float64, sctx signal.Context) (*signal.FraudSignal, bool, error) {
	existing, err := rec.signals.LatestUnresolved(ctx, userID, r.ID)
	switch {
	case err == nil:
		if existing.WithinWindow(r.Condition.Period, rec.now()) {
			if err := existing.Touch(observed, rec.now()); err != nil {
				return nil, false, err
			}
			if err := rec.signals.Update(ctx, existing); err != nil {
				return nil, false, err
			}
			signalsTouchedTotal.WithLabelValues(r.Code).Inc()
			return existing, false, nil
		}
	case !domainerrors.IsType(err, domainerrors.ErrorTypeNotFound):
		return nil, false, err
	}

	s := signal.New(r, userID, observed, sctx)
	if err := rec.signals.Save(ctx, s); err != nil {
		return nil, false, err
	}
	signalsCreatedTotal.WithLabelValues(r.Code).Inc()
	rec.logger.Info("fraud signal recorded",
		zap.String("rule_code", r.Code),
		zap.String("user_id", userID.String()),
		zap.Int("severity", s.Severity),
		zap.Float64("observed", observed))
	return s, true, nil
}

// Resolve closes a signal. One-way: resolved signals stay resolved.
func (rec *SignalRecorder) Resolve(ctx context.Context, signalID, resolver uuid.UUID, notes string) (*signal.FraudSignal, error) {
	s, err := rec.signals.GetByID(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if err := s.Resolve(resolver, notes); err != nil {
		return nil, domainerrors.NewValidationError("ALREADY_RESOLVED", err.Error()).WithCause(err)
	}
	if err := rec.signals.Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
