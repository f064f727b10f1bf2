package fraud

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/risk"
)

// Scorer maintains the per-user aggregate risk score. Recalculation is
// deterministic for a given signal set, so calling it redundantly is safe.
// Concurrent recalculations for the same user serialize via optimistic
// versioning with a bounded retry.
type Scorer struct {
	scores  RiskScoreRepository
	signals SignalRepository
	policy  risk.Policy
	retries int
	logger  *zap.Logger
}

// NewScorer wires the scorer. retries <= 0 falls back to
// ScoreConflictRetries.
func NewScorer(scores RiskScoreRepository, signals SignalRepository, policy risk.Policy, retries int, logger *zap.Logger) *Scorer {
	if retries <= 0 {
		retries = ScoreConflictRetries
	}
	return &Scorer{
		scores:  scores,
		signals: signals,
		policy:  policy,
		retries: retries,
		logger:  logger,
	}
}

// Recalculate recomputes the user's score from their unresolved signals and
// stores it. After the retry budget is spent on version conflicts the
// conflict surfaces to the caller, who must treat the event as not yet
// scored.
func (sc *Scorer) Recalculate(ctx context.Context, userID uuid.UUID) (*risk.UserRiskScore, error) {
	var lastErr error
	for attempt := 0; attempt < sc.retries; attempt++ {
		var expected int64
		current, err := sc.scores.Get(ctx, userID)
		switch {
		case err == nil:
			expected = current.Version
		case domainerrors.IsType(err, domainerrors.ErrorTypeNotFound):
			expected = 0
		default:
			return nil, err
		}

		unresolved, err := sc.signals.UnresolvedForUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		next := risk.Compute(userID, unresolved, sc.policy)
		next.Version = expected + 1
		if err := sc.scores.Upsert(ctx, next, expected); err != nil {
			if domainerrors.IsType(err, domainerrors.ErrorTypeConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		scoreRecalculationsTotal.WithLabelValues(string(next.Level)).Inc()
		return next, nil
	}

	sc.logger.Warn("risk score recalculation lost every retry",
		zap.String("user_id", userID.String()),
		zap.Int("attempts", sc.retries))
	return nil, domainerrors.NewConflictError("risk score update kept conflicting").WithCause(lastErr)
}

// Current returns the stored score, computing it lazily for users that have
// never been scored.
func (sc *Scorer) Current(ctx context.Context, userID uuid.UUID) (*risk.UserRiskScore, error) {
	score, err := sc.scores.Get(ctx, userID)
	if err == nil {
		return score, nil
	}
	if domainerrors.IsType(err, domainerrors.ErrorTypeNotFound) {
		return sc.Recalculate(ctx, userID)
	}
	return nil, err
}
