package fraud

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/risk"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
)

func newTestScorer(t *testing.T) (*Scorer, *memScoreRepo, *memSignalRepo) {
	t.Helper()
	scores := newMemScoreRepo()
	signals := newMemSignalRepo()
	scorer := NewScorer(scores, signals, risk.DefaultPolicy(), 3, zaptest.NewLogger(t))
	return scorer, scores, signals
}

func TestScorer_RecalculateFromSignals(t *testing.T) {
	scorer, _, signals := newTestScorer(t)
	userID := uuid.New()

	// One severity-9 payment and one severity-1 behavior signal: raw
	// 9*3.0 + 1*1.0 = 28, which saturates into critical territory.
	pay := rule.NewFraudRule("PAY", "pay", rule.CategoryPayment, rule.Condition{
		Field: FieldPaymentAttempts, Operator: rule.OpGreaterThan, Value: 10,
	}, 9, rule.ActionReview)
	beh := rule.NewFraudRule("BEH", "beh", rule.CategoryBehavior, rule.Condition{
		Field: FieldShiftCancellations, Operator: rule.OpGreaterThan, Value: 3,
	}, 1, rule.ActionFlag)
	require.NoError(t, signals.Save(context.Background(), newTestSignal(pay, userID, 11)))
	require.NoError(t, signals.Save(context.Background(), newTestSignal(beh, userID, 4)))

	score, err := scorer.Recalculate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 28.0, score.RawScore)
	assert.Equal(t, 2, score.SignalCount)
	assert.Equal(t, risk.LevelCritical, score.Level)
	assert.Equal(t, int64(1), score.Version)
}

func TestScorer_RecalculateIsIdempotent(t *testing.T) {
	scorer, _, signals := newTestScorer(t)
	userID := uuid.New()

	r := rule.NewFraudRule("VEL", "vel", rule.CategoryVelocity, rule.Condition{
		Field: FieldFailedLogins, Operator: rule.OpGreaterEqual, Value: 5,
	}, 8, rule.ActionFlag)
	require.NoError(t, signals.Save(context.Background(), newTestSignal(r, userID, 5)))

	first, err := scorer.Recalculate(context.Background(), userID)
	require.NoError(t, err)
	second, err := scorer.Recalculate(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Level, second.Level)
	// Only the version moves.
	assert.Equal(t, first.Version+1, second.Version)
}

func TestScorer_NoSignalsScoresZero(t *testing.T) {
	scorer, _, _ := newTestScorer(t)
	userID := uuid.New()

	score, err := scorer.Recalculate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, score.Score)
	assert.Equal(t, risk.LevelLow, score.Level)
}

func TestScorer_RetriesThroughVersionConflicts(t *testing.T) {
	scorer, scores, _ := newTestScorer(t)
	userID := uuid.New()
	scores.conflictsLeft = 2

	score, err := scorer.Recalculate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), score.Version)
}

func TestScorer_SurfacesConflictAfterRetryBudget(t *testing.T) {
	scorer, scores, _ := newTestScorer(t)
	userID := uuid.New()
	scores.conflictsLeft = 10

	_, err := scorer.Recalculate(context.Background(), userID)
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeConflict))
	assert.True(t, domainerrors.IsRetryable(err))
}

func TestScorer_CurrentComputesLazily(t *testing.T) {
	scorer, _, _ := newTestScorer(t)
	userID := uuid.New()

	score, err := scorer.Current(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, score.Score)
	assert.Equal(t, risk.LevelLow, score.Level)

	// Subsequent reads hit the stored row.
	again, err := scorer.Current(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, score.Version, again.Version)
}
