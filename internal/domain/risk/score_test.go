package risk

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/domain/signal"
)

func makeSignal(t *testing.T, category rule.Category, severity int, userID uuid.UUID) *signal.FraudSignal {
	t.Helper()
	r := rule.NewFraudRule("R_"+string(category), "r", category, rule.Condition{
		Field:    "failed_logins",
		Operator: rule.OpGreaterEqual,
		Value:    1,
		Period:   time.Hour,
	}, severity, rule.ActionFlag)
	return signal.New(r, userID, 1, signal.Context{})
}

func TestCompute_WeightsAndLevels(t *testing.T) {
	p := DefaultPolicy()
	userID := uuid.New()

	// One severity-9 payment signal plus one severity-1 behavior signal:
	// raw = 9*3.0 + 1*1.0 = 28, comfortably critical after saturation.
	score := Compute(userID, []*signal.FraudSignal{
		makeSignal(t, rule.CategoryPayment, 9, userID),
		makeSignal(t, rule.CategoryBehavior, 1, userID),
	}, p)

	assert.Equal(t, 28.0, score.RawScore)
	assert.Equal(t, 2, score.SignalCount)
	assert.Equal(t, LevelCritical, score.Level)
	assert.GreaterOrEqual(t, score.Score, p.Thresholds.Critical)
}

func TestCompute_LowSeverityPileStaysModerate(t *testing.T) {
	p := DefaultPolicy()
	userID := uuid.New()

	// Ten severity-1 behavior signals: raw = 10. The saturating curve keeps
	// them from out-scoring one severe payment signal.
	var signals []*signal.FraudSignal
	for i := 0; i < 10; i++ {
		signals = append(signals, makeSignal(t, rule.CategoryBehavior, 1, userID))
	}
	pile := Compute(userID, signals, p)

	severe := Compute(userID, []*signal.FraudSignal{
		makeSignal(t, rule.CategoryPayment, 9, userID),
	}, p)

	assert.Equal(t, LevelLow, pile.Level)
	assert.Less(t, pile.Score, severe.Score)
}

func TestCompute_IgnoresResolvedSignals(t *testing.T) {
	p := DefaultPolicy()
	userID := uuid.New()

	open := makeSignal(t, rule.CategoryVelocity, 8, userID)
	closed := makeSignal(t, rule.CategoryPayment, 9, userID)
	require.NoError(t, closed.Resolve(uuid.New(), "handled"))

	score := Compute(userID, []*signal.FraudSignal{open, closed}, p)
	assert.Equal(t, 12.0, score.RawScore)
	assert.Equal(t, 1, score.SignalCount)
}

func TestCompute_NoSignalsIsZero(t *testing.T) {
	score := Compute(uuid.New(), nil, DefaultPolicy())
	assert.Equal(t, 0, score.Score)
	assert.Equal(t, 0.0, score.RawScore)
	assert.Equal(t, LevelLow, score.Level)
}

func TestCompute_Deterministic(t *testing.T) {
	p := DefaultPolicy()
	userID := uuid.New()
	signals := []*signal.FraudSignal{
		makeSignal(t, rule.CategoryVelocity, 8, userID),
		makeSignal(t, rule.CategoryDevice, 6, userID),
	}

	a := Compute(userID, signals, p)
	b := Compute(userID, signals, p)
	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.RawScore, b.RawScore)
	assert.Equal(t, a.Level, b.Level)
}

func TestSaturate(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 0, p.Saturate(0))
	assert.Equal(t, 0, p.Saturate(-5))

	// Monotonic and bounded.
	prev := 0
	for raw := 1.0; raw <= 200; raw++ {
		s := p.Saturate(raw)
		assert.GreaterOrEqual(t, s, prev)
		assert.LessOrEqual(t, s, 100)
		prev = s
	}
}

func TestLevelFor_Boundaries(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, LevelLow, p.LevelFor(24))
	assert.Equal(t, LevelMedium, p.LevelFor(25))
	assert.Equal(t, LevelMedium, p.LevelFor(49))
	assert.Equal(t, LevelHigh, p.LevelFor(50))
	assert.Equal(t, LevelHigh, p.LevelFor(74))
	assert.Equal(t, LevelCritical, p.LevelFor(75))
}

func TestWeight_UnknownCategoryDefaultsToOne(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 1.0, p.Weight(rule.Category("mystery")))
	assert.Equal(t, 3.0, p.Weight(rule.CategoryPayment))
}
