package risk

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/domain/signal"
)

// Level is the discrete bucket derived from the numeric score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Thresholds are the fixed score cutoffs between levels: low < Medium <=
// medium < High <= high < Critical <= critical.
type Thresholds struct {
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

// Policy holds the scoring constants. These are configuration, not code:
// deployments tune weights and curve shape without touching the scorer.
type Policy struct {
	CategoryWeights map[rule.Category]float64 `json:"category_weights"`
	// Logistic saturating transform: raw sums map into 0-100 via
	// 100 / (1 + exp(-(raw-Midpoint)/Steepness)). Saturation keeps a pile
	// of low-severity signals from trivially out-scoring one critical hit.
	ScoreMidpoint  float64    `json:"score_midpoint"`
	ScoreSteepness float64    `json:"score_steepness"`
	Thresholds     Thresholds `json:"thresholds"`
}

// DefaultPolicy returns the stock scoring constants: payment and identity
// signals weigh most, behavior least; low <25, medium <50, high <75,
// critical >=75.
func DefaultPolicy() Policy {
	return Policy{
		CategoryWeights: map[rule.Category]float64{
			rule.CategoryPayment:  3.0,
			rule.CategoryIdentity: 3.0,
			rule.CategoryDevice:   2.0,
			rule.CategoryLocation: 1.5,
			rule.CategoryVelocity: 1.5,
			rule.CategoryBehavior: 1.0,
		},
		ScoreMidpoint:  20,
		ScoreSteepness: 5,
		Thresholds:     Thresholds{Medium: 25, High: 50, Critical: 75},
	}
}

// Weight returns the multiplier for a category. Unknown categories weigh 1.
func (p Policy) Weight(c rule.Category) float64 {
	if w, ok := p.CategoryWeights[c]; ok {
		return w
	}
	return 1.0
}

// Saturate maps a raw weighted sum into the bounded 0-100 score. Zero raw
// input is zero risk, not the curve's floor.
func (p Policy) Saturate(raw float64) int {
	if raw <= 0 {
		return 0
	}
	s := 100 / (1 + math.Exp(-(raw-p.ScoreMidpoint)/p.ScoreSteepness))
	return int(math.Round(s))
}

// LevelFor buckets a score into its level.
func (p Policy) LevelFor(score int) Level {
	switch {
	case score >= p.Thresholds.Critical:
		return LevelCritical
	case score >= p.Thresholds.High:
		return LevelHigh
	case score >= p.Thresholds.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// UserRiskScore is the current aggregate view, one row per user. Version
// backs the optimistic-concurrency update path: two recalculations racing for
// the same user must not lose updates.
type UserRiskScore struct {
	UserID       uuid.UUID `json:"user_id"`
	Score        int       `json:"score"`
	Level        Level     `json:"level"`
	RawScore     float64   `json:"raw_score"`
	SignalCount  int       `json:"signal_count"`
	Version      int64     `json:"version"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// Compute derives the aggregate score from a user's unresolved signals. The
// result is deterministic for a given signal set, which is what makes
// recalculation idempotent. Resolved signals in the input are ignored.
func Compute(userID uuid.UUID, signals []*signal.FraudSignal, p Policy) *UserRiskScore {
	var raw float64
	count := 0
	for _, s := range signals {
		if !s.IsUnresolved() {
			continue
		}
		raw += float64(s.Severity) * p.Weight(s.Type)
		count++
	}

	score := p.Saturate(raw)
	return &UserRiskScore{
		UserID:       userID,
		Score:        score,
		Level:        p.LevelFor(score),
		RawScore:     raw,
		SignalCount:  count,
		CalculatedAt: time.Now().UTC(),
	}
}
