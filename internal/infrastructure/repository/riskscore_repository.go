package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/risk"
	"github.com/shiftmarket/fraud-engine/internal/service/fraud"
)

// riskScoreRepository implements fraud.RiskScoreRepository on PostgreSQL with
// optimistic concurrency: updates carry the version they read and fail on
// mismatch instead of overwriting a concurrent recalculation.
type riskScoreRepository struct {
	db *pgxpool.Pool
}

// NewRiskScoreRepository creates the risk score repository.
func NewRiskScoreRepository(db *pgxpool.Pool) fraud.RiskScoreRepository {
	return &riskScoreRepository{db: db}
}

func (r *riskScoreRepository) Get(ctx context.Context, userID uuid.UUID) (*risk.UserRiskScore, error) {
	var s risk.UserRiskScore
	err := r.db.QueryRow(ctx, `
		SELECT user_id, score, level, raw_score, signal_count, version, calculated_at
		FROM user_risk_scores WHERE user_id = $1`,
		userID,
	).Scan(&s.UserID, &s.Score, &s.Level, &s.RawScore, &s.SignalCount, &s.Version, &s.CalculatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domainerrors.ErrScoreNotFound
		}
		return nil, fmt.Errorf("getting risk score for %s: %w", userID, err)
	}
	return &s, nil
}

func (r *riskScoreRepository) Upsert(ctx context.Context, score *risk.UserRiskScore, expectedVersion int64) error {
	if expectedVersion == 0 {
		_, err := r.db.Exec(ctx, `
			INSERT INTO user_risk_scores (
				user_id, score, level, raw_score, signal_count, version, calculated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			score.UserID, score.Score, score.Level, score.RawScore,
			score.SignalCount, score.Version, score.CalculatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domainerrors.NewConflictError(
					fmt.Sprintf("risk score for %s was created concurrently", score.UserID)).WithCause(err)
			}
			return fmt.Errorf("creating risk score for %s: %w", score.UserID, err)
		}
		return nil
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE user_risk_scores SET
			score = $2, level = $3, raw_score = $4, signal_count = $5,
			version = $6, calculated_at = $7
		WHERE user_id = $1 AND version = $8`,
		score.UserID, score.Score, score.Level, score.RawScore, score.SignalCount,
		score.Version, score.CalculatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating risk score for %s: %w", score.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.NewConflictError(
			fmt.Sprintf("risk score for %s moved past version %d", score.UserID, expectedVersion))
	}
	return nil
}
