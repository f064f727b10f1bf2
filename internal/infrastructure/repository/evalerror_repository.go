package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/service/fraud"
)

// evalErrorRepository implements fraud.EvaluationErrorRepository on
// PostgreSQL. It backs the admin "rules with errors" surface.
type evalErrorRepository struct {
	db *pgxpool.Pool
}

// NewEvaluationErrorRepository creates the evaluation error repository.
func NewEvaluationErrorRepository(db *pgxpool.Pool) fraud.EvaluationErrorRepository {
	return &evalErrorRepository{db: db}
}

func (r *evalErrorRepository) Record(ctx context.Context, e *rule.EvaluationError) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO evaluation_errors (id, rule_code, field, user_id, reason, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.RuleCode, e.Field, e.UserID, e.Reason, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("recording evaluation error: %w", err)
	}
	return nil
}

func (r *evalErrorRepository) Recent(ctx context.Context, limit int) ([]*rule.EvaluationError, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, rule_code, field, user_id, reason, occurred_at
		FROM evaluation_errors ORDER BY occurred_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing evaluation errors: %w", err)
	}
	defer rows.Close()

	var errs []*rule.EvaluationError
	for rows.Next() {
		var e rule.EvaluationError
		if err := rows.Scan(&e.ID, &e.RuleCode, &e.Field, &e.UserID, &e.Reason, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning evaluation error: %w", err)
		}
		errs = append(errs, &e)
	}
	return errs, rows.Err()
}
