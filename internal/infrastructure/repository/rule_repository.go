package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/rule"
	"github.com/shiftmarket/fraud-engine/internal/service/fraud"
)

// ruleRepository implements fraud.RuleRepository on PostgreSQL. Condition
// periods are stored as whole seconds.
type ruleRepository struct {
	db *pgxpool.Pool
}

// NewRuleRepository creates the fraud rule repository.
func NewRuleRepository(db *pgxpool.Pool) fraud.RuleRepository {
	return &ruleRepository{db: db}
}

const ruleColumns = `
	id, code, name, description, category,
	cond_field, cond_operator, cond_value, cond_period_seconds,
	severity, action, active, created_at, updated_at`

func scanRule(row pgx.Row) (*rule.FraudRule, error) {
	var r rule.FraudRule
	var periodSeconds int64
	err := row.Scan(
		&r.ID, &r.Code, &r.Name, &r.Description, &r.Category,
		&r.Condition.Field, &r.Condition.Operator, &r.Condition.Value, &periodSeconds,
		&r.Severity, &r.Action, &r.Active, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Condition.Period = time.Duration(periodSeconds) * time.Second
	return &r, nil
}

func (r *ruleRepository) List(ctx context.Context) ([]*rule.FraudRule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM fraud_rules ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("listing fraud rules: %w", err)
	}
	defer rows.Close()

	var rules []*rule.FraudRule
	for rows.Next() {
		fr, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fraud rule: %w", err)
		}
		rules = append(rules, fr)
	}
	return rules, rows.Err()
}

func (r *ruleRepository) GetByCode(ctx context.Context, code string) (*rule.FraudRule, error) {
	fr, err := scanRule(r.db.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM fraud_rules WHERE code = $1`, code))
	if err != nil {
		if isNoRows(err) {
			return nil, domainerrors.ErrRuleNotFound
		}
		return nil, fmt.Errorf("getting fraud rule %s: %w", code, err)
	}
	return fr, nil
}

func (r *ruleRepository) Create(ctx context.Context, fr *rule.FraudRule) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO fraud_rules (
			id, code, name, description, category,
			cond_field, cond_operator, cond_value, cond_period_seconds,
			severity, action, active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (code) DO NOTHING`,
		fr.ID, fr.Code, fr.Name, fr.Description, fr.Category,
		fr.Condition.Field, fr.Condition.Operator, fr.Condition.Value,
		int64(fr.Condition.Period/time.Second),
		fr.Severity, fr.Action, fr.Active, fr.CreatedAt, fr.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("creating fraud rule %s: %w", fr.Code, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ruleRepository) Update(ctx context.Context, fr *rule.FraudRule) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE fraud_rules SET
			name = $2, description = $3, category = $4,
			cond_field = $5, cond_operator = $6, cond_value = $7, cond_period_seconds = $8,
			severity = $9, action = $10, active = $11, updated_at = $12
		WHERE code = $1`,
		fr.Code, fr.Name, fr.Description, fr.Category,
		fr.Condition.Field, fr.Condition.Operator, fr.Condition.Value,
		int64(fr.Condition.Period/time.Second),
		fr.Severity, fr.Action, fr.Active, fr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating fraud rule %s: %w", fr.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrRuleNotFound
	}
	return nil
}

func (r *ruleRepository) SetActive(ctx context.Context, code string, active bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE fraud_rules SET active = $2, updated_at = now() WHERE code = $1`,
		code, active,
	)
	if err != nil {
		return fmt.Errorf("toggling fraud rule %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrRuleNotFound
	}
	return nil
}
