package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/domain/signal"
	"github.com/shiftmarket/fraud-engine/internal/service/fraud"
)

// signalRepository implements fraud.SignalRepository on PostgreSQL.
type signalRepository struct {
	db *pgxpool.Pool
}

// NewSignalRepository creates the fraud signal repository.
func NewSignalRepository(db *pgxpool.Pool) fraud.SignalRepository {
	return &signalRepository{db: db}
}

const signalColumns = `
	id, user_id, rule_id, rule_code, type, severity, observed,
	device_hash, ip_address, transaction_id,
	match_count, first_matched_at, last_matched_at, review_requested,
	status, resolved_by, resolved_at, resolution_notes, created_at`

func scanSignal(row pgx.Row) (*signal.FraudSignal, error) {
	var s signal.FraudSignal
	err := row.Scan(
		&s.ID, &s.UserID, &s.RuleID, &s.RuleCode, &s.Type, &s.Severity, &s.Observed,
		&s.Context.DeviceHash, &s.Context.IPAddress, &s.Context.TransactionID,
		&s.MatchCount, &s.FirstMatchedAt, &s.LastMatchedAt, &s.ReviewRequested,
		&s.Status, &s.ResolvedBy, &s.ResolvedAt, &s.ResolutionNotes, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *signalRepository) Save(ctx context.Context, s *signal.FraudSignal) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO fraud_signals (
			id, user_id, rule_id, rule_code, type, severity, observed,
			device_hash, ip_address, transaction_id,
			match_count, first_matched_at, last_matched_at, review_requested,
			status, resolved_by, resolved_at, resolution_notes, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		s.ID, s.UserID, s.RuleID, s.RuleCode, s.Type, s.Severity, s.Observed,
		s.Context.DeviceHash, s.Context.IPAddress, s.Context.TransactionID,
		s.MatchCount, s.FirstMatchedAt, s.LastMatchedAt, s.ReviewRequested,
		s.Status, s.ResolvedBy, s.ResolvedAt, s.ResolutionNotes, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving fraud signal: %w", err)
	}
	return nil
}

func (r *signalRepository) Update(ctx context.Context, s *signal.FraudSignal) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE fraud_signals SET
			observed = $2, match_count = $3, last_matched_at = $4,
			review_requested = $5, status = $6,
			resolved_by = $7, resolved_at = $8, resolution_notes = $9
		WHERE id = $1`,
		s.ID, s.Observed, s.MatchCount, s.LastMatchedAt,
		s.ReviewRequested, s.Status,
		s.ResolvedBy, s.ResolvedAt, s.ResolutionNotes,
	)
	if err != nil {
		return fmt.Errorf("updating fraud signal %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrSignalNotFound
	}
	return nil
}

func (r *signalRepository) GetByID(ctx context.Context, id uuid.UUID) (*signal.FraudSignal, error) {
	s, err := scanSignal(r.db.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM fraud_signals WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domainerrors.ErrSignalNotFound
		}
		return nil, fmt.Errorf("getting fraud signal %s: %w", id, err)
	}
	return s, nil
}

func (r *signalRepository) UnresolvedForUser(ctx context.Context, userID uuid.UUID) ([]*signal.FraudSignal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+signalColumns+` FROM fraud_signals
		WHERE user_id = $1 AND status = $2
		ORDER BY last_matched_at DESC`,
		userID, signal.StatusUnresolved,
	)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved signals: %w", err)
	}
	defer rows.Close()
	return collectSignals(rows)
}

func (r *signalRepository) LatestUnresolved(ctx context.Context, userID, ruleID uuid.UUID) (*signal.FraudSignal, error) {
	s, err := scanSignal(r.db.QueryRow(ctx, `
		SELECT `+signalColumns+` FROM fraud_signals
		WHERE user_id = $1 AND rule_id = $2 AND status = $3
		ORDER BY last_matched_at DESC
		LIMIT 1`,
		userID, ruleID, signal.StatusUnresolved,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, domainerrors.ErrSignalNotFound
		}
		return nil, fmt.Errorf("getting latest unresolved signal: %w", err)
	}
	return s, nil
}

func (r *signalRepository) BySeverity(ctx context.Context, minSeverity, limit int) ([]*signal.FraudSignal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+signalColumns+` FROM fraud_signals
		WHERE status = $1 AND severity >= $2
		ORDER BY severity DESC, last_matched_at DESC
		LIMIT $3`,
		signal.StatusUnresolved, minSeverity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing signals by severity: %w", err)
	}
	defer rows.Close()
	return collectSignals(rows)
}

func (r *signalRepository) CountUnresolvedForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM fraud_signals WHERE user_id = $1 AND status = $2`,
		userID, signal.StatusUnresolved,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unresolved signals: %w", err)
	}
	return n, nil
}

func collectSignals(rows pgx.Rows) ([]*signal.FraudSignal, error) {
	var signals []*signal.FraudSignal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fraud signal: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}
