package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiftmarket/fraud-engine/internal/domain/audit"
	"github.com/shiftmarket/fraud-engine/internal/service/fraud"
)

// auditRepository implements fraud.AuditRepository on PostgreSQL. Detail goes
// into a jsonb column so audit queries can filter on it.
type auditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates the audit event repository.
func NewAuditRepository(db *pgxpool.Pool) fraud.AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Record(ctx context.Context, ev *audit.Event) error {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("marshaling audit detail: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO audit_events (id, actor, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ev.ID, ev.Actor, ev.Action, ev.EntityType, ev.EntityID, detail, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

func (r *auditRepository) Recent(ctx context.Context, limit int) ([]*audit.Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, actor, action, entity_type, entity_id, detail, created_at
		FROM audit_events ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		var ev audit.Event
		var detail []byte
		if err := rows.Scan(&ev.ID, &ev.Actor, &ev.Action, &ev.EntityType, &ev.EntityID, &detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				ev.Detail = nil
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
