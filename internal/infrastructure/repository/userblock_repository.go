package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiftmarket/fraud-engine/internal/service/fraud"
)

// userBlockRepository implements fraud.UserBlockRepository on PostgreSQL.
// Block is an upsert so a rule re-firing on an already blocked user keeps the
// original block row and just refreshes the reason.
type userBlockRepository struct {
	db *pgxpool.Pool
}

// NewUserBlockRepository creates the user block repository.
func NewUserBlockRepository(db *pgxpool.Pool) fraud.UserBlockRepository {
	return &userBlockRepository{db: db}
}

func (r *userBlockRepository) IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_blocks WHERE user_id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking user block for %s: %w", userID, err)
	}
	return exists, nil
}

func (r *userBlockRepository) Block(ctx context.Context, userID, actor uuid.UUID, reason string) error {
	var blockedBy *uuid.UUID
	if actor != uuid.Nil {
		blockedBy = &actor
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_blocks (user_id, blocked_by, reason, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET reason = EXCLUDED.reason`,
		userID, blockedBy, reason,
	)
	if err != nil {
		return fmt.Errorf("blocking user %s: %w", userID, err)
	}
	return nil
}

func (r *userBlockRepository) Unblock(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_blocks WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("unblocking user %s: %w", userID, err)
	}
	return nil
}
