package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiftmarket/fraud-engine/internal/domain/device"
	domainerrors "github.com/shiftmarket/fraud-engine/internal/domain/errors"
	"github.com/shiftmarket/fraud-engine/internal/service/fraud"
)

// deviceRepository implements fraud.DeviceRepository on PostgreSQL.
type deviceRepository struct {
	db *pgxpool.Pool
}

// NewDeviceRepository creates the device fingerprint repository.
func NewDeviceRepository(db *pgxpool.Pool) fraud.DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) GetByHash(ctx context.Context, hash string) (*device.Fingerprint, error) {
	var f device.Fingerprint
	err := r.db.QueryRow(ctx, `
		SELECT id, hash, user_id, user_agent, platform, trust_state,
		       blocked_by, blocked_reason, first_seen_at, last_seen_at, updated_at
		FROM device_fingerprints WHERE hash = $1`,
		hash,
	).Scan(&f.ID, &f.Hash, &f.UserID, &f.UserAgent, &f.Platform, &f.TrustState,
		&f.BlockedBy, &f.BlockedReason, &f.FirstSeenAt, &f.LastSeenAt, &f.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domainerrors.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("getting device %s: %w", hash, err)
	}
	return &f, nil
}

func (r *deviceRepository) Save(ctx context.Context, f *device.Fingerprint) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO device_fingerprints (
			id, hash, user_id, user_agent, platform, trust_state,
			blocked_by, blocked_reason, first_seen_at, last_seen_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (hash) DO NOTHING`,
		f.ID, f.Hash, f.UserID, f.UserAgent, f.Platform, f.TrustState,
		f.BlockedBy, f.BlockedReason, f.FirstSeenAt, f.LastSeenAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", f.Hash, err)
	}
	return nil
}

func (r *deviceRepository) Update(ctx context.Context, f *device.Fingerprint) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE device_fingerprints SET
			user_id = $2, user_agent = $3, platform = $4, trust_state = $5,
			blocked_by = $6, blocked_reason = $7, last_seen_at = $8, updated_at = $9
		WHERE hash = $1`,
		f.Hash, f.UserID, f.UserAgent, f.Platform, f.TrustState,
		f.BlockedBy, f.BlockedReason, f.LastSeenAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating device %s: %w", f.Hash, err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrDeviceNotFound
	}
	return nil
}
