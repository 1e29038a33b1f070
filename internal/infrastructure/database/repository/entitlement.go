package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotEntitled is returned when an organization lacks an active feature entitlement
var ErrNotEntitled = errors.New("feature not entitled")

// EntitlementRepository checks organization feature entitlements
type EntitlementRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewEntitlementRepository creates a new entitlement repository
func NewEntitlementRepository(pool *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{pool: pool, now: time.Now}
}

// Require returns nil when featureKey is enabled and unexpired for orgID
func (r *EntitlementRepository) Require(ctx context.Context, orgID, featureKey string) error {
	query := `
		SELECT enabled, expires_at
		FROM org_entitlements
		WHERE organization_id = $1 AND feature_key = $2`

	var enabled bool
	var expiresAt pgtype.Timestamptz
	err := r.pool.QueryRow(ctx, query, orgID, featureKey).Scan(&enabled, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotEntitled, featureKey)
	}
	if err != nil {
		return fmt.Errorf("failed to check entitlement: %w", err)
	}
	if !enabled {
		return fmt.Errorf("%w: %s disabled", ErrNotEntitled, featureKey)
	}
	if expiresAt.Valid && !expiresAt.Time.After(r.now()) {
		return fmt.Errorf("%w: %s expired", ErrNotEntitled, featureKey)
	}
	return nil
}

// Grant enables featureKey for orgID until expiresAt (nil for no expiry)
func (r *EntitlementRepository) Grant(ctx context.Context, orgID, featureKey string, expiresAt *time.Time) error {
	query := `
		INSERT INTO org_entitlements (organization_id, feature_key, enabled, expires_at)
		VALUES ($1, $2, TRUE, $3)
		ON CONFLICT (organization_id, feature_key) DO UPDATE SET
			enabled = TRUE,
			expires_at = EXCLUDED.expires_at`

	if _, err := r.pool.Exec(ctx, query, orgID, featureKey, timeToTimestamptzPtr(expiresAt)); err != nil {
		return fmt.Errorf("failed to grant entitlement: %w", err)
	}
	return nil
}
