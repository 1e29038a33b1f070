package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"formaos-compliance/internal/domain/models"
)

// AuditRepository writes structured audit events and the organization activity log
type AuditRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool, now: time.Now}
}

// LogAuditEvent appends one audit event
func (r *AuditRepository) LogAuditEvent(ctx context.Context, event models.AuditEvent) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			organization_id, actor_user_id, actor_role, entity_type, entity_id,
			action_type, after_state, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		event.OrganizationID, event.ActorUserID, event.ActorRole, event.EntityType, event.EntityID,
		event.ActionType, event.AfterState, event.Reason, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log audit event: %w", err)
	}
	return nil
}

// LogActivity records a human-readable activity for the organization
func (r *AuditRepository) LogActivity(ctx context.Context, orgID, action, description string, metadata map[string]any) error {
	return r.InsertActivity(ctx, []models.ActivityEntry{{
		OrgID:     orgID,
		Action:    action,
		Target:    description,
		Metadata:  metadata,
		CreatedAt: r.now().UTC(),
	}})
}

// InsertActivity writes raw org_audit_logs rows with a single COPY
func (r *AuditRepository) InsertActivity(ctx context.Context, entries []models.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"org_audit_logs"},
		[]string{"organization_id", "action", "target", "actor_email", "metadata", "created_at"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			var actor any
			if e.ActorEmail != "" {
				actor = e.ActorEmail
			}
			createdAt := e.CreatedAt
			if createdAt.IsZero() {
				createdAt = r.now().UTC()
			}
			return []any{e.OrgID, e.Action, e.Target, actor, e.Metadata, createdAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the most recent activity rows for an organization
func (r *AuditRepository) ListActivity(ctx context.Context, orgID string, limit int) ([]models.ActivityEntry, error) {
	query := `
		SELECT organization_id, action, COALESCE(target, ''), COALESCE(actor_email, ''), metadata, created_at
		FROM org_audit_logs
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		if err := rows.Scan(&e.OrgID, &e.Action, &e.Target, &e.ActorEmail, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
