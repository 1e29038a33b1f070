package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"formaos-compliance/internal/domain/models"
)

// EvaluationRepository persists per-control evaluations, framework snapshots and the status rollup.
// Evaluations and snapshots share org_control_evaluations, keyed by (organization, control_type, control_key).
type EvaluationRepository struct {
	pool *pgxpool.Pool
}

// NewEvaluationRepository creates a new evaluation repository
func NewEvaluationRepository(pool *pgxpool.Pool) *EvaluationRepository {
	return &EvaluationRepository{pool: pool}
}

// UpsertEvaluations writes per-control evaluation rows in one transaction
func (r *EvaluationRepository) UpsertEvaluations(ctx context.Context, rows []models.ControlEvaluation) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO org_control_evaluations (
			organization_id, entity_id, control_type, control_key, required,
			status, last_evaluated_at, framework_id, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (organization_id, control_type, control_key) DO UPDATE SET
			entity_id = EXCLUDED.entity_id,
			required = EXCLUDED.required,
			status = EXCLUDED.status,
			last_evaluated_at = EXCLUDED.last_evaluated_at,
			framework_id = EXCLUDED.framework_id,
			details = EXCLUDED.details`

	batch := &pgx.Batch{}
	for _, e := range rows {
		batch.Queue(query,
			e.OrgID, e.EntityID, e.ControlType, e.ControlKey, e.Required,
			string(e.Status), e.LastEvaluatedAt, uuidToNullUUID(e.FrameworkID), e.Details,
		)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for _, e := range rows {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to upsert evaluation %s: %w", e.ControlKey, err)
			}
		}
		return results.Close()
	})
}

// InsertSnapshot appends a framework snapshot row. Snapshot keys carry the
// evaluation timestamp so every run adds a row.
func (r *EvaluationRepository) InsertSnapshot(ctx context.Context, rec *models.FrameworkSnapshotRecord) error {
	query := `
		INSERT INTO org_control_evaluations (
			organization_id, control_type, control_key, required, status, last_evaluated_at,
			framework_id, compliance_score, total_controls, satisfied_controls, missing_controls,
			missing_control_codes, partial_control_codes, snapshot_hash, evaluated_at, details
		) VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $5, $14)`

	_, err := r.pool.Exec(ctx, query,
		rec.OrgID, models.ControlTypeFrameworkSnapshot, rec.ControlKey, string(rec.Status), rec.EvaluatedAt,
		rec.FrameworkID, rec.ComplianceScore, rec.TotalControls, rec.SatisfiedControls, rec.MissingControls,
		nonNilStrings(rec.MissingControlCodes), nonNilStrings(rec.PartialControlCodes), rec.SnapshotHash, rec.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert framework snapshot: %w", err)
	}
	return nil
}

// ListRecentSnapshots returns the newest snapshot rows for an organization, newest first
func (r *EvaluationRepository) ListRecentSnapshots(ctx context.Context, orgID string, limit int) ([]models.SnapshotPoint, error) {
	query := `
		SELECT framework_id, compliance_score, last_evaluated_at
		FROM org_control_evaluations
		WHERE organization_id = $1 AND control_type = $2
		ORDER BY last_evaluated_at DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, orgID, models.ControlTypeFrameworkSnapshot, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var points []models.SnapshotPoint
	for rows.Next() {
		var p models.SnapshotPoint
		var frameworkID pgtype.UUID
		var score pgtype.Int4
		if err := rows.Scan(&frameworkID, &score, &p.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		p.FrameworkID = nullUUIDToPtr(frameworkID)
		p.ComplianceScore = int(score.Int32)
		points = append(points, p)
	}
	return points, rows.Err()
}

// UpsertStatusRollup records the latest evaluation for the organization.
// A database without org_compliance_status is not an error.
func (r *EvaluationRepository) UpsertStatusRollup(ctx context.Context, rollup *models.ComplianceStatusRollup) error {
	query := `
		INSERT INTO org_compliance_status (
			organization_id, last_framework_code, last_score, last_total_controls,
			last_missing_controls, last_partial_controls, last_evaluated_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (organization_id) DO UPDATE SET
			last_framework_code = EXCLUDED.last_framework_code,
			last_score = EXCLUDED.last_score,
			last_total_controls = EXCLUDED.last_total_controls,
			last_missing_controls = EXCLUDED.last_missing_controls,
			last_partial_controls = EXCLUDED.last_partial_controls,
			last_evaluated_at = EXCLUDED.last_evaluated_at,
			updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		rollup.OrgID, rollup.LastFrameworkCode, rollup.LastScore, rollup.LastTotalControls,
		rollup.LastMissingControls, rollup.LastPartialControls, rollup.LastEvaluatedAt,
	)
	if err != nil && !isMissingRelation(err) {
		return fmt.Errorf("failed to upsert compliance status: %w", err)
	}
	return nil
}

// GetStatusRollup reads the rollup row; nil when the organization was never evaluated
func (r *EvaluationRepository) GetStatusRollup(ctx context.Context, orgID string) (*models.ComplianceStatusRollup, error) {
	query := `
		SELECT organization_id, last_framework_code, last_score, last_total_controls,
		       last_missing_controls, last_partial_controls, last_evaluated_at
		FROM org_compliance_status
		WHERE organization_id = $1`

	rollup := &models.ComplianceStatusRollup{}
	err := r.pool.QueryRow(ctx, query, orgID).Scan(
		&rollup.OrgID, &rollup.LastFrameworkCode, &rollup.LastScore, &rollup.LastTotalControls,
		&rollup.LastMissingControls, &rollup.LastPartialControls, &rollup.LastEvaluatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) || isMissingRelation(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance status: %w", err)
	}
	return rollup, nil
}
