package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"formaos-compliance/internal/domain/models"
)

// ComplianceRepository handles the organization-facing frameworks and controls.
// compliance_controls exists in two layouts: modern rows carry a risk_level
// column, legacy rows a numeric risk_weight.
type ComplianceRepository struct {
	pool *pgxpool.Pool
}

// NewComplianceRepository creates a new compliance repository
func NewComplianceRepository(pool *pgxpool.Pool) *ComplianceRepository {
	return &ComplianceRepository{pool: pool}
}

// DetectControlsSchema inspects information_schema for the risk column in use
func (r *ComplianceRepository) DetectControlsSchema(ctx context.Context) (models.ControlsSchema, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE column_name = 'risk_level'),
			COUNT(*) FILTER (WHERE column_name = 'risk_weight'),
			COUNT(*)
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'compliance_controls'`

	var riskLevel, riskWeight, total int
	if err := r.pool.QueryRow(ctx, query).Scan(&riskLevel, &riskWeight, &total); err != nil {
		return "", fmt.Errorf("failed to inspect compliance_controls: %w", err)
	}
	switch {
	case total == 0:
		return "", errors.New("compliance_controls table not found")
	case riskLevel == 0 && riskWeight > 0:
		return models.ControlsSchemaLegacy, nil
	default:
		return models.ControlsSchemaModern, nil
	}
}

const complianceFrameworkColumns = `id, code, name, description`

// GetFrameworkByCode retrieves a compliance framework by code; nil when absent
func (r *ComplianceRepository) GetFrameworkByCode(ctx context.Context, code string) (*models.ComplianceFramework, error) {
	query := `SELECT ` + complianceFrameworkColumns + ` FROM compliance_frameworks WHERE code = $1`

	fw, err := scanComplianceFramework(r.pool.QueryRow(ctx, query, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance framework: %w", err)
	}
	return fw, nil
}

// ListFrameworks retrieves all compliance frameworks ordered by code
func (r *ComplianceRepository) ListFrameworks(ctx context.Context) ([]models.ComplianceFramework, error) {
	query := `SELECT ` + complianceFrameworkColumns + ` FROM compliance_frameworks ORDER BY code`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance frameworks: %w", err)
	}
	defer rows.Close()

	var frameworks []models.ComplianceFramework
	for rows.Next() {
		fw, err := scanComplianceFramework(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compliance framework row: %w", err)
		}
		frameworks = append(frameworks, *fw)
	}
	return frameworks, rows.Err()
}

// UpsertFramework creates or updates a compliance framework by code
func (r *ComplianceRepository) UpsertFramework(ctx context.Context, code, title string, description *string) (uuid.UUID, error) {
	query := `
		INSERT INTO compliance_frameworks (code, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description
		RETURNING id`

	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, query, code, title, description).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert compliance framework: %w", err)
	}
	return id, nil
}

// ListControls retrieves the controls of a framework in the given layout.
// Legacy rows have their numeric weight mapped onto a risk tier.
func (r *ComplianceRepository) ListControls(ctx context.Context, schema models.ControlsSchema, frameworkID uuid.UUID) ([]models.ComplianceControl, error) {
	riskColumn := "risk_level"
	if schema == models.ControlsSchemaLegacy {
		riskColumn = "risk_weight::text"
	}

	query := `
		SELECT id, framework_id, code, title, description, category, ` + riskColumn + `,
		       weight, required_evidence_count, is_mandatory, framework_control_id
		FROM compliance_controls
		WHERE framework_id = $1
		ORDER BY code`

	rows, err := r.pool.Query(ctx, query, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance controls: %w", err)
	}
	defer rows.Close()

	var controls []models.ComplianceControl
	for rows.Next() {
		c := models.ComplianceControl{}
		var description, category, risk pgtype.Text
		var weight pgtype.Float8
		var required pgtype.Int4
		var mandatory pgtype.Bool
		var frameworkControlID pgtype.UUID

		if err := rows.Scan(
			&c.ID, &c.FrameworkID, &c.Code, &c.Title, &description, &category, &risk,
			&weight, &required, &mandatory, &frameworkControlID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan compliance control row: %w", err)
		}

		c.Description = textPtr(description)
		c.Category = textPtr(category)
		c.Weight = float8Ptr(weight)
		c.RequiredEvidenceCount = int4Ptr(required)
		c.IsMandatory = boolPtr(mandatory)
		c.FrameworkControlID = nullUUIDToPtr(frameworkControlID)
		c.RiskLevel = riskFromColumn(schema, risk)

		controls = append(controls, c)
	}
	return controls, rows.Err()
}

// UpsertControls writes synced catalog controls in one batch
func (r *ComplianceRepository) UpsertControls(ctx context.Context, schema models.ControlsSchema, controls []models.ComplianceControlSync) error {
	if len(controls) == 0 {
		return nil
	}

	riskColumn := "risk_level"
	if schema == models.ControlsSchemaLegacy {
		riskColumn = "risk_weight"
	}

	query := `
		INSERT INTO compliance_controls (framework_id, framework_control_id, code, title, description, category, ` + riskColumn + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (framework_id, code) DO UPDATE SET
			framework_control_id = EXCLUDED.framework_control_id,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			` + riskColumn + ` = EXCLUDED.` + riskColumn

	batch := &pgx.Batch{}
	for _, c := range controls {
		var risk any = string(c.RiskLevel)
		if schema == models.ControlsSchemaLegacy {
			risk = models.WeightFromRiskLevel(c.RiskLevel)
		}
		batch.Queue(query, c.FrameworkID, c.FrameworkControlID, c.Code, c.Title, c.Description, c.Category, risk)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, c := range controls {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert compliance control %s: %w", c.Code, err)
		}
	}
	return nil
}

// UpsertOrgFramework marks slug enabled for the organization; re-enabling is a no-op
func (r *ComplianceRepository) UpsertOrgFramework(ctx context.Context, orgID, slug string, enabledAt time.Time) error {
	query := `
		INSERT INTO org_frameworks (org_id, framework_slug, enabled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (org_id, framework_slug) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, orgID, slug, enabledAt); err != nil {
		return fmt.Errorf("failed to enable framework: %w", err)
	}
	return nil
}

// ListOrgFrameworkSlugs retrieves the slugs enabled for an organization
func (r *ComplianceRepository) ListOrgFrameworkSlugs(ctx context.Context, orgID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT framework_slug FROM org_frameworks WHERE org_id = $1 ORDER BY framework_slug`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list org frameworks: %w", err)
	}
	slugs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan org framework row: %w", err)
	}
	return slugs, nil
}

// ListOrgFrameworks retrieves every enabled (organization, framework) pair
func (r *ComplianceRepository) ListOrgFrameworks(ctx context.Context) ([]models.OrgFramework, error) {
	rows, err := r.pool.Query(ctx, `SELECT org_id, framework_slug, enabled_at FROM org_frameworks ORDER BY org_id, framework_slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list org frameworks: %w", err)
	}
	defer rows.Close()

	var out []models.OrgFramework
	for rows.Next() {
		var of models.OrgFramework
		if err := rows.Scan(&of.OrgID, &of.FrameworkSlug, &of.EnabledAt); err != nil {
			return nil, fmt.Errorf("failed to scan org framework row: %w", err)
		}
		out = append(out, of)
	}
	return out, rows.Err()
}

// Helper functions

func scanComplianceFramework(row pgx.Row) (*models.ComplianceFramework, error) {
	fw := &models.ComplianceFramework{}
	var description pgtype.Text
	if err := row.Scan(&fw.ID, &fw.Code, &fw.Title, &description); err != nil {
		return nil, err
	}
	fw.Description = textPtr(description)
	return fw, nil
}

func riskFromColumn(schema models.ControlsSchema, raw pgtype.Text) models.RiskLevel {
	if !raw.Valid {
		return models.RiskMedium
	}
	if schema != models.ControlsSchemaLegacy {
		return models.ParseRiskLevel(raw.String)
	}
	weight, err := strconv.ParseFloat(raw.String, 64)
	if err != nil {
		return models.RiskMedium
	}
	return models.RiskLevelFromWeight(weight)
}
