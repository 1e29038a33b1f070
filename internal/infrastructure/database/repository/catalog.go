package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"formaos-compliance/internal/domain/models"
)

// CatalogRepository handles framework catalog persistence
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// UpsertFramework creates or updates a framework by slug
func (r *CatalogRepository) UpsertFramework(ctx context.Context, fw models.PackFramework) (uuid.UUID, error) {
	isActive := true
	if fw.IsActive != nil {
		isActive = *fw.IsActive
	}

	query := `
		INSERT INTO frameworks (name, slug, version, description, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id`

	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, query, fw.Name, fw.Slug, fw.Version, fw.Description, isActive).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert framework: %w", err)
	}
	return id, nil
}

// UpsertDomain creates or updates a domain by (framework, name)
func (r *CatalogRepository) UpsertDomain(ctx context.Context, frameworkID uuid.UUID, d models.PackDomain) (*models.Domain, error) {
	sortOrder := 0
	if d.SortOrder.Value != nil {
		sortOrder = *d.SortOrder.Value
	}

	query := `
		INSERT INTO framework_domains (framework_id, name, description, sort_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (framework_id, name) DO UPDATE SET
			description = COALESCE(EXCLUDED.description, framework_domains.description),
			sort_order = EXCLUDED.sort_order
		RETURNING id, framework_id, name, description, sort_order`

	var description pgtype.Text
	dom := &models.Domain{}
	err := r.pool.QueryRow(ctx, query, frameworkID, d.Name, d.Description, sortOrder).
		Scan(&dom.ID, &dom.FrameworkID, &dom.Name, &description, &dom.SortOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert domain: %w", err)
	}
	dom.Description = textPtr(description)
	return dom, nil
}

// UpsertControl creates or updates a control by (framework, control_code)
func (r *CatalogRepository) UpsertControl(ctx context.Context, frameworkID, domainID uuid.UUID, c models.PackControl) (*models.CatalogControl, error) {
	templates := c.SuggestedTaskTemplates
	if templates == nil {
		templates = []models.TaskTemplate{}
	}

	query := `
		INSERT INTO framework_controls (
			framework_id, domain_id, control_code, title, summary_description,
			implementation_guidance, default_risk_level, review_frequency_days,
			suggested_evidence_types, suggested_automation_triggers, suggested_task_templates
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (framework_id, control_code) DO UPDATE SET
			domain_id = EXCLUDED.domain_id,
			title = EXCLUDED.title,
			summary_description = EXCLUDED.summary_description,
			implementation_guidance = EXCLUDED.implementation_guidance,
			default_risk_level = EXCLUDED.default_risk_level,
			review_frequency_days = EXCLUDED.review_frequency_days,
			suggested_evidence_types = EXCLUDED.suggested_evidence_types,
			suggested_automation_triggers = EXCLUDED.suggested_automation_triggers,
			suggested_task_templates = EXCLUDED.suggested_task_templates
		RETURNING ` + controlColumns

	row := r.pool.QueryRow(ctx, query,
		frameworkID, domainID, c.ControlCode, c.Title, c.SummaryDescription,
		c.ImplementationGuidance, c.DefaultRiskLevel, c.ReviewFrequencyDays.Value,
		nonNilStrings(c.SuggestedEvidenceTypes), nonNilStrings(c.SuggestedAutomationTriggers), templates,
	)
	control, err := scanCatalogControl(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert control: %w", err)
	}
	return control, nil
}

// UpsertMapping creates or updates a cross-framework mapping
func (r *CatalogRepository) UpsertMapping(ctx context.Context, m models.ControlMapping) error {
	query := `
		INSERT INTO control_mappings (internal_control_id, framework_slug, external_control_reference, mapping_strength)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (internal_control_id, framework_slug, external_control_reference) DO UPDATE SET
			mapping_strength = EXCLUDED.mapping_strength`

	if _, err := r.pool.Exec(ctx, query, m.InternalControlID, m.FrameworkSlug, m.ExternalControlReference, string(m.MappingStrength)); err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}
	return nil
}

const frameworkColumns = `id, name, slug, version, description, is_active, created_at, updated_at`

// GetFrameworkBySlug retrieves a framework by slug; nil when absent
func (r *CatalogRepository) GetFrameworkBySlug(ctx context.Context, slug string) (*models.Framework, error) {
	query := `SELECT ` + frameworkColumns + ` FROM frameworks WHERE slug = $1`

	fw, err := scanFramework(r.pool.QueryRow(ctx, query, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get framework: %w", err)
	}
	return fw, nil
}

// ListFrameworks retrieves all frameworks ordered by name
func (r *CatalogRepository) ListFrameworks(ctx context.Context) ([]models.Framework, error) {
	query := `SELECT ` + frameworkColumns + ` FROM frameworks ORDER BY name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list frameworks: %w", err)
	}
	defer rows.Close()

	var frameworks []models.Framework
	for rows.Next() {
		fw, err := scanFramework(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan framework row: %w", err)
		}
		frameworks = append(frameworks, *fw)
	}
	return frameworks, rows.Err()
}

// ListDomains retrieves the domains of a framework in display order
func (r *CatalogRepository) ListDomains(ctx context.Context, frameworkID uuid.UUID) ([]models.Domain, error) {
	query := `
		SELECT id, framework_id, name, description, sort_order
		FROM framework_domains
		WHERE framework_id = $1
		ORDER BY sort_order, name`

	rows, err := r.pool.Query(ctx, query, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var domains []models.Domain
	for rows.Next() {
		var d models.Domain
		var description pgtype.Text
		if err := rows.Scan(&d.ID, &d.FrameworkID, &d.Name, &description, &d.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan domain row: %w", err)
		}
		d.Description = textPtr(description)
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

const controlColumns = `
	id, framework_id, domain_id, control_code, title, summary_description,
	implementation_guidance, default_risk_level, review_frequency_days,
	suggested_evidence_types, suggested_automation_triggers, suggested_task_templates`

// ListControls retrieves the controls of a framework ordered by code
func (r *CatalogRepository) ListControls(ctx context.Context, frameworkID uuid.UUID) ([]models.CatalogControl, error) {
	query := `SELECT ` + controlColumns + ` FROM framework_controls WHERE framework_id = $1 ORDER BY control_code`
	return r.queryControls(ctx, query, frameworkID)
}

// GetControlsByIDs retrieves catalog controls by id in one round trip
func (r *CatalogRepository) GetControlsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.CatalogControl, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + controlColumns + ` FROM framework_controls WHERE id = ANY($1)`
	return r.queryControls(ctx, query, ids)
}

func (r *CatalogRepository) queryControls(ctx context.Context, query string, arg any) ([]models.CatalogControl, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list controls: %w", err)
	}
	defer rows.Close()

	var controls []models.CatalogControl
	for rows.Next() {
		c, err := scanCatalogControl(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan control row: %w", err)
		}
		controls = append(controls, *c)
	}
	return controls, rows.Err()
}

// ListMappings retrieves the mappings declared by the controls of a framework
func (r *CatalogRepository) ListMappings(ctx context.Context, frameworkID uuid.UUID) ([]models.ControlMapping, error) {
	query := `
		SELECT m.id, m.internal_control_id, m.framework_slug, m.external_control_reference, m.mapping_strength
		FROM control_mappings m
		JOIN framework_controls c ON c.id = m.internal_control_id
		WHERE c.framework_id = $1
		ORDER BY c.control_code, m.framework_slug, m.external_control_reference`

	rows, err := r.pool.Query(ctx, query, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []models.ControlMapping
	for rows.Next() {
		var m models.ControlMapping
		var strength string
		if err := rows.Scan(&m.ID, &m.InternalControlID, &m.FrameworkSlug, &m.ExternalControlReference, &strength); err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		m.MappingStrength = models.ParseMappingStrength(strength)
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// Helper functions

func scanFramework(row pgx.Row) (*models.Framework, error) {
	fw := &models.Framework{}
	var version, description pgtype.Text
	err := row.Scan(&fw.ID, &fw.Name, &fw.Slug, &version, &description, &fw.IsActive, &fw.CreatedAt, &fw.UpdatedAt)
	if err != nil {
		return nil, err
	}
	fw.Version = textPtr(version)
	fw.Description = textPtr(description)
	return fw, nil
}

func scanCatalogControl(row pgx.Row) (*models.CatalogControl, error) {
	c := &models.CatalogControl{}
	var summary, guidance, risk pgtype.Text
	var review pgtype.Int4

	err := row.Scan(
		&c.ID, &c.FrameworkID, &c.DomainID, &c.ControlCode, &c.Title, &summary,
		&guidance, &risk, &review,
		&c.SuggestedEvidenceTypes, &c.SuggestedAutomationTriggers, &c.SuggestedTaskTemplates,
	)
	if err != nil {
		return nil, err
	}
	c.SummaryDescription = textPtr(summary)
	c.ImplementationGuidance = textPtr(guidance)
	c.DefaultRiskLevel = textPtr(risk)
	c.ReviewFrequencyDays = int4Ptr(review)
	return c, nil
}
