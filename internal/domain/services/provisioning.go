package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// ProvisionOptions tunes a provisioning call
type ProvisionOptions struct {
	// Force runs even when the framework engine flag is off
	Force bool
}

// ProvisionResult summarizes one provisioning run
type ProvisionResult struct {
	FrameworkSlug   string `json:"frameworkSlug"`
	FrameworkCode   string `json:"frameworkCode"`
	Skipped         bool   `json:"skipped"`
	TasksCreated    int    `json:"tasksCreated"`
	ControlsLinked  int    `json:"controlsLinked"`
	ControlsSkipped int    `json:"controlsSkipped"`
	TaskFailures    int    `json:"taskFailures"`
}

var dueOffsetByRisk = map[models.RiskLevel]int{
	models.RiskCritical: 14,
	models.RiskHigh:     30,
	models.RiskMedium:   60,
	models.RiskLow:      90,
}

var priorityByRisk = map[models.RiskLevel]string{
	models.RiskLow:      "low",
	models.RiskMedium:   "medium",
	models.RiskHigh:     "high",
	models.RiskCritical: "high",
}

// Provisioner instantiates organization tasks and evaluation placeholders from the catalog
type Provisioner struct {
	flags      config.FeatureFlags
	installer  *PackInstaller
	catalog    CatalogStore
	compliance ComplianceStore
	evidence   EvidenceStore
	evals      EvaluationStore
	schema     *SchemaDetector
	events     EventPublisher
	cache      SnapshotCache
	logger     *logger.Logger

	now func() time.Time
}

// NewProvisioner creates a new Provisioner. events may be nil.
func NewProvisioner(
	flags config.FeatureFlags,
	installer *PackInstaller,
	catalog CatalogStore,
	compliance ComplianceStore,
	evidence EvidenceStore,
	evals EvaluationStore,
	schema *SchemaDetector,
	events EventPublisher,
	log *logger.Logger,
) *Provisioner {
	return &Provisioner{
		flags:      flags,
		installer:  installer,
		catalog:    catalog,
		compliance: compliance,
		evidence:   evidence,
		evals:      evals,
		schema:     schema,
		events:     events,
		logger:     log.WithComponent("provisioner"),
		now:        time.Now,
	}
}

// WithSnapshotCache sets the cache whose organization snapshot is dropped
// after a framework is enabled or provisioned
func (p *Provisioner) WithSnapshotCache(cache SnapshotCache) *Provisioner {
	p.cache = cache
	return p
}

// EnableFrameworkForOrg marks the framework enabled and provisions its controls
func (p *Provisioner) EnableFrameworkForOrg(ctx context.Context, orgID, slug string, opts ProvisionOptions) (*ProvisionResult, error) {
	if !p.flags.EnableFrameworkEngine && !opts.Force {
		return &ProvisionResult{FrameworkSlug: slug, Skipped: true}, nil
	}
	p.ensureInstalled(ctx)

	if err := p.compliance.UpsertOrgFramework(ctx, orgID, slug, p.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to enable framework: %w", err)
	}

	result, err := p.ProvisionFrameworkControls(ctx, orgID, slug, opts)
	if err != nil {
		return nil, err
	}

	if p.events != nil {
		NewSideEffects(p.logger).Attempt(ctx, "publish_framework_enabled", func(ctx context.Context) error {
			event := models.NewComplianceEvent(models.EventFrameworkEnabled, orgID)
			event.FrameworkSlug = slug
			event.FrameworkCode = result.FrameworkCode
			event.Metadata = map[string]any{"tasks_created": result.TasksCreated}
			return p.events.PublishComplianceEvent(ctx, event)
		})
	}

	return result, nil
}

// ProvisionFrameworkControls creates one task per unlinked control and stages
// at_risk evaluations. Controls with an existing task link are skipped, so
// repeated calls do not duplicate tasks.
func (p *Provisioner) ProvisionFrameworkControls(ctx context.Context, orgID, slug string, opts ProvisionOptions) (*ProvisionResult, error) {
	result := &ProvisionResult{FrameworkSlug: slug, FrameworkCode: models.FrameworkCodeForSlug(slug)}
	if !p.flags.EnableFrameworkEngine && !opts.Force {
		result.Skipped = true
		return result, nil
	}
	log := p.logger.WithOrganization(orgID).WithFramework(result.FrameworkCode)

	p.ensureInstalled(ctx)
	if p.installer != nil {
		if err := p.installer.SyncComplianceFramework(ctx, slug); err != nil {
			log.Warn().Err(err).Msg("failed to sync compliance framework")
		}
	}

	if err := p.compliance.UpsertOrgFramework(ctx, orgID, slug, p.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to enable framework: %w", err)
	}
	defer p.invalidateSnapshot(ctx, orgID)

	framework, err := p.compliance.GetFrameworkByCode(ctx, result.FrameworkCode)
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance framework: %w", err)
	}
	if framework == nil {
		log.Debug().Msg("no compliance framework for code, nothing to provision")
		result.Skipped = true
		return result, nil
	}

	schema, err := p.schema.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to detect controls schema: %w", err)
	}
	controls, err := p.compliance.ListControls(ctx, schema, framework.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance controls: %w", err)
	}
	if len(controls) == 0 {
		return result, nil
	}

	controlIDs := make([]uuid.UUID, len(controls))
	for i, c := range controls {
		controlIDs[i] = c.ID
	}

	links, err := p.evidence.ListControlTasks(ctx, orgID, controlIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list control tasks: %w", err)
	}
	linked := make(map[uuid.UUID]bool, len(links))
	for _, l := range links {
		linked[l.ControlID] = true
	}

	catalogByID, err := p.catalogControls(ctx, controls)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load catalog controls, using generic suggestions")
		catalogByID = map[uuid.UUID]models.CatalogControl{}
	}

	now := p.now().UTC()
	var staged []models.ControlEvaluation

	for _, control := range controls {
		if linked[control.ID] {
			result.ControlsSkipped++
			continue
		}

		var suggestions EvidenceSuggestions
		catalogControl, fromCatalog := models.CatalogControl{}, false
		if control.FrameworkControlID != nil {
			catalogControl, fromCatalog = catalogByID[*control.FrameworkControlID]
		}
		if fromCatalog {
			suggestions = ResolveEvidenceSuggestions(catalogControl)
		} else {
			suggestions = FallbackSuggestions(control)
		}

		template := suggestions.TaskTemplates[0]
		priority := template.Priority
		if priority == "" {
			priority = priorityByRisk[control.RiskLevel]
		}
		if priority == "" {
			priority = "medium"
		}
		description := control.Description
		if template.Description != "" {
			d := template.Description
			description = &d
		}

		risk := control.RiskLevel
		if risk == "" && fromCatalog {
			risk = models.ParseRiskLevelPtr(catalogControl.DefaultRiskLevel)
		}
		due := DefaultDueDate(risk, now)

		taskID, err := p.evidence.CreateTask(ctx, &models.Task{
			OrgID:       orgID,
			Title:       template.Title,
			Description: description,
			Status:      "pending",
			Priority:    priority,
			DueAt:       &due,
		})
		if err != nil || taskID == uuid.Nil {
			log.Warn().Err(err).Str("control", control.Code).Msg("failed to create task, skipping control")
			result.TaskFailures++
			continue
		}
		result.TasksCreated++

		if err := p.evidence.LinkControlTask(ctx, orgID, control.ID, taskID); err != nil {
			log.Warn().Err(err).Str("control", control.Code).Msg("failed to link task to control")
		} else {
			result.ControlsLinked++
		}

		frameworkID := framework.ID
		staged = append(staged, models.ControlEvaluation{
			OrgID:           orgID,
			ControlType:     models.ControlTypeFrameworkControl,
			ControlKey:      models.ControlEvaluationKey(control.ID),
			Required:        true,
			Status:          models.StatusAtRisk,
			LastEvaluatedAt: now,
			FrameworkID:     &frameworkID,
			Details: map[string]any{
				"framework_code":          framework.Code,
				"control_code":            control.Code,
				"control_title":           control.Title,
				"required_evidence_count": 1,
				"approved_evidence_count": 0,
				"evidence_types":          suggestions.EvidenceTypes,
				"automation_triggers":     suggestions.AutomationTriggers,
			},
		})
	}

	if len(staged) > 0 {
		if err := p.evals.UpsertEvaluations(ctx, staged); err != nil {
			return nil, fmt.Errorf("failed to stage evaluations: %w", err)
		}
	}

	log.Info().
		Int("tasks_created", result.TasksCreated).
		Int("controls_skipped", result.ControlsSkipped).
		Msg("framework controls provisioned")

	return result, nil
}

func (p *Provisioner) invalidateSnapshot(ctx context.Context, orgID string) {
	if p.cache == nil {
		return
	}
	NewSideEffects(p.logger.WithOrganization(orgID)).Attempt(ctx, "invalidate_snapshot_cache", func(ctx context.Context) error {
		return p.cache.InvalidateSnapshot(ctx, orgID)
	})
}

func (p *Provisioner) ensureInstalled(ctx context.Context) {
	if p.installer == nil {
		return
	}
	if err := p.installer.EnsureInstalled(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("framework packs not fully installed")
	}
}

func (p *Provisioner) catalogControls(ctx context.Context, controls []models.ComplianceControl) (map[uuid.UUID]models.CatalogControl, error) {
	var ids []uuid.UUID
	for _, c := range controls {
		if c.FrameworkControlID != nil {
			ids = append(ids, *c.FrameworkControlID)
		}
	}
	out := make(map[uuid.UUID]models.CatalogControl, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := p.catalog.GetControlsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// DefaultDueDate offsets from by the remediation window of the risk tier
func DefaultDueDate(risk models.RiskLevel, from time.Time) time.Time {
	days, ok := dueOffsetByRisk[risk]
	if !ok {
		days = dueOffsetByRisk[models.RiskMedium]
	}
	return from.AddDate(0, 0, days)
}
