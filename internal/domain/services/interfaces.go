package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"formaos-compliance/internal/domain/models"
)

// CatalogStore persists the framework catalog: frameworks, domains, controls, mappings
type CatalogStore interface {
	UpsertFramework(ctx context.Context, fw models.PackFramework) (uuid.UUID, error)
	UpsertDomain(ctx context.Context, frameworkID uuid.UUID, d models.PackDomain) (*models.Domain, error)
	UpsertControl(ctx context.Context, frameworkID, domainID uuid.UUID, c models.PackControl) (*models.CatalogControl, error)
	UpsertMapping(ctx context.Context, m models.ControlMapping) error

	// GetFrameworkBySlug returns nil, nil for an unknown slug
	GetFrameworkBySlug(ctx context.Context, slug string) (*models.Framework, error)
	ListFrameworks(ctx context.Context) ([]models.Framework, error)
	ListDomains(ctx context.Context, frameworkID uuid.UUID) ([]models.Domain, error)
	ListControls(ctx context.Context, frameworkID uuid.UUID) ([]models.CatalogControl, error)
	ListMappings(ctx context.Context, frameworkID uuid.UUID) ([]models.ControlMapping, error)
	GetControlsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.CatalogControl, error)
}

// ComplianceStore holds the organization-facing framework and control projection
type ComplianceStore interface {
	DetectControlsSchema(ctx context.Context) (models.ControlsSchema, error)

	// GetFrameworkByCode returns nil, nil when no framework has the code
	GetFrameworkByCode(ctx context.Context, code string) (*models.ComplianceFramework, error)
	ListFrameworks(ctx context.Context) ([]models.ComplianceFramework, error)
	UpsertFramework(ctx context.Context, code, title string, description *string) (uuid.UUID, error)
	ListControls(ctx context.Context, schema models.ControlsSchema, frameworkID uuid.UUID) ([]models.ComplianceControl, error)
	UpsertControls(ctx context.Context, schema models.ControlsSchema, controls []models.ComplianceControlSync) error

	UpsertOrgFramework(ctx context.Context, orgID, slug string, enabledAt time.Time) error
	ListOrgFrameworkSlugs(ctx context.Context, orgID string) ([]string, error)
	ListOrgFrameworks(ctx context.Context) ([]models.OrgFramework, error)
}

// EvidenceStore reads control evidence and task state and writes provisioned tasks
type EvidenceStore interface {
	ListControlEvidence(ctx context.Context, orgID string, controlIDs []uuid.UUID) ([]models.ControlEvidence, error)
	ListControlTasks(ctx context.Context, orgID string, controlIDs []uuid.UUID) ([]models.ControlTask, error)
	ListTasksByIDs(ctx context.Context, orgID string, taskIDs []uuid.UUID) ([]models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) (uuid.UUID, error)
	LinkControlTask(ctx context.Context, orgID string, controlID, taskID uuid.UUID) error
}

// EvaluationStore persists evaluation rows, snapshots and the status rollup
type EvaluationStore interface {
	UpsertEvaluations(ctx context.Context, rows []models.ControlEvaluation) error
	InsertSnapshot(ctx context.Context, rec *models.FrameworkSnapshotRecord) error
	ListRecentSnapshots(ctx context.Context, orgID string, limit int) ([]models.SnapshotPoint, error)
	UpsertStatusRollup(ctx context.Context, rollup *models.ComplianceStatusRollup) error
}

// BlockStore manages compliance gates
type BlockStore interface {
	HasOpenBlock(ctx context.Context, orgID string, gate models.GateKey) (bool, error)
	CreateBlock(ctx context.Context, block *models.ComplianceBlock) error
	ResolveOpenBlocks(ctx context.Context, orgID string, gates []models.GateKey, at time.Time) (int, error)
}

// ActivityStore is the raw org_audit_logs table
type ActivityStore interface {
	InsertActivity(ctx context.Context, entries []models.ActivityEntry) error
}

// Entitlements checks organization capabilities
type Entitlements interface {
	Require(ctx context.Context, orgID, featureKey string) error
}

// AuditSink records structured audit events
type AuditSink interface {
	LogAuditEvent(ctx context.Context, event models.AuditEvent) error
}

// ActivityLogger records human-readable activity entries
type ActivityLogger interface {
	LogActivity(ctx context.Context, orgID, action, description string, metadata map[string]any) error
}

// EventPublisher broadcasts compliance events
type EventPublisher interface {
	PublishComplianceEvent(ctx context.Context, event *models.ComplianceEvent) error
}

// Locker provides advisory locks keyed by name
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// SnapshotCache caches organization snapshots for the non-strict read path
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, orgID string) (*models.ComplianceSnapshot, bool, error)
	SetSnapshot(ctx context.Context, orgID string, snapshot *models.ComplianceSnapshot, ttl time.Duration) error
	InvalidateSnapshot(ctx context.Context, orgID string) error
}

// MappingGraph projects catalog mappings into a graph for cross-framework lookups
type MappingGraph interface {
	ProjectPack(ctx context.Context, slug string, controls []models.CatalogControl, mappings []models.ControlMapping) error
	RelatedControls(ctx context.Context, slug, controlCode string) ([]models.RelatedControl, error)
}
