package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"formaos-compliance/internal/domain/services"
	"formaos-compliance/pkg/logger"
)

// Repositories bundles every PostgreSQL-backed store
type Repositories struct {
	Catalog      *CatalogRepository
	Compliance   *ComplianceRepository
	Evidence     *EvidenceRepository
	Evaluations  *EvaluationRepository
	Blocks       *BlockRepository
	Audit        *AuditRepository
	Entitlements *EntitlementRepository
}

// NewRepositories creates all repositories over one pool
func NewRepositories(pool *pgxpool.Pool, log *logger.Logger) *Repositories {
	return &Repositories{
		Catalog:      NewCatalogRepository(pool),
		Compliance:   NewComplianceRepository(pool),
		Evidence:     NewEvidenceRepository(pool, log),
		Evaluations:  NewEvaluationRepository(pool),
		Blocks:       NewBlockRepository(pool),
		Audit:        NewAuditRepository(pool),
		Entitlements: NewEntitlementRepository(pool),
	}
}

var (
	_ services.CatalogStore    = (*CatalogRepository)(nil)
	_ services.ComplianceStore = (*ComplianceRepository)(nil)
	_ services.EvidenceStore   = (*EvidenceRepository)(nil)
	_ services.EvaluationStore = (*EvaluationRepository)(nil)
	_ services.BlockStore      = (*BlockRepository)(nil)
	_ services.ActivityStore   = (*AuditRepository)(nil)
	_ services.AuditSink       = (*AuditRepository)(nil)
	_ services.ActivityLogger  = (*AuditRepository)(nil)
	_ services.Entitlements    = (*EntitlementRepository)(nil)
)
