package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/internal/domain/services"
	"formaos-compliance/pkg/logger"
)

// FrameworkCatalog is the read side of the framework registry
type FrameworkCatalog interface {
	ListFrameworks(ctx context.Context) []models.Framework
	ListDomains(ctx context.Context, slug string) []models.Domain
	ListControls(ctx context.Context, slug string) []models.CatalogControl
	ListMappings(ctx context.Context, slug string) []models.ControlMapping
	RelatedControls(ctx context.Context, slug, controlCode string) []models.RelatedControl
}

// PackLoader loads framework packs into the catalog
type PackLoader interface {
	Load(ctx context.Context, src services.PackSource, opts services.LoadOptions) *models.LoadResult
}

// PackInstaller installs the bundled packs and syncs compliance frameworks
type PackInstaller interface {
	EnsureInstalled(ctx context.Context) error
	SyncComplianceFramework(ctx context.Context, slug string) error
}

// OrgProvisioner enables frameworks for organizations
type OrgProvisioner interface {
	EnableFrameworkForOrg(ctx context.Context, orgID, slug string, opts services.ProvisionOptions) (*services.ProvisionResult, error)
	ProvisionFrameworkControls(ctx context.Context, orgID, slug string, opts services.ProvisionOptions) (*services.ProvisionResult, error)
}

// ComplianceEvaluator evaluates frameworks and builds snapshots
type ComplianceEvaluator interface {
	EvaluateFrameworkControls(ctx context.Context, orgID, frameworkCode string) (*models.EvaluationResult, error)
	GetOrgComplianceSnapshot(ctx context.Context, orgID string, strict bool) (*models.ComplianceSnapshot, error)
}

// ReadinessSource projects certification readiness
type ReadinessSource interface {
	GetFrameworkCertificationReadiness(ctx context.Context, orgID string) ([]models.FrameworkReadiness, error)
}

// Handlers holds all API handlers
type Handlers struct {
	Health     *HealthHandler
	Frameworks *FrameworksHandler
	Packs      *PacksHandler
	Orgs       *OrgsHandler
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Catalog     FrameworkCatalog
	Loader      PackLoader
	Installer   PackInstaller
	Provisioner OrgProvisioner
	Evaluator   ComplianceEvaluator
	Readiness   ReadinessSource
	Checks      map[string]HealthCheck
	Version     string
	Logger      *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:     NewHealthHandler(deps.Checks, deps.Version, deps.Logger),
		Frameworks: NewFrameworksHandler(deps.Catalog, deps.Logger),
		Packs:      NewPacksHandler(deps.Loader, deps.Installer, deps.Logger),
		Orgs:       NewOrgsHandler(deps.Provisioner, deps.Evaluator, deps.Readiness, deps.Logger),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requestLogger scopes base to the request id set by the router
func requestLogger(base *logger.Logger, r *http.Request) *logger.Logger {
	return base.WithRequestID(middleware.GetReqID(r.Context()))
}
