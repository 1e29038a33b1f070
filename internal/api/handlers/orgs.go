package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"formaos-compliance/internal/domain/services"
	"formaos-compliance/pkg/logger"
)

// OrgsHandler handles organization-scoped compliance endpoints
type OrgsHandler struct {
	provisioner OrgProvisioner
	evaluator   ComplianceEvaluator
	readiness   ReadinessSource
	logger      *logger.Logger
}

// NewOrgsHandler creates a new OrgsHandler
func NewOrgsHandler(provisioner OrgProvisioner, evaluator ComplianceEvaluator, readiness ReadinessSource, log *logger.Logger) *OrgsHandler {
	return &OrgsHandler{
		provisioner: provisioner,
		evaluator:   evaluator,
		readiness:   readiness,
		logger:      log.WithComponent("orgs"),
	}
}

// Enable handles POST /api/v1/orgs/{orgID}/frameworks/{framework}/enable
func (h *OrgsHandler) Enable(w http.ResponseWriter, r *http.Request) {
	orgID, slug := chi.URLParam(r, "orgID"), chi.URLParam(r, "framework")

	result, err := h.provisioner.EnableFrameworkForOrg(r.Context(), orgID, slug, provisionOptions(r))
	if err != nil {
		requestLogger(h.logger, r).WithOrganization(orgID).Error().Err(err).Str("framework", slug).Msg("enable framework failed")
		writeError(w, http.StatusInternalServerError, "failed to enable framework")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Provision handles POST /api/v1/orgs/{orgID}/frameworks/{framework}/provision
func (h *OrgsHandler) Provision(w http.ResponseWriter, r *http.Request) {
	orgID, slug := chi.URLParam(r, "orgID"), chi.URLParam(r, "framework")

	result, err := h.provisioner.ProvisionFrameworkControls(r.Context(), orgID, slug, provisionOptions(r))
	if err != nil {
		requestLogger(h.logger, r).WithOrganization(orgID).Error().Err(err).Str("framework", slug).Msg("provision framework failed")
		writeError(w, http.StatusInternalServerError, "failed to provision framework")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Evaluate handles POST /api/v1/orgs/{orgID}/frameworks/{framework}/evaluate.
// A framework with nothing to evaluate is reported as 404, never as a zero score.
func (h *OrgsHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	orgID, code := chi.URLParam(r, "orgID"), chi.URLParam(r, "framework")

	result, err := h.evaluator.EvaluateFrameworkControls(r.Context(), orgID, code)
	switch {
	case errors.Is(err, services.ErrEntitlementDenied):
		writeError(w, http.StatusForbidden, "framework evaluations not entitled")
	case err != nil:
		requestLogger(h.logger, r).WithOrganization(orgID).Error().Err(err).Str("framework", code).Msg("evaluation failed")
		writeError(w, http.StatusInternalServerError, "evaluation failed")
	case result == nil:
		writeError(w, http.StatusNotFound, "could not evaluate")
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// Snapshot handles GET /api/v1/orgs/{orgID}/compliance/snapshot
func (h *OrgsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	strict, _ := strconv.ParseBool(r.URL.Query().Get("strict"))

	snapshot, err := h.evaluator.GetOrgComplianceSnapshot(r.Context(), orgID, strict)
	switch {
	case errors.Is(err, services.ErrSnapshotLoad):
		requestLogger(h.logger, r).WithOrganization(orgID).Warn().Err(err).Msg("strict snapshot failed")
		writeError(w, http.StatusServiceUnavailable, "compliance data unavailable")
	case err != nil:
		requestLogger(h.logger, r).WithOrganization(orgID).Error().Err(err).Msg("snapshot failed")
		writeError(w, http.StatusInternalServerError, "failed to build snapshot")
	default:
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// Readiness handles GET /api/v1/orgs/{orgID}/compliance/readiness
func (h *OrgsHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	readiness, err := h.readiness.GetFrameworkCertificationReadiness(r.Context(), orgID)
	if err != nil {
		requestLogger(h.logger, r).WithOrganization(orgID).Error().Err(err).Msg("readiness failed")
		writeError(w, http.StatusInternalServerError, "failed to project readiness")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"frameworks": readiness})
}

func provisionOptions(r *http.Request) services.ProvisionOptions {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return services.ProvisionOptions{Force: force}
}
