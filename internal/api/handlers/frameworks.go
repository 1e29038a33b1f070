package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"formaos-compliance/pkg/logger"
)

// FrameworksHandler serves the framework catalog. A disabled engine yields empty lists.
type FrameworksHandler struct {
	catalog FrameworkCatalog
	logger  *logger.Logger
}

// NewFrameworksHandler creates a new FrameworksHandler
func NewFrameworksHandler(catalog FrameworkCatalog, log *logger.Logger) *FrameworksHandler {
	return &FrameworksHandler{
		catalog: catalog,
		logger:  log.WithComponent("frameworks"),
	}
}

// List handles GET /api/v1/frameworks
func (h *FrameworksHandler) List(w http.ResponseWriter, r *http.Request) {
	frameworks := h.catalog.ListFrameworks(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"frameworks": frameworks,
		"count":      len(frameworks),
	})
}

// Domains handles GET /api/v1/frameworks/{slug}/domains
func (h *FrameworksHandler) Domains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"domains": h.catalog.ListDomains(r.Context(), chi.URLParam(r, "slug")),
	})
}

// Controls handles GET /api/v1/frameworks/{slug}/controls
func (h *FrameworksHandler) Controls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"controls": h.catalog.ListControls(r.Context(), chi.URLParam(r, "slug")),
	})
}

// Mappings handles GET /api/v1/frameworks/{slug}/mappings
func (h *FrameworksHandler) Mappings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mappings": h.catalog.ListMappings(r.Context(), chi.URLParam(r, "slug")),
	})
}

// Related handles GET /api/v1/frameworks/{slug}/related/{code}
func (h *FrameworksHandler) Related(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"related": h.catalog.RelatedControls(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "code")),
	})
}
