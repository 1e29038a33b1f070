package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"formaos-compliance/internal/domain/services"
	"formaos-compliance/pkg/logger"
)

const maxPackBytes = 8 << 20

// PacksHandler handles framework pack administration
type PacksHandler struct {
	loader    PackLoader
	installer PackInstaller
	logger    *logger.Logger
}

// NewPacksHandler creates a new PacksHandler
func NewPacksHandler(loader PackLoader, installer PackInstaller, log *logger.Logger) *PacksHandler {
	return &PacksHandler{
		loader:    loader,
		installer: installer,
		logger:    log.WithComponent("packs"),
	}
}

// Load handles POST /api/v1/admin/packs. The body is a JSON or YAML pack;
// ?dry_run=true validates and counts without writing.
func (h *PacksHandler) Load(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPackBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(data) > maxPackBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "pack too large")
		return
	}

	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	result := h.loader.Load(r.Context(), services.PackFromBytes(packFilename(r), data), services.LoadOptions{DryRun: dryRun})

	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
	}

	requestLogger(h.logger, r).Info().
		Bool("ok", result.OK).
		Bool("dry_run", dryRun).
		Str("framework", result.FrameworkSlug).
		Int("controls", result.ControlsUpserted).
		Int("warnings", len(result.Warnings)).
		Msg("pack load requested")

	writeJSON(w, status, result)
}

// Install handles POST /api/v1/admin/packs/install
func (h *PacksHandler) Install(w http.ResponseWriter, r *http.Request) {
	if err := h.installer.EnsureInstalled(r.Context()); err != nil {
		requestLogger(h.logger, r).Error().Err(err).Msg("pack install failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Sync handles POST /api/v1/admin/frameworks/{slug}/sync
func (h *PacksHandler) Sync(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	err := h.installer.SyncComplianceFramework(r.Context(), slug)
	switch {
	case errors.Is(err, services.ErrFrameworkNotFound):
		writeError(w, http.StatusNotFound, "framework not found")
	case err != nil:
		requestLogger(h.logger, r).Error().Err(err).Str("framework", slug).Msg("framework sync failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "framework": slug})
	}
}

// packFilename picks the parser hint from the content type
func packFilename(r *http.Request) string {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return "upload.json"
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return "upload.yaml"
	default:
		return "upload"
	}
}
