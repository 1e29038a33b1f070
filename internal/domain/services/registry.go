package services

import (
	"context"

	"github.com/google/uuid"

	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// Registry is the read access layer over the framework catalog.
// Every read returns an empty list when the framework engine is disabled.
type Registry struct {
	flags     config.FeatureFlags
	catalog   CatalogStore
	installer *PackInstaller
	graph     MappingGraph
	logger    *logger.Logger
}

// NewRegistry creates a new Registry. graph may be nil.
func NewRegistry(flags config.FeatureFlags, catalog CatalogStore, installer *PackInstaller, graph MappingGraph, log *logger.Logger) *Registry {
	return &Registry{
		flags:     flags,
		catalog:   catalog,
		installer: installer,
		graph:     graph,
		logger:    log.WithComponent("registry"),
	}
}

// Enabled reports whether the framework engine is switched on
func (r *Registry) Enabled() bool {
	return r.flags.EnableFrameworkEngine
}

// ListFrameworks returns every catalog framework
func (r *Registry) ListFrameworks(ctx context.Context) []models.Framework {
	if !r.ready(ctx) {
		return []models.Framework{}
	}
	frameworks, err := r.catalog.ListFrameworks(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list frameworks")
		return []models.Framework{}
	}
	return nonNil(frameworks)
}

// ListDomains returns the domains of the framework with slug
func (r *Registry) ListDomains(ctx context.Context, slug string) []models.Domain {
	id, ok := r.frameworkID(ctx, slug)
	if !ok {
		return []models.Domain{}
	}
	domains, err := r.catalog.ListDomains(ctx, id)
	if err != nil {
		r.logger.Error().Err(err).Str("slug", slug).Msg("failed to list domains")
		return []models.Domain{}
	}
	return nonNil(domains)
}

// ListControls returns the catalog controls of the framework with slug
func (r *Registry) ListControls(ctx context.Context, slug string) []models.CatalogControl {
	id, ok := r.frameworkID(ctx, slug)
	if !ok {
		return []models.CatalogControl{}
	}
	controls, err := r.catalog.ListControls(ctx, id)
	if err != nil {
		r.logger.Error().Err(err).Str("slug", slug).Msg("failed to list controls")
		return []models.CatalogControl{}
	}
	return nonNil(controls)
}

// ListMappings returns the cross-framework mappings declared by the framework with slug
func (r *Registry) ListMappings(ctx context.Context, slug string) []models.ControlMapping {
	id, ok := r.frameworkID(ctx, slug)
	if !ok {
		return []models.ControlMapping{}
	}
	mappings, err := r.catalog.ListMappings(ctx, id)
	if err != nil {
		r.logger.Error().Err(err).Str("slug", slug).Msg("failed to list mappings")
		return []models.ControlMapping{}
	}
	return nonNil(mappings)
}

// RelatedControls walks the mapping graph from one control
func (r *Registry) RelatedControls(ctx context.Context, slug, controlCode string) []models.RelatedControl {
	if r.graph == nil || !r.ready(ctx) {
		return []models.RelatedControl{}
	}
	related, err := r.graph.RelatedControls(ctx, slug, controlCode)
	if err != nil {
		r.logger.Error().Err(err).Str("slug", slug).Str("control", controlCode).Msg("failed to query related controls")
		return []models.RelatedControl{}
	}
	return nonNil(related)
}

func (r *Registry) ready(ctx context.Context) bool {
	if !r.flags.EnableFrameworkEngine {
		return false
	}
	if r.installer != nil {
		if err := r.installer.EnsureInstalled(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("framework packs not fully installed")
		}
	}
	return true
}

func (r *Registry) frameworkID(ctx context.Context, slug string) (uuid.UUID, bool) {
	if slug == "" || !r.ready(ctx) {
		return uuid.Nil, false
	}
	fw, err := r.catalog.GetFrameworkBySlug(ctx, slug)
	if err != nil {
		r.logger.Error().Err(err).Str("slug", slug).Msg("failed to get framework")
		return uuid.Nil, false
	}
	if fw == nil {
		return uuid.Nil, false
	}
	return fw.ID, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
