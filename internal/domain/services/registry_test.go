package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	f := newInstallFixture(t, "")
	graph := &recordingGraph{related: []models.RelatedControl{{
		FrameworkSlug: "iso27001",
		ControlCode:   "A.5.15",
		Via:           "CC6.1",
		Strength:      models.MappingStrengthPrimary,
	}}}
	registry := NewRegistry(config.FeatureFlags{EnableFrameworkEngine: true}, f.catalog, f.installer, graph, logger.NewNop())

	t.Run("frameworks are installed on first read", func(t *testing.T) {
		frameworks := registry.ListFrameworks(ctx)
		assert.Len(t, frameworks, 4)
		assert.Equal(t, "HIPAA Security Rule", frameworks[0].Name)
		assert.True(t, f.installer.Installed())
	})

	t.Run("per framework reads", func(t *testing.T) {
		assert.Len(t, registry.ListDomains(ctx, "soc2"), 5)
		assert.Len(t, registry.ListControls(ctx, "iso27001"), 12)
		assert.Len(t, registry.ListMappings(ctx, "soc2"), 3)
	})

	t.Run("unknown slug is empty not nil", func(t *testing.T) {
		assert.Equal(t, []models.Domain{}, registry.ListDomains(ctx, "pci"))
		assert.Equal(t, []models.CatalogControl{}, registry.ListControls(ctx, ""))
		assert.Equal(t, []models.ControlMapping{}, registry.ListMappings(ctx, "pci"))
	})

	t.Run("related controls", func(t *testing.T) {
		related := registry.RelatedControls(ctx, "soc2", "CC6.1")
		assert.Equal(t, graph.related, related)

		graph.err = errInjected
		defer func() { graph.err = nil }()
		assert.Equal(t, []models.RelatedControl{}, registry.RelatedControls(ctx, "soc2", "CC6.1"))
	})
}

func TestRegistry_Disabled(t *testing.T) {
	ctx := context.Background()
	f := newInstallFixture(t, "")
	registry := NewRegistry(config.FeatureFlags{}, f.catalog, f.installer, nil, logger.NewNop())

	assert.False(t, registry.Enabled())
	assert.Equal(t, []models.Framework{}, registry.ListFrameworks(ctx))
	assert.Equal(t, []models.CatalogControl{}, registry.ListControls(ctx, "soc2"))
	assert.Equal(t, []models.RelatedControl{}, registry.RelatedControls(ctx, "soc2", "CC6.1"))
	assert.False(t, f.installer.Installed(), "disabled reads do not install packs")
}
