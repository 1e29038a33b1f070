package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// PackInstaller installs the built-in and configured framework packs and keeps
// the organization-facing projection in step with the catalog
type PackInstaller struct {
	loader     *CatalogLoader
	catalog    CatalogStore
	compliance ComplianceStore
	schema     *SchemaDetector
	embedded   fs.FS
	dir        string
	logger     *logger.Logger

	installed atomic.Bool
	group     singleflight.Group
}

// NewPackInstaller creates a new PackInstaller. embedded may be nil and dir may be empty.
func NewPackInstaller(loader *CatalogLoader, catalog CatalogStore, compliance ComplianceStore, schema *SchemaDetector, embedded fs.FS, dir string, log *logger.Logger) *PackInstaller {
	return &PackInstaller{
		loader:     loader,
		catalog:    catalog,
		compliance: compliance,
		schema:     schema,
		embedded:   embedded,
		dir:        dir,
		logger:     log.WithComponent("pack-installer"),
	}
}

// EnsureInstalled loads every pack once per process. Concurrent callers share
// one run; a failed run is retried on the next call.
func (p *PackInstaller) EnsureInstalled(ctx context.Context) error {
	if p.installed.Load() {
		return nil
	}
	_, err, _ := p.group.Do("install", func() (any, error) {
		if p.installed.Load() {
			return nil, nil
		}
		if err := p.installAll(ctx); err != nil {
			return nil, err
		}
		p.installed.Store(true)
		return nil, nil
	})
	return err
}

// Installed reports whether a full install has succeeded
func (p *PackInstaller) Installed() bool {
	return p.installed.Load()
}

func (p *PackInstaller) installAll(ctx context.Context) error {
	sources, err := p.collectSources()
	if err != nil {
		return err
	}

	var errs []error
	for _, src := range sources {
		result := p.loader.Load(ctx, src.source, LoadOptions{})
		if !result.OK {
			errs = append(errs, fmt.Errorf("pack %s: %s", src.name, result.Error))
			continue
		}
		p.logger.Debug().Str("pack", src.name).Str("slug", result.FrameworkSlug).Msg("pack installed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to install framework packs: %w", errors.Join(errs...))
	}

	p.logger.Info().Int("packs", len(sources)).Msg("framework packs installed")
	return nil
}

type namedPack struct {
	name   string
	source PackSource
}

func (p *PackInstaller) collectSources() ([]namedPack, error) {
	var sources []namedPack

	if p.embedded != nil {
		entries, err := fs.ReadDir(p.embedded, ".")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded packs: %w", err)
		}
		for _, entry := range sortedPackEntries(entries) {
			data, err := fs.ReadFile(p.embedded, entry)
			if err != nil {
				return nil, fmt.Errorf("failed to read embedded pack %s: %w", entry, err)
			}
			sources = append(sources, namedPack{name: "embedded:" + entry, source: PackFromBytes(entry, data)})
		}
	}

	if p.dir != "" {
		entries, err := os.ReadDir(p.dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read packs dir: %w", err)
		}
		for _, entry := range sortedPackEntries(entries) {
			sources = append(sources, namedPack{name: entry, source: PackFromPath(filepath.Join(p.dir, entry))})
		}
	}

	return sources, nil
}

func sortedPackEntries(entries []fs.DirEntry) []string {
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// SyncComplianceFramework derives the organization-facing framework and control
// rows from the catalog entry for slug
func (p *PackInstaller) SyncComplianceFramework(ctx context.Context, slug string) error {
	fw, err := p.catalog.GetFrameworkBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("failed to get catalog framework: %w", err)
	}
	if fw == nil {
		return fmt.Errorf("%w: %s", ErrFrameworkNotFound, slug)
	}

	code := models.FrameworkCodeForSlug(slug)
	complianceID, err := p.compliance.UpsertFramework(ctx, code, fw.Name, fw.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert compliance framework: %w", err)
	}

	domains, err := p.catalog.ListDomains(ctx, fw.ID)
	if err != nil {
		return fmt.Errorf("failed to list catalog domains: %w", err)
	}
	domainNames := make(map[uuid.UUID]string, len(domains))
	for _, d := range domains {
		domainNames[d.ID] = d.Name
	}

	controls, err := p.catalog.ListControls(ctx, fw.ID)
	if err != nil {
		return fmt.Errorf("failed to list catalog controls: %w", err)
	}
	if len(controls) == 0 {
		return nil
	}

	schema, err := p.schema.Detect(ctx)
	if err != nil {
		return fmt.Errorf("failed to detect controls schema: %w", err)
	}

	rows := make([]models.ComplianceControlSync, 0, len(controls))
	for _, c := range controls {
		category := domainNames[c.DomainID]
		if category == "" {
			category = "General"
		}
		rows = append(rows, models.ComplianceControlSync{
			FrameworkID:        complianceID,
			FrameworkControlID: c.ID,
			Code:               c.ControlCode,
			Title:              c.Title,
			Description:        c.SummaryDescription,
			Category:           category,
			RiskLevel:          models.ParseRiskLevelPtr(c.DefaultRiskLevel),
		})
	}

	if err := p.compliance.UpsertControls(ctx, schema, rows); err != nil {
		return fmt.Errorf("failed to sync compliance controls: %w", err)
	}

	p.logger.Debug().Str("slug", slug).Str("code", code).Int("controls", len(rows)).Msg("compliance framework synced")
	return nil
}
