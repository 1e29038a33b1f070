package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// DryRunFrameworkID is reported instead of a real id when nothing is written
const DryRunFrameworkID = "dry-run"

type packSourceKind int

const (
	packSourceValue packSourceKind = iota
	packSourcePath
	packSourceString
	packSourceNamed
)

// PackSource is a framework pack given inline, by file path, or as raw text
type PackSource struct {
	kind     packSourceKind
	value    *models.FrameworkPack
	text     string
	filename string
}

// PackFromValue wraps an already parsed pack
func PackFromValue(pack *models.FrameworkPack) PackSource {
	return PackSource{kind: packSourceValue, value: pack}
}

// PackFromPath reads the pack from a file; the extension picks the format
func PackFromPath(path string) PackSource {
	return PackSource{kind: packSourcePath, text: path}
}

// PackFromString parses raw JSON or YAML. A string naming an existing file is read as a path.
func PackFromString(raw string) PackSource {
	return PackSource{kind: packSourceString, text: raw}
}

// PackFromBytes parses contents already read from a file named name
func PackFromBytes(name string, data []byte) PackSource {
	return PackSource{kind: packSourceNamed, text: string(data), filename: name}
}

// LoadOptions controls a single pack load
type LoadOptions struct {
	DryRun bool
}

// CatalogLoader upserts framework packs into the control catalog
type CatalogLoader struct {
	store  CatalogStore
	graph  MappingGraph
	events EventPublisher
	logger *logger.Logger
}

// NewCatalogLoader creates a new CatalogLoader. graph and events may be nil.
func NewCatalogLoader(store CatalogStore, graph MappingGraph, events EventPublisher, log *logger.Logger) *CatalogLoader {
	return &CatalogLoader{
		store:  store,
		graph:  graph,
		events: events,
		logger: log.WithComponent("catalog-loader"),
	}
}

// Load parses the pack and upserts it. Only missing framework metadata, a parse
// failure, or a failed framework write produce OK=false; everything else is a warning.
func (l *CatalogLoader) Load(ctx context.Context, src PackSource, opts LoadOptions) *models.LoadResult {
	result := &models.LoadResult{Warnings: []string{}}

	pack, err := resolvePack(src)
	if err != nil {
		result.Error = err.Error()
		l.logger.Warn().Err(err).Msg("framework pack rejected")
		return result
	}

	fw := *pack.Framework
	result.FrameworkSlug = fw.Slug

	if opts.DryRun {
		result.OK = true
		result.FrameworkID = DryRunFrameworkID
		result.DomainsUpserted = len(pack.Domains)
		result.ControlsUpserted = len(pack.Controls)
		result.MappingsUpserted = len(pack.Mappings)
		return result
	}

	frameworkID, err := l.store.UpsertFramework(ctx, fw)
	if err != nil || frameworkID == uuid.Nil {
		l.logger.Error().Err(err).Str("slug", fw.Slug).Msg("failed to upsert framework")
		result.Error = "failed to upsert framework metadata"
		return result
	}
	result.FrameworkID = frameworkID.String()

	domains := make(map[string]uuid.UUID)

	ensureDomain := func(name, key string) (uuid.UUID, bool) {
		name = strings.TrimSpace(name)
		if name == "" {
			return uuid.Nil, false
		}
		if k := normalizeKey(key); k != "" {
			if id, ok := domains[k]; ok {
				return id, true
			}
		}
		row, err := l.store.UpsertDomain(ctx, frameworkID, models.PackDomain{Name: name})
		if err != nil || row == nil {
			result.Warnings = append(result.Warnings, "Failed to auto-create domain: "+name)
			return uuid.Nil, false
		}
		result.DomainsUpserted++
		finalKey := key
		if finalKey == "" {
			finalKey = row.Name
		}
		domains[normalizeKey(finalKey)] = row.ID
		return row.ID, true
	}

	for _, d := range pack.Domains {
		if strings.TrimSpace(d.Name) == "" {
			result.Warnings = append(result.Warnings, "Skipped domain with missing name")
			continue
		}
		if d.SortOrder.Invalid() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Ignored non-numeric sort_order %q for domain %s", d.SortOrder.Raw, d.Name))
		}
		row, err := l.store.UpsertDomain(ctx, frameworkID, d)
		if err != nil || row == nil {
			result.Warnings = append(result.Warnings, "Failed to upsert domain: "+d.Name)
			continue
		}
		result.DomainsUpserted++
		key := d.Key
		if key == "" {
			key = d.Name
		}
		domains[normalizeKey(key)] = row.ID
	}

	controlIDs := make(map[string]uuid.UUID)
	var upserted []models.CatalogControl

	for _, c := range pack.Controls {
		if strings.TrimSpace(c.ControlCode) == "" || strings.TrimSpace(c.Title) == "" {
			result.Warnings = append(result.Warnings, "Skipped control with missing code or title")
			continue
		}

		if c.ReviewFrequencyDays.Invalid() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Ignored non-numeric review_frequency_days %q for control %s", c.ReviewFrequencyDays.Raw, c.ControlCode))
		}

		domainID, ok := resolveDomainID(c, domains, ensureDomain)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped control %s: missing domain mapping", c.ControlCode))
			continue
		}

		row, err := l.store.UpsertControl(ctx, frameworkID, domainID, c)
		if err != nil || row == nil {
			result.Warnings = append(result.Warnings, "Failed to upsert control: "+c.ControlCode)
			continue
		}
		result.ControlsUpserted++
		controlIDs[row.ControlCode] = row.ID
		upserted = append(upserted, *row)
	}

	var mappings []models.ControlMapping
	for _, m := range pack.Mappings {
		if m.FrameworkSlug == "" || m.ExternalControlReference == "" {
			result.Warnings = append(result.Warnings, "Skipped mapping with missing framework_slug or external reference")
			continue
		}

		internalID, ok := resolveInternalControlID(m, controlIDs)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped mapping for %s: missing internal control id", m.FrameworkSlug))
			continue
		}

		mapping := models.ControlMapping{
			InternalControlID:        internalID,
			FrameworkSlug:            m.FrameworkSlug,
			ExternalControlReference: m.ExternalControlReference,
			MappingStrength:          models.ParseMappingStrength(m.MappingStrength),
		}
		if err := l.store.UpsertMapping(ctx, mapping); err != nil {
			result.Warnings = append(result.Warnings, "Failed to upsert mapping for "+m.FrameworkSlug)
			continue
		}
		result.MappingsUpserted++
		mappings = append(mappings, mapping)
	}

	if len(result.Warnings) > 0 {
		l.logger.Warn().Str("slug", fw.Slug).Strs("warnings", result.Warnings).Msg("framework pack completed with warnings")
	}

	result.OK = true
	l.afterLoad(ctx, fw.Slug, result, upserted, mappings)

	l.logger.Info().
		Str("slug", fw.Slug).
		Int("domains", result.DomainsUpserted).
		Int("controls", result.ControlsUpserted).
		Int("mappings", result.MappingsUpserted).
		Msg("framework pack loaded")

	return result
}

func (l *CatalogLoader) afterLoad(ctx context.Context, slug string, result *models.LoadResult, controls []models.CatalogControl, mappings []models.ControlMapping) {
	effects := NewSideEffects(l.logger)

	if l.graph != nil {
		effects.Attempt(ctx, "mapping_graph", func(ctx context.Context) error {
			return l.graph.ProjectPack(ctx, slug, controls, mappings)
		})
	}

	if l.events != nil {
		effects.Attempt(ctx, "publish_pack_loaded", func(ctx context.Context) error {
			event := models.NewComplianceEvent(models.EventPackLoaded, "")
			event.FrameworkSlug = slug
			event.Metadata = map[string]any{
				"domains_upserted":  result.DomainsUpserted,
				"controls_upserted": result.ControlsUpserted,
				"mappings_upserted": result.MappingsUpserted,
			}
			return l.events.PublishComplianceEvent(ctx, event)
		})
	}
}

func resolveDomainID(c models.PackControl, domains map[string]uuid.UUID, ensure func(name, key string) (uuid.UUID, bool)) (uuid.UUID, bool) {
	if c.DomainID != "" {
		id, err := uuid.Parse(c.DomainID)
		return id, err == nil
	}

	raw := c.DomainKey
	if raw == "" {
		raw = c.Domain
	}
	key := normalizeKey(raw)
	if key == "" {
		return uuid.Nil, false
	}
	if id, ok := domains[key]; ok {
		return id, true
	}

	name := c.Domain
	if strings.TrimSpace(name) == "" {
		name = c.DomainKey
	}
	return ensure(name, key)
}

func resolveInternalControlID(m models.PackMapping, controls map[string]uuid.UUID) (uuid.UUID, bool) {
	if m.InternalControlID != "" {
		id, err := uuid.Parse(m.InternalControlID)
		return id, err == nil
	}
	if m.InternalControlCode != "" {
		id, ok := controls[m.InternalControlCode]
		return id, ok
	}
	return uuid.Nil, false
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func resolvePack(src PackSource) (*models.FrameworkPack, error) {
	switch src.kind {
	case packSourceValue:
		return validatePack(src.value)
	case packSourcePath:
		data, err := os.ReadFile(src.text)
		if err != nil {
			return nil, fmt.Errorf("failed to read framework pack: %w", err)
		}
		return parsePack(string(data), src.text)
	case packSourceNamed:
		return parsePack(src.text, src.filename)
	default:
		candidate := strings.TrimSpace(src.text)
		if fileExists(candidate) {
			data, err := os.ReadFile(candidate)
			if err != nil {
				return nil, fmt.Errorf("failed to read framework pack: %w", err)
			}
			return parsePack(string(data), candidate)
		}
		return parsePack(candidate, "")
	}
}

func fileExists(path string) bool {
	if path == "" || strings.ContainsAny(path, "\n{") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func parsePack(contents, filename string) (*models.FrameworkPack, error) {
	trimmed := strings.TrimSpace(contents)
	ext := strings.ToLower(filepath.Ext(filename))

	useJSON := false
	switch {
	case ext == ".json":
		useJSON = true
	case ext == ".yaml" || ext == ".yml":
		useJSON = false
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		useJSON = true
	}

	var pack models.FrameworkPack
	if useJSON {
		if strings.HasPrefix(trimmed, "[") {
			return nil, fmt.Errorf("%w: framework pack must be an object", ErrInvalidPack)
		}
		if err := json.Unmarshal([]byte(trimmed), &pack); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON: %v", ErrInvalidPack, err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(trimmed), &pack); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidPack, err)
		}
	}
	return validatePack(&pack)
}

func validatePack(pack *models.FrameworkPack) (*models.FrameworkPack, error) {
	if pack == nil {
		return nil, fmt.Errorf("%w: framework pack must be an object", ErrInvalidPack)
	}
	if pack.Framework == nil {
		return nil, fmt.Errorf("%w: framework pack is missing the framework metadata", ErrInvalidPack)
	}
	if strings.TrimSpace(pack.Framework.Name) == "" || strings.TrimSpace(pack.Framework.Slug) == "" {
		return nil, fmt.Errorf("%w: framework pack requires framework metadata name and slug", ErrInvalidPack)
	}
	return pack, nil
}
