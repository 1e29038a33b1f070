package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// Controls are keyed by (framework_slug, code). A mapping to a framework that
// has not been loaded yet creates a placeholder control that the later load fills in.
const (
	cypherProjectControls = `
		MERGE (f:Framework {slug: $slug})
		WITH f
		UNWIND $controls AS ctl
		MERGE (c:Control {framework_slug: $slug, code: ctl.code})
		SET c.id = ctl.id,
			c.title = ctl.title,
			c.updated_at = timestamp()
		MERGE (f)-[:HAS_CONTROL]->(c)
		RETURN count(c) AS projected`

	cypherProjectMappings = `
		UNWIND $mappings AS m
		MATCH (src:Control {framework_slug: $slug, code: m.from})
		MERGE (dst:Control {framework_slug: m.framework, code: m.reference})
		MERGE (src)-[r:MAPS_TO]->(dst)
		SET r.strength = m.strength
		RETURN count(r) AS projected`

	// direct: one hop in either direction; shared: two controls mapped to the same target
	cypherRelatedControls = `
		MATCH (c:Control {framework_slug: $slug, code: $code})-[r:MAPS_TO]-(other:Control)
		RETURN other.framework_slug AS framework, other.code AS code, other.title AS title,
			'direct' AS via, r.strength AS strength
		UNION
		MATCH (c:Control {framework_slug: $slug, code: $code})-[r1:MAPS_TO]->(shared:Control)<-[r2:MAPS_TO]-(other:Control)
		WHERE other <> c
		RETURN other.framework_slug AS framework, other.code AS code, other.title AS title,
			shared.framework_slug + ':' + shared.code AS via,
			CASE WHEN r1.strength = 'primary' AND r2.strength = 'primary' THEN 'primary' ELSE 'secondary' END AS strength`
)

// GraphRepository projects the framework catalog into Neo4j and answers
// cross-framework control lookups
type GraphRepository struct {
	client *Neo4jClient
	logger *logger.Logger
}

// NewGraphRepository creates a new graph repository
func NewGraphRepository(client *Neo4jClient, log *logger.Logger) *GraphRepository {
	return &GraphRepository{
		client: client,
		logger: log.WithComponent("graph-repo"),
	}
}

// ProjectPack merges a framework's controls and their mappings into the graph
func (r *GraphRepository) ProjectPack(ctx context.Context, slug string, controls []models.CatalogControl, mappings []models.ControlMapping) error {
	controlParams, mappingParams := projectionParams(controls, mappings)
	if len(controlParams) == 0 {
		return nil
	}

	_, err := r.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, cypherProjectControls, map[string]any{"slug": slug, "controls": controlParams}); err != nil {
			return nil, err
		}
		if len(mappingParams) > 0 {
			if _, err := tx.Run(ctx, cypherProjectMappings, map[string]any{"slug": slug, "mappings": mappingParams}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to project framework %s: %w", slug, err)
	}

	r.logger.Debug().
		Str("framework", slug).
		Int("controls", len(controlParams)).
		Int("mappings", len(mappingParams)).
		Msg("projected framework into graph")

	return nil
}

// RelatedControls returns controls in other frameworks linked to (slug, code)
func (r *GraphRepository) RelatedControls(ctx context.Context, slug, controlCode string) ([]models.RelatedControl, error) {
	result, err := r.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypherRelatedControls, map[string]any{"slug": slug, "code": controlCode})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		return recordsToRelated(records), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query related controls: %w", err)
	}
	return result.([]models.RelatedControl), nil
}

// projectionParams converts catalog rows into Cypher parameters.
// Mappings whose internal control is not among controls are dropped.
func projectionParams(controls []models.CatalogControl, mappings []models.ControlMapping) ([]map[string]any, []map[string]any) {
	codes := make(map[uuid.UUID]string, len(controls))
	controlParams := make([]map[string]any, 0, len(controls))
	for _, c := range controls {
		codes[c.ID] = c.ControlCode
		controlParams = append(controlParams, map[string]any{
			"id":    c.ID.String(),
			"code":  c.ControlCode,
			"title": c.Title,
		})
	}

	mappingParams := make([]map[string]any, 0, len(mappings))
	for _, m := range mappings {
		from, ok := codes[m.InternalControlID]
		if !ok {
			continue
		}
		mappingParams = append(mappingParams, map[string]any{
			"from":      from,
			"framework": strings.ToLower(strings.TrimSpace(m.FrameworkSlug)),
			"reference": strings.TrimSpace(m.ExternalControlReference),
			"strength":  string(m.MappingStrength),
		})
	}
	return controlParams, mappingParams
}

// recordsToRelated decodes related-control rows, keeping the strongest link per control
func recordsToRelated(records []*neo4j.Record) []models.RelatedControl {
	out := make([]models.RelatedControl, 0, len(records))
	index := make(map[string]int, len(records))

	for _, rec := range records {
		framework, _, _ := neo4j.GetRecordValue[string](rec, "framework")
		code, _, _ := neo4j.GetRecordValue[string](rec, "code")
		title, _, _ := neo4j.GetRecordValue[string](rec, "title")
		via, _, _ := neo4j.GetRecordValue[string](rec, "via")
		strength, _, _ := neo4j.GetRecordValue[string](rec, "strength")
		if framework == "" || code == "" {
			continue
		}

		rc := models.RelatedControl{
			FrameworkSlug: framework,
			ControlCode:   code,
			Title:         title,
			Via:           via,
			Strength:      models.ParseMappingStrength(strength),
		}

		key := framework + "\x00" + code
		if i, seen := index[key]; seen {
			if out[i].Strength != models.MappingStrengthPrimary && rc.Strength == models.MappingStrengthPrimary {
				out[i] = rc
			}
			continue
		}
		index[key] = len(out)
		out = append(out, rc)
	}
	return out
}
