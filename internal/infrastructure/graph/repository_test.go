package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/internal/domain/services"
)

var _ services.MappingGraph = (*GraphRepository)(nil)

func TestProjectionParams(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	controls := []models.CatalogControl{
		{ID: a, ControlCode: "A.5.1", Title: "Policies"},
		{ID: b, ControlCode: "A.8.2", Title: "Privileged access"},
	}
	mappings := []models.ControlMapping{
		{InternalControlID: a, FrameworkSlug: " SOC2 ", ExternalControlReference: "CC1.1 ", MappingStrength: models.MappingStrengthPrimary},
		{InternalControlID: uuid.New(), FrameworkSlug: "hipaa", ExternalControlReference: "164.308"},
	}

	cp, mp := projectionParams(controls, mappings)
	require.Len(t, cp, 2)
	assert.Equal(t, "A.5.1", cp[0]["code"])
	assert.Equal(t, a.String(), cp[0]["id"])

	require.Len(t, mp, 1, "mapping for an unknown control is dropped")
	assert.Equal(t, map[string]any{
		"from":      "A.5.1",
		"framework": "soc2",
		"reference": "CC1.1",
		"strength":  "primary",
	}, mp[0])
}

func record(framework, code string, title any, via, strength string) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"framework", "code", "title", "via", "strength"},
		Values: []any{framework, code, title, via, strength},
	}
}

func TestRecordsToRelated(t *testing.T) {
	records := []*neo4j.Record{
		record("soc2", "CC1.1", "Integrity and ethics", "soc2:CC1.1", "secondary"),
		record("soc2", "CC1.1", "Integrity and ethics", "direct", "primary"),
		record("hipaa", "164.308", nil, "direct", "secondary"),
		record("", "orphan", nil, "direct", "primary"),
	}

	related := recordsToRelated(records)
	require.Len(t, related, 2)

	assert.Equal(t, models.RelatedControl{
		FrameworkSlug: "soc2", ControlCode: "CC1.1", Title: "Integrity and ethics", Via: "direct", Strength: models.MappingStrengthPrimary,
	}, related[0])
	assert.Equal(t, "", related[1].Title)
	assert.Equal(t, models.MappingStrengthSecondary, related[1].Strength)

	assert.NotNil(t, recordsToRelated(nil))
}
