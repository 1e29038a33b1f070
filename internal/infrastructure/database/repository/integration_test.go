//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/internal/infrastructure/database"
	"formaos-compliance/pkg/logger"
)

// Run with: go test -tags=integration -timeout 180s ./internal/infrastructure/database/repository/...
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("compliance"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := database.NewFromPool(pool, logger.NewNop())
	require.NoError(t, db.Migrate(ctx))
	// second run is a no-op
	require.NoError(t, db.Migrate(ctx))
	return pool
}

func strPtr(s string) *string { return &s }

func TestRepositoriesAgainstPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	repos := NewRepositories(pool, logger.NewNop())

	var frameworkID uuid.UUID
	var control *models.CatalogControl

	t.Run("catalog upserts are idempotent", func(t *testing.T) {
		id, err := repos.Catalog.UpsertFramework(ctx, models.PackFramework{Name: "Test Framework", Slug: "testfw"})
		require.NoError(t, err)
		again, err := repos.Catalog.UpsertFramework(ctx, models.PackFramework{Name: "Test Framework v2", Slug: "testfw"})
		require.NoError(t, err)
		assert.Equal(t, id, again)
		frameworkID = id

		domain, err := repos.Catalog.UpsertDomain(ctx, id, models.PackDomain{Name: "Access"})
		require.NoError(t, err)

		control, err = repos.Catalog.UpsertControl(ctx, id, domain.ID, models.PackControl{
			ControlCode:            "T.1",
			Title:                  "Access reviews",
			DefaultRiskLevel:       strPtr("high"),
			SuggestedEvidenceTypes: []string{"policy"},
			SuggestedTaskTemplates: []models.TaskTemplate{{Title: "Review access", Priority: "high"}},
		})
		require.NoError(t, err)

		require.NoError(t, repos.Catalog.UpsertMapping(ctx, models.ControlMapping{
			InternalControlID:        control.ID,
			FrameworkSlug:            "soc2",
			ExternalControlReference: "CC6.1",
			MappingStrength:          models.MappingStrengthPrimary,
		}))
		require.NoError(t, repos.Catalog.UpsertMapping(ctx, models.ControlMapping{
			InternalControlID:        control.ID,
			FrameworkSlug:            "soc2",
			ExternalControlReference: "CC6.1",
			MappingStrength:          models.MappingStrengthSecondary,
		}))

		fw, err := repos.Catalog.GetFrameworkBySlug(ctx, "testfw")
		require.NoError(t, err)
		require.NotNil(t, fw)
		assert.Equal(t, "Test Framework v2", fw.Name)

		missing, err := repos.Catalog.GetFrameworkBySlug(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		controls, err := repos.Catalog.ListControls(ctx, id)
		require.NoError(t, err)
		require.Len(t, controls, 1)
		assert.Equal(t, []string{"policy"}, controls[0].SuggestedEvidenceTypes)
		require.Len(t, controls[0].SuggestedTaskTemplates, 1)
		assert.Equal(t, "Review access", controls[0].SuggestedTaskTemplates[0].Title)

		mappings, err := repos.Catalog.ListMappings(ctx, id)
		require.NoError(t, err)
		require.Len(t, mappings, 1)
		assert.Equal(t, models.MappingStrengthSecondary, mappings[0].MappingStrength)
	})

	t.Run("compliance projection round trip", func(t *testing.T) {
		schema, err := repos.Compliance.DetectControlsSchema(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.ControlsSchemaModern, schema)

		cfID, err := repos.Compliance.UpsertFramework(ctx, "TESTFW", "Test Framework", nil)
		require.NoError(t, err)

		require.NoError(t, repos.Compliance.UpsertControls(ctx, schema, []models.ComplianceControlSync{{
			FrameworkID:        cfID,
			FrameworkControlID: control.ID,
			Code:               "T.1",
			Title:              "Access reviews",
			Category:           "Access",
			RiskLevel:          models.RiskHigh,
		}}))

		controls, err := repos.Compliance.ListControls(ctx, schema, cfID)
		require.NoError(t, err)
		require.Len(t, controls, 1)
		assert.Equal(t, models.RiskHigh, controls[0].RiskLevel)
		assert.Equal(t, "Access", controls[0].CategoryName())

		require.NoError(t, repos.Compliance.UpsertOrgFramework(ctx, "org-1", "testfw", time.Now()))
		require.NoError(t, repos.Compliance.UpsertOrgFramework(ctx, "org-1", "testfw", time.Now()))
		slugs, err := repos.Compliance.ListOrgFrameworkSlugs(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"testfw"}, slugs)
	})

	t.Run("tasks link once", func(t *testing.T) {
		taskID, err := repos.Evidence.CreateTask(ctx, &models.Task{OrgID: "org-1", Title: "Review access", Status: "pending", Priority: "high"})
		require.NoError(t, err)
		require.NoError(t, repos.Evidence.LinkControlTask(ctx, "org-1", control.ID, taskID))
		require.NoError(t, repos.Evidence.LinkControlTask(ctx, "org-1", control.ID, taskID))

		links, err := repos.Evidence.ListControlTasks(ctx, "org-1", []uuid.UUID{control.ID})
		require.NoError(t, err)
		assert.Len(t, links, 1)

		tasks, err := repos.Evidence.ListTasksByIDs(ctx, "org-1", []uuid.UUID{taskID})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.False(t, tasks[0].IsComplete())
	})

	t.Run("snapshots are appended and listed newest first", func(t *testing.T) {
		first := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
		second := first.Add(time.Hour)
		for i, at := range []time.Time{first, second} {
			require.NoError(t, repos.Evaluations.InsertSnapshot(ctx, &models.FrameworkSnapshotRecord{
				OrgID:           "org-1",
				ControlKey:      models.SnapshotKey("TESTFW", at),
				Status:          models.StatusAtRisk,
				FrameworkID:     frameworkID,
				ComplianceScore: 40 + i*10,
				TotalControls:   1,
				SnapshotHash:    "h",
				EvaluatedAt:     at,
			}))
		}

		points, err := repos.Evaluations.ListRecentSnapshots(ctx, "org-1", 10)
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, 50, points[0].ComplianceScore)
		assert.Equal(t, 40, points[1].ComplianceScore)

		require.NoError(t, repos.Evaluations.UpsertStatusRollup(ctx, &models.ComplianceStatusRollup{
			OrgID: "org-1", LastFrameworkCode: "TESTFW", LastScore: 50, LastTotalControls: 1, LastEvaluatedAt: second,
		}))
		rollup, err := repos.Evaluations.GetStatusRollup(ctx, "org-1")
		require.NoError(t, err)
		require.NotNil(t, rollup)
		assert.Equal(t, 50, rollup.LastScore)
	})

	t.Run("one open block per gate", func(t *testing.T) {
		for range 2 {
			require.NoError(t, repos.Blocks.CreateBlock(ctx, &models.ComplianceBlock{
				OrgID: "org-1", GateKey: models.GateAuditExport, Reason: "missing controls",
			}))
		}
		open, err := repos.Blocks.HasOpenBlock(ctx, "org-1", models.GateAuditExport)
		require.NoError(t, err)
		assert.True(t, open)

		resolved, err := repos.Blocks.ResolveOpenBlocks(ctx, "org-1", []models.GateKey{models.GateAuditExport, models.GateCertReport}, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, resolved)

		open, err = repos.Blocks.HasOpenBlock(ctx, "org-1", models.GateAuditExport)
		require.NoError(t, err)
		assert.False(t, open)
	})

	t.Run("entitlements", func(t *testing.T) {
		assert.ErrorIs(t, repos.Entitlements.Require(ctx, "org-1", "compliance_engine"), ErrNotEntitled)

		require.NoError(t, repos.Entitlements.Grant(ctx, "org-1", "compliance_engine", nil))
		assert.NoError(t, repos.Entitlements.Require(ctx, "org-1", "compliance_engine"))

		past := time.Now().Add(-time.Hour)
		require.NoError(t, repos.Entitlements.Grant(ctx, "org-1", "compliance_engine", &past))
		assert.ErrorIs(t, repos.Entitlements.Require(ctx, "org-1", "compliance_engine"), ErrNotEntitled)
	})

	t.Run("activity log", func(t *testing.T) {
		require.NoError(t, repos.Audit.LogActivity(ctx, "org-1", "framework_evaluated", "Evaluated TESTFW", map[string]any{"score": 50}))
		require.NoError(t, repos.Audit.LogAuditEvent(ctx, models.AuditEvent{
			OrganizationID: "org-1", ActorRole: "system", EntityType: "compliance_block", ActionType: "create", Reason: "gaps",
		}))

		entries, err := repos.Audit.ListActivity(ctx, "org-1", 5)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "Evaluated TESTFW", entries[0].Target)
	})
}

func TestDetectLegacyControlsSchema(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		ALTER TABLE compliance_controls DROP COLUMN risk_level;
		ALTER TABLE compliance_controls ADD COLUMN risk_weight DOUBLE PRECISION`)
	require.NoError(t, err)

	repo := NewComplianceRepository(pool)
	schema, err := repo.DetectControlsSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ControlsSchemaLegacy, schema)

	fwID, err := repo.UpsertFramework(ctx, "LEG", "Legacy", nil)
	require.NoError(t, err)
	require.NoError(t, repo.UpsertControls(ctx, schema, []models.ComplianceControlSync{{
		FrameworkID: fwID, FrameworkControlID: uuid.New(), Code: "L.1", Title: "Legacy control", Category: "General", RiskLevel: models.RiskCritical,
	}}))

	controls, err := repo.ListControls(ctx, schema, fwID)
	require.NoError(t, err)
	require.Len(t, controls, 1)
	assert.Equal(t, models.RiskCritical, controls[0].RiskLevel)
}
