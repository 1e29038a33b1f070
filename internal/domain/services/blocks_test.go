package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formaos-compliance/internal/domain/models"
)

func TestRefreshComplianceBlocks_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	created, err := e.evaluator.RefreshComplianceBlocks(ctx, testOrg, "SOC2", []string{"CC6.1", "CC7.2"})
	require.NoError(t, err)
	assert.Equal(t, []models.GateKey{models.GateAuditExport, models.GateCertReport, "FRAMEWORK_SOC2"}, created.Created)

	open := e.blocks.open(testOrg)
	require.Len(t, open, 3)
	assert.Equal(t, "2 mandatory controls missing required evidence or remediation.", open[0].Reason)
	assert.Equal(t, "SOC2", open[0].Metadata["framework"])

	t.Run("repeat does not duplicate open blocks", func(t *testing.T) {
		again, err := e.evaluator.RefreshComplianceBlocks(ctx, testOrg, "SOC2", []string{"CC6.1"})
		require.NoError(t, err)
		assert.Empty(t, again.Created)
		assert.Len(t, e.blocks.open(testOrg), 3)
	})

	t.Run("empty list resolves all", func(t *testing.T) {
		resolved, err := e.evaluator.RefreshComplianceBlocks(ctx, testOrg, "SOC2", nil)
		require.NoError(t, err)
		assert.Empty(t, resolved.Created)
		assert.Equal(t, 3, resolved.Resolved)
		assert.Empty(t, e.blocks.open(testOrg))
		for _, b := range e.blocks.blocks {
			assert.NotNil(t, b.ResolvedAt)
		}
	})

	assert.Equal(t, []string{"control_evaluated", "control_evaluated", "compliance_resolved", "control_evaluated"}, e.activity.actions)
	assert.Equal(t, []string{
		"COMPLIANCE_BLOCK_CREATED",
		"COMPLIANCE_BLOCK_CREATED",
		"COMPLIANCE_BLOCK_RESOLVED",
	}, e.audit.actions())
	assert.Equal(t, []models.ComplianceEventType{models.EventBlockCreated, models.EventBlockResolved}, e.events.types())
}

func TestRefreshComplianceBlocks_UnmappedFramework(t *testing.T) {
	e := newEngine(t)
	refresh, err := e.evaluator.RefreshComplianceBlocks(context.Background(), testOrg, "GDPR", []string{"ART-5"})
	require.NoError(t, err)
	assert.Equal(t, []models.GateKey{models.GateAuditExport, models.GateCertReport}, refresh.Created)
}

func TestRefreshComplianceBlocks_CapsListedCodes(t *testing.T) {
	e := newEngine(t)
	codes := make([]string, 75)
	for i := range codes {
		codes[i] = fmt.Sprintf("C.%d", i)
	}

	_, err := e.evaluator.RefreshComplianceBlocks(context.Background(), testOrg, "HIPAA", codes)
	require.NoError(t, err)

	open := e.blocks.open(testOrg)
	require.NotEmpty(t, open)
	listed, ok := open[0].Metadata["missingCodes"].([]string)
	require.True(t, ok)
	assert.Len(t, listed, 50)
	assert.Equal(t, "75 mandatory controls missing required evidence or remediation.", open[0].Reason)
}

func TestRefreshComplianceBlocks_ActivityFallback(t *testing.T) {
	e := newEngine(t)
	e.activity.err = errInjected

	_, err := e.evaluator.RefreshComplianceBlocks(context.Background(), testOrg, "SOC2", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"compliance_resolved", "control_evaluated"}, e.activityLog.actions())
}

func TestRefreshComplianceBlocks_StoreFailure(t *testing.T) {
	e := newEngine(t)
	e.blocks.err = errInjected

	_, err := e.evaluator.RefreshComplianceBlocks(context.Background(), testOrg, "SOC2", []string{"CC6.1"})
	assert.ErrorIs(t, err, errInjected)
}
