package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

func TestGetFrameworkCertificationReadiness(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	// ISO27001: every control compliant
	isoCtl := newControl("A.1", models.RiskMedium)
	e.compliance.addFramework("ISO27001", isoCtl)
	e.evidence.addEvidence(testOrg, isoCtl.ID, models.EvidenceApproved)

	// SOC2: one at-risk mandatory control, nothing non-compliant
	socCtl := newControl("CC1.1", models.RiskMedium)
	e.compliance.addFramework("SOC2", socCtl)
	e.evidence.addEvidence(testOrg, socCtl.ID, models.EvidencePending)

	// HIPAA: one blocked control, one at risk
	past := fixedNow.Add(-time.Hour)
	blocked := newControl("H.1", models.RiskHigh)
	blocked.RequiredEvidenceCount = ptr(3)
	atRisk := newControl("H.2", models.RiskLow)
	e.compliance.addFramework("HIPAA", blocked, atRisk)
	e.evidence.addEvidence(testOrg, blocked.ID, models.EvidenceApproved)
	e.evidence.addTask(testOrg, atRisk.ID, models.Task{Title: "Open", Status: "pending"})
	e.evidence.addTask(testOrg, blocked.ID, models.Task{Title: "Late", Status: "pending", DueAt: &past})

	projector := NewReadinessProjector(e.evaluator, logger.NewNop())
	readiness, err := projector.GetFrameworkCertificationReadiness(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, readiness, 3)

	t.Run("fully compliant framework is certifiable", func(t *testing.T) {
		r := readiness[0]
		assert.Equal(t, "ISO27001", r.FrameworkCode)
		assert.Equal(t, models.ReadinessCertifiable, r.Status)
		assert.Equal(t, []string{}, r.MissingControls)
		assert.Equal(t, []string{}, r.AtRiskControls)
	})

	t.Run("at risk only is conditionally ready", func(t *testing.T) {
		r := readiness[1]
		assert.Equal(t, "SOC2", r.FrameworkCode)
		assert.Equal(t, models.ReadinessConditionallyReady, r.Status)
		assert.Equal(t, []string{"CC1.1"}, r.AtRiskControls)
		assert.Equal(t, 1, r.RequiredEvidence)
	})

	t.Run("non compliant control blocks", func(t *testing.T) {
		r := readiness[2]
		assert.Equal(t, models.ReadinessBlocked, r.Status)
		assert.Equal(t, []string{"H.1"}, r.MissingControls)
		assert.Equal(t, []string{"H.2"}, r.AtRiskControls)
		assert.Equal(t, 3, r.RequiredEvidence)
		assert.Equal(t, 2, r.OpenRemediationTasks)
	})

	t.Run("ignores the snapshot cache", func(t *testing.T) {
		assert.Equal(t, 0, e.cache.gets)
	})
}

func TestProjectReadiness_OpenTasksOnly(t *testing.T) {
	snap := models.EmptySnapshot()
	snap.FrameworkBreakdown = []models.FrameworkScore{{FrameworkCode: "NDIS"}}
	snap.OpenViolations = []models.Violation{{
		FrameworkCode:         "NDIS",
		Code:                  "N.1",
		Status:                models.StatusCompliant,
		RequiredEvidenceCount: 1,
		ApprovedEvidenceCount: 4,
		OpenTaskCount:         1,
	}}

	out := ProjectReadiness(snap)
	require.Len(t, out, 1)
	assert.Equal(t, models.ReadinessConditionallyReady, out[0].Status)
	assert.Equal(t, 0, out[0].RequiredEvidence)
}
