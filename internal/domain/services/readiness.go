package services

import (
	"context"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// SnapshotBuilder produces a fresh organization snapshot
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context, orgID string, strict bool) (*models.ComplianceSnapshot, error)
}

// ReadinessProjector derives a certification verdict per framework from the snapshot
type ReadinessProjector struct {
	snapshots SnapshotBuilder
	logger    *logger.Logger
}

// NewReadinessProjector creates a new ReadinessProjector
func NewReadinessProjector(snapshots SnapshotBuilder, log *logger.Logger) *ReadinessProjector {
	return &ReadinessProjector{
		snapshots: snapshots,
		logger:    log.WithComponent("readiness"),
	}
}

type readinessBucket struct {
	missing          []string
	atRisk           []string
	requiredEvidence int
	openTasks        int
}

// GetFrameworkCertificationReadiness returns one entry per framework of the snapshot,
// in snapshot order
func (p *ReadinessProjector) GetFrameworkCertificationReadiness(ctx context.Context, orgID string) ([]models.FrameworkReadiness, error) {
	snapshot, err := p.snapshots.BuildSnapshot(ctx, orgID, false)
	if err != nil {
		return nil, err
	}
	return ProjectReadiness(snapshot), nil
}

// ProjectReadiness buckets a snapshot's open violations by framework
func ProjectReadiness(snapshot *models.ComplianceSnapshot) []models.FrameworkReadiness {
	buckets := map[string]*readinessBucket{}
	for _, v := range snapshot.OpenViolations {
		b, ok := buckets[v.FrameworkCode]
		if !ok {
			b = &readinessBucket{}
			buckets[v.FrameworkCode] = b
		}
		switch v.Status {
		case models.StatusNonCompliant:
			b.missing = append(b.missing, v.Code)
		case models.StatusAtRisk:
			b.atRisk = append(b.atRisk, v.Code)
		}
		b.requiredEvidence += max(0, v.RequiredEvidenceCount-v.ApprovedEvidenceCount)
		b.openTasks += v.OpenTaskCount
	}

	out := make([]models.FrameworkReadiness, 0, len(snapshot.FrameworkBreakdown))
	for _, fw := range snapshot.FrameworkBreakdown {
		b := buckets[fw.FrameworkCode]
		if b == nil {
			b = &readinessBucket{}
		}

		status := models.ReadinessCertifiable
		switch {
		case len(b.missing) > 0:
			status = models.ReadinessBlocked
		case len(b.atRisk) > 0 || b.requiredEvidence > 0 || b.openTasks > 0:
			status = models.ReadinessConditionallyReady
		}

		out = append(out, models.FrameworkReadiness{
			FrameworkID:          fw.FrameworkID,
			FrameworkCode:        fw.FrameworkCode,
			FrameworkTitle:       fw.FrameworkTitle,
			Status:               status,
			MissingControls:      nonNil(b.missing),
			AtRiskControls:       nonNil(b.atRisk),
			RequiredEvidence:     b.requiredEvidence,
			OpenRemediationTasks: b.openTasks,
		})
	}
	return out
}
