package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

const (
	maxHighRiskControls = 5
	velocityWindow      = 30 * 24 * time.Hour
	velocityWindowDays  = 30
	forecastHorizonDays = 21
)

// GetOrgComplianceSnapshot aggregates every enabled framework of an organization.
// The non-strict path may be served from the snapshot cache; strict mode always reads
// the stores and surfaces load failures as ErrSnapshotLoad.
func (e *Evaluator) GetOrgComplianceSnapshot(ctx context.Context, orgID string, strict bool) (*models.ComplianceSnapshot, error) {
	if orgID == "" {
		return models.EmptySnapshot(), nil
	}
	log := e.logger.WithOrganization(orgID)

	useCache := !strict && e.deps.Cache != nil
	if useCache {
		cached, ok, err := e.deps.Cache.GetSnapshot(ctx, orgID)
		if err != nil {
			log.Warn().Err(err).Msg("snapshot cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	snapshot, err := e.BuildSnapshot(ctx, orgID, strict)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := e.deps.Cache.SetSnapshot(ctx, orgID, snapshot, e.cfg.SnapshotCacheTTL); err != nil {
			log.Warn().Err(err).Msg("snapshot cache write failed")
		}
	}
	return snapshot, nil
}

type frameworkControls struct {
	framework models.ComplianceFramework
	controls  []models.ComplianceControl
}

// BuildSnapshot computes a snapshot from the stores without consulting the cache
func (e *Evaluator) BuildSnapshot(ctx context.Context, orgID string, strict bool) (*models.ComplianceSnapshot, error) {
	if orgID == "" {
		return models.EmptySnapshot(), nil
	}
	log := e.logger.WithOrganization(orgID)
	now := e.now().UTC()

	frameworks, err := e.enabledFrameworks(ctx, orgID, strict, log)
	if err != nil {
		return nil, err
	}

	loaded, err := e.loadFrameworkControls(ctx, frameworks, strict, log)
	if err != nil {
		return nil, err
	}

	var allControls []models.ComplianceControl
	for _, fc := range loaded {
		allControls = append(allControls, fc.controls...)
	}

	state, err := loadControlState(ctx, e.deps.Evidence, orgID, controlIDsOf(allControls), strict, log)
	if err != nil {
		return nil, err
	}

	snapshot := models.EmptySnapshot()
	snapshot.EvidenceBacklog, snapshot.TaskBacklog = backlogs(state, now)

	var overall tally
	categories := map[string]*tally{}
	var categoryOrder []string

	for _, fc := range loaded {
		var fw tally
		for _, control := range fc.controls {
			out := EvaluateControl(state.input(control, now))
			fw.add(out)
			overall.add(out)

			cat, ok := categories[out.Category]
			if !ok {
				cat = &tally{}
				categories[out.Category] = cat
				categoryOrder = append(categoryOrder, out.Category)
			}
			cat.add(out)

			if out.Mandatory && out.Status != models.StatusCompliant {
				snapshot.OpenViolations = append(snapshot.OpenViolations, violationOf(fc.framework, out))
			}
			if out.RiskLevel.IsElevated() && out.Status != models.StatusCompliant {
				snapshot.HighRiskControls = append(snapshot.HighRiskControls, models.HighRiskControl{
					ControlID:     out.ControlID,
					FrameworkID:   fc.framework.ID,
					FrameworkCode: fc.framework.Code,
					Code:          out.Code,
					Title:         out.Title,
					Status:        out.Status,
					RiskLevel:     out.RiskLevel,
					Category:      out.Category,
				})
			}
		}

		snapshot.FrameworkBreakdown = append(snapshot.FrameworkBreakdown, models.FrameworkScore{
			FrameworkID:    fc.framework.ID,
			FrameworkCode:  fc.framework.Code,
			FrameworkTitle: fc.framework.DisplayTitle(),
			Score:          fw.scorePct(),
			RiskScore:      fw.riskPct(),
			TotalControls:  len(fc.controls),
			Compliant:      fw.compliant,
			AtRisk:         fw.atRisk,
			NonCompliant:   fw.nonCompliant,
			NotApplicable:  fw.notApplicable,
		})
	}

	snapshot.OverallScore = overall.scorePct()

	for _, name := range categoryOrder {
		cat := categories[name]
		snapshot.CategoryBreakdown = append(snapshot.CategoryBreakdown, models.CategoryScore{
			Category:      name,
			Score:         cat.scorePct(),
			RiskScore:     cat.riskPct(),
			TotalControls: cat.weight,
			Compliant:     cat.compliant,
			AtRisk:        cat.atRisk,
			NonCompliant:  cat.nonCompliant,
			NotApplicable: cat.notApplicable,
		})
	}

	sort.SliceStable(snapshot.HighRiskControls, func(i, j int) bool {
		return snapshot.HighRiskControls[i].RiskLevel.Rank() > snapshot.HighRiskControls[j].RiskLevel.Rank()
	})
	if len(snapshot.HighRiskControls) > maxHighRiskControls {
		snapshot.HighRiskControls = snapshot.HighRiskControls[:maxHighRiskControls]
	}

	snapshot.Trend = e.trend(ctx, orgID, frameworks, log)
	snapshot.Forecast = forecast(state, now, snapshot.OverallScore, overall.weight,
		snapshot.TaskBacklog.Total+snapshot.EvidenceBacklog.Total)

	return snapshot, nil
}

// enabledFrameworks lists frameworks filtered to those enabled for the org.
// A failed or empty enablement lookup keeps every framework.
func (e *Evaluator) enabledFrameworks(ctx context.Context, orgID string, strict bool, log *logger.Logger) ([]models.ComplianceFramework, error) {
	frameworks, err := e.deps.Compliance.ListFrameworks(ctx)
	if err != nil {
		if strict {
			return nil, fmt.Errorf("%w: frameworks: %v", ErrSnapshotLoad, err)
		}
		log.Warn().Err(err).Msg("failed to load frameworks")
		return nil, nil
	}

	slugs, err := e.deps.Compliance.ListOrgFrameworkSlugs(ctx, orgID)
	if err != nil {
		log.Debug().Err(err).Msg("org framework filter unavailable")
		return frameworks, nil
	}
	if len(slugs) == 0 {
		return frameworks, nil
	}

	codes := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		codes[models.FrameworkCodeForSlug(slug)] = true
	}
	filtered := frameworks[:0:0]
	for _, fw := range frameworks {
		if codes[fw.Code] {
			filtered = append(filtered, fw)
		}
	}
	return filtered, nil
}

func (e *Evaluator) loadFrameworkControls(ctx context.Context, frameworks []models.ComplianceFramework, strict bool, log *logger.Logger) ([]frameworkControls, error) {
	loaded := make([]frameworkControls, len(frameworks))
	if len(frameworks) == 0 {
		return loaded, nil
	}

	schema := models.ControlsSchemaModern
	if e.deps.Schema != nil {
		detected, err := e.deps.Schema.Detect(ctx)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("%w: controls schema: %v", ErrSnapshotLoad, err)
			}
			log.Warn().Err(err).Msg("failed to detect controls schema")
		} else {
			schema = detected
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, fw := range frameworks {
		g.Go(func() error {
			controls, err := e.deps.Compliance.ListControls(gctx, schema, fw.ID)
			if err != nil {
				if strict {
					return fmt.Errorf("%w: controls for %s: %v", ErrSnapshotLoad, fw.Code, err)
				}
				log.Warn().Err(err).Str("framework", fw.Code).Msg("failed to load controls")
			}
			mu.Lock()
			loaded[i] = frameworkControls{framework: fw, controls: controls}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return loaded, nil
}

// trend compares the two most recent snapshots overall and per framework.
// Load failures yield an empty trend.
func (e *Evaluator) trend(ctx context.Context, orgID string, frameworks []models.ComplianceFramework, log *logger.Logger) models.Trend {
	empty := models.Trend{FrameworkDeltas: []models.FrameworkDelta{}}

	rows, err := e.deps.Evaluations.ListRecentSnapshots(ctx, orgID, e.cfg.SnapshotHistoryLimit)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load snapshot history")
		return empty
	}

	trend := empty
	if len(rows) >= 2 {
		delta := rows[0].ComplianceScore - rows[1].ComplianceScore
		trend.OverallDelta = &delta
	}

	byFramework := map[uuid.UUID][]models.SnapshotPoint{}
	for _, row := range rows {
		if row.FrameworkID == nil {
			continue
		}
		byFramework[*row.FrameworkID] = append(byFramework[*row.FrameworkID], row)
	}

	for _, fw := range frameworks {
		d := models.FrameworkDelta{FrameworkCode: fw.Code}
		if points := byFramework[fw.ID]; len(points) >= 2 {
			delta := points[0].ComplianceScore - points[1].ComplianceScore
			d.Delta = &delta
		}
		d.Direction = models.DirectionForDelta(d.Delta)
		trend.FrameworkDeltas = append(trend.FrameworkDeltas, d)
	}
	return trend
}

func backlogs(state *controlState, now time.Time) (models.EvidenceBacklog, models.TaskBacklog) {
	var evidence models.EvidenceBacklog
	for _, e := range state.evidence {
		switch e.Status {
		case models.EvidenceRejected:
			evidence.Rejected++
		case models.EvidencePending, "":
			evidence.Pending++
		}
	}
	evidence.Total = evidence.Pending + evidence.Rejected

	var tasks models.TaskBacklog
	for _, t := range state.tasks {
		if !t.IsComplete() {
			tasks.Open++
		}
		if t.IsOverdue(now) {
			tasks.Overdue++
		}
	}
	tasks.Total = tasks.Open

	return evidence, tasks
}

// forecast projects the score 21 days out from the last 30 days of throughput
func forecast(state *controlState, now time.Time, score int, weight float64, backlog int) models.Forecast {
	since := now.Add(-velocityWindow)

	recent := 0
	for _, t := range state.tasks {
		if t.CompletedAt != nil && t.CompletedAt.After(since) {
			recent++
		}
	}
	for _, e := range state.evidence {
		if e.Status == models.EvidenceApproved && e.CreatedAt != nil && e.CreatedAt.After(since) {
			recent++
		}
	}

	f := models.Forecast{
		VelocityPerDay: float64(recent) / velocityWindowDays,
		Basis:          models.ForecastBasisInsufficient,
	}
	if f.VelocityPerDay <= 0 {
		return f
	}
	f.Basis = models.ForecastBasisVelocity

	days := int(math.Ceil(float64(backlog) / f.VelocityPerDay))
	f.DaysToFullCompliance = &days

	if weight > 0 {
		horizon := float64(days)
		if days == 0 {
			horizon = forecastHorizonDays
		}
		progress := math.Min(1, forecastHorizonDays/horizon)
		projected := min(100, roundHalfUp(float64(score)+float64(100-score)*progress))
		f.ProjectedScoreIn21Days = &projected
	}
	return f
}

func violationOf(fw models.ComplianceFramework, out ControlOutcome) models.Violation {
	return models.Violation{
		ControlID:             out.ControlID,
		FrameworkID:           fw.ID,
		FrameworkCode:         fw.Code,
		Code:                  out.Code,
		Title:                 out.Title,
		Status:                out.Status,
		RiskLevel:             out.RiskLevel,
		Category:              out.Category,
		EntityID:              out.EntityID,
		RequiredEvidenceCount: out.RequiredEvidence,
		ApprovedEvidenceCount: out.ApprovedEvidenceCount,
		PendingEvidenceCount:  out.PendingEvidenceCount,
		RejectedEvidenceCount: out.RejectedEvidenceCount,
		OpenTaskCount:         out.OpenTaskCount,
		OverdueTaskCount:      out.OverdueTaskCount,
	}
}
