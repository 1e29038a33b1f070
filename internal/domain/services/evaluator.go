package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// EvaluatorDeps are the stores and collaborators of the Evaluator.
// Entitlements, Audit, Activity, Events, Locker and Cache may be nil.
type EvaluatorDeps struct {
	Compliance   ComplianceStore
	Evidence     EvidenceStore
	Evaluations  EvaluationStore
	Blocks       BlockStore
	ActivityLog  ActivityStore
	Schema       *SchemaDetector
	Entitlements Entitlements
	Audit        AuditSink
	Activity     ActivityLogger
	Events       EventPublisher
	Locker       Locker
	Cache        SnapshotCache
}

// Evaluator computes control statuses, persists evaluations and snapshots,
// maintains compliance blocks and builds organization snapshots
type Evaluator struct {
	cfg  config.EvaluationConfig
	deps EvaluatorDeps

	activity activityRecorder
	logger   *logger.Logger
	now      func() time.Time
}

// NewEvaluator creates a new Evaluator
func NewEvaluator(cfg config.EvaluationConfig, deps EvaluatorDeps, log *logger.Logger) *Evaluator {
	if cfg.SnapshotHistoryLimit <= 0 {
		cfg.SnapshotHistoryLimit = 200
	}
	e := &Evaluator{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("evaluator"),
		now:    time.Now,
	}
	e.activity = activityRecorder{primary: deps.Activity, fallback: deps.ActivityLog, now: e.clock}
	return e
}

func (e *Evaluator) clock() time.Time {
	return e.now()
}

// EvaluateFrameworkControls recomputes and persists every control of one framework.
// It returns nil, nil when there is nothing to evaluate (no ids, unknown framework,
// no controls) and ErrEntitlementDenied when the organization may not evaluate.
// Persistence after the computation is best-effort and never changes the result.
func (e *Evaluator) EvaluateFrameworkControls(ctx context.Context, orgID, frameworkCode string) (*models.EvaluationResult, error) {
	if orgID == "" || frameworkCode == "" {
		return nil, nil
	}
	correlationID := uuid.NewString()
	log := e.logger.WithOrganization(orgID).WithFramework(frameworkCode)

	if e.deps.Entitlements != nil {
		if err := e.deps.Entitlements.Require(ctx, orgID, FeatureEntitlement); err != nil {
			log.Info().Err(err).Msg("evaluation not entitled")
			return nil, fmt.Errorf("%w: %v", ErrEntitlementDenied, err)
		}
	}

	release := e.serialize(ctx, orgID, frameworkCode, log)
	defer release()

	framework, err := e.deps.Compliance.GetFrameworkByCode(ctx, frameworkCode)
	if err != nil {
		log.Warn().Err(err).Msg("failed to get framework")
		return nil, nil
	}
	if framework == nil {
		return nil, nil
	}

	controls, err := e.listControls(ctx, framework.ID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list controls")
		return nil, nil
	}
	if len(controls) == 0 {
		return nil, nil
	}

	state, _ := loadControlState(ctx, e.deps.Evidence, orgID, controlIDsOf(controls), false, log)

	evaluatedAt := e.now().UTC().Truncate(time.Millisecond)
	result := &models.EvaluationResult{
		FrameworkID:           framework.ID,
		FrameworkCode:         framework.Code,
		MissingMandatoryCodes: []string{},
		PartialCodes:          []string{},
		TotalControls:         len(controls),
		EvaluatedAt:           evaluatedAt,
		CorrelationID:         correlationID,
	}

	var totals tally
	rows := make([]models.ControlEvaluation, 0, len(controls))
	frameworkID := framework.ID

	for _, control := range controls {
		out := EvaluateControl(state.input(control, evaluatedAt))
		totals.add(out)

		if out.Mandatory && out.Status == models.StatusNonCompliant {
			result.MissingMandatoryCodes = append(result.MissingMandatoryCodes, control.Code)
		}
		if out.Status == models.StatusAtRisk {
			result.PartialCodes = append(result.PartialCodes, control.Code)
		}

		rows = append(rows, models.ControlEvaluation{
			OrgID:           orgID,
			EntityID:        out.EntityID,
			ControlType:     models.ControlTypeFrameworkControl,
			ControlKey:      models.ControlEvaluationKey(control.ID),
			Required:        out.Mandatory,
			Status:          out.Status,
			LastEvaluatedAt: evaluatedAt,
			FrameworkID:     &frameworkID,
			Details:         evaluationDetails(framework, out),
		})
	}

	result.Score = totals.scorePct()
	result.Status = snapshotStatus(result.Score)
	result.CompliantCount = totals.compliant
	result.AtRiskCount = totals.atRisk
	result.NonCompliantCount = totals.nonCompliant
	result.NotApplicableCount = totals.notApplicable
	result.SnapshotHash = SnapshotHash(SnapshotHashPayload{
		OrgID:                 orgID,
		FrameworkCode:         framework.Code,
		Score:                 result.Score,
		EvaluatedAt:           models.FormatEvaluatedAt(evaluatedAt),
		MissingMandatoryCodes: result.MissingMandatoryCodes,
	})

	effects := NewSideEffects(log)
	e.persist(ctx, effects, orgID, framework, rows, result)
	result.SideEffects = effects.Outcomes()

	log.Info().
		Int("score", result.Score).
		Int("controls", result.TotalControls).
		Int("missing_mandatory", len(result.MissingMandatoryCodes)).
		Str("correlation_id", correlationID).
		Strs("failed_steps", effects.Failed()).
		Msg("framework evaluated")

	return result, nil
}

func (e *Evaluator) persist(ctx context.Context, effects *SideEffects, orgID string, framework *models.ComplianceFramework, rows []models.ControlEvaluation, result *models.EvaluationResult) {
	effects.Attempt(ctx, "upsert_evaluations", func(ctx context.Context) error {
		return e.deps.Evaluations.UpsertEvaluations(ctx, rows)
	})

	if e.deps.ActivityLog != nil {
		effects.Attempt(ctx, "evaluation_audit_log", func(ctx context.Context) error {
			entries := make([]models.ActivityEntry, len(rows))
			for i, row := range rows {
				entries[i] = models.ActivityEntry{
					OrgID:      orgID,
					Action:     "control_evaluated",
					Target:     row.ControlKey,
					ActorEmail: systemActor,
					Metadata:   row.Details,
					CreatedAt:  row.LastEvaluatedAt,
				}
			}
			return e.deps.ActivityLog.InsertActivity(ctx, entries)
		})
	}

	effects.Attempt(ctx, "insert_snapshot", func(ctx context.Context) error {
		return e.deps.Evaluations.InsertSnapshot(ctx, &models.FrameworkSnapshotRecord{
			OrgID:               orgID,
			ControlKey:          models.SnapshotKey(framework.Code, result.EvaluatedAt),
			Status:              result.Status,
			FrameworkID:         framework.ID,
			ComplianceScore:     result.Score,
			TotalControls:       result.TotalControls,
			SatisfiedControls:   result.CompliantCount,
			MissingControls:     result.NonCompliantCount,
			MissingControlCodes: result.MissingMandatoryCodes,
			PartialControlCodes: result.PartialCodes,
			SnapshotHash:        result.SnapshotHash,
			EvaluatedAt:         result.EvaluatedAt,
			Details: map[string]any{
				"framework_code":          framework.Code,
				"missing_mandatory_codes": result.MissingMandatoryCodes,
			},
		})
	})

	effects.Attempt(ctx, "upsert_status_rollup", func(ctx context.Context) error {
		return e.deps.Evaluations.UpsertStatusRollup(ctx, &models.ComplianceStatusRollup{
			OrgID:               orgID,
			LastFrameworkCode:   framework.Code,
			LastScore:           result.Score,
			LastTotalControls:   result.TotalControls,
			LastMissingControls: result.NonCompliantCount,
			LastPartialControls: result.AtRiskCount,
			LastEvaluatedAt:     result.EvaluatedAt,
		})
	})

	effects.Attempt(ctx, "refresh_blocks", func(ctx context.Context) error {
		_, err := e.RefreshComplianceBlocks(ctx, orgID, framework.Code, result.MissingMandatoryCodes)
		return err
	})

	if e.deps.Audit != nil {
		effects.Attempt(ctx, "audit_framework_evaluated", func(ctx context.Context) error {
			entityID := framework.ID.String()
			return e.deps.Audit.LogAuditEvent(ctx, models.AuditEvent{
				OrganizationID: orgID,
				ActorRole:      systemActor,
				EntityType:     "framework",
				EntityID:       &entityID,
				ActionType:     "FRAMEWORK_EVALUATED",
				AfterState: map[string]any{
					"frameworkCode":    framework.Code,
					"score":            result.Score,
					"totalControls":    result.TotalControls,
					"missingMandatory": len(result.MissingMandatoryCodes),
					"correlation_id":   result.CorrelationID,
				},
				Reason:    "evaluation",
				CreatedAt: result.EvaluatedAt,
			})
		})
	}

	if e.deps.Cache != nil {
		effects.Attempt(ctx, "invalidate_snapshot_cache", func(ctx context.Context) error {
			return e.deps.Cache.InvalidateSnapshot(ctx, orgID)
		})
	}

	if e.deps.Events != nil {
		effects.Attempt(ctx, "publish_evaluation_completed", func(ctx context.Context) error {
			event := models.NewComplianceEvent(models.EventEvaluationCompleted, orgID)
			event.FrameworkCode = framework.Code
			score := result.Score
			event.Score = &score
			event.Status = string(result.Status)
			event.CorrelationID = result.CorrelationID
			event.Metadata = map[string]any{
				"total_controls":          result.TotalControls,
				"missing_mandatory_codes": result.MissingMandatoryCodes,
				"snapshot_hash":           result.SnapshotHash,
			}
			return e.deps.Events.PublishComplianceEvent(ctx, event)
		})
	}
}

func (e *Evaluator) listControls(ctx context.Context, frameworkID uuid.UUID) ([]models.ComplianceControl, error) {
	schema := models.ControlsSchemaModern
	if e.deps.Schema != nil {
		detected, err := e.deps.Schema.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to detect controls schema: %w", err)
		}
		schema = detected
	}
	return e.deps.Compliance.ListControls(ctx, schema, frameworkID)
}

// serialize takes the per-(org, framework) evaluation lock. When the lock stays
// held past the wait budget the evaluation proceeds and the last write wins.
func (e *Evaluator) serialize(ctx context.Context, orgID, frameworkCode string, log *logger.Logger) func() {
	noop := func() {}
	if !e.cfg.Serialize || e.deps.Locker == nil {
		return noop
	}

	key := "evaluation:" + orgID + ":" + frameworkCode
	ttl := e.cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	wait := e.cfg.LockWait
	if wait <= 0 || wait > ttl {
		wait = ttl
	}

	deadline := time.Now().Add(wait)
	backoff := 25 * time.Millisecond
	for {
		token, ok, err := e.deps.Locker.AcquireLock(ctx, key, ttl)
		if err != nil {
			log.Warn().Err(err).Msg("evaluation lock unavailable, proceeding unserialized")
			return noop
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				if err := e.deps.Locker.ReleaseLock(releaseCtx, key, token); err != nil {
					log.Warn().Err(err).Msg("failed to release evaluation lock")
				}
			}
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("waited", wait).Msg("evaluation lock still held, proceeding")
			return noop
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return noop
		case <-timer.C:
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func evaluationDetails(framework *models.ComplianceFramework, out ControlOutcome) map[string]any {
	return map[string]any{
		"control_id":              out.ControlID.String(),
		"framework_id":            framework.ID.String(),
		"framework_code":          framework.Code,
		"code":                    out.Code,
		"title":                   out.Title,
		"category":                out.Category,
		"risk_level":              string(out.RiskLevel),
		"weight":                  out.Weight,
		"required_evidence_count": out.RequiredEvidence,
		"approved_evidence_count": out.ApprovedEvidenceCount,
		"pending_evidence_count":  out.PendingEvidenceCount,
		"rejected_evidence_count": out.RejectedEvidenceCount,
		"open_task_count":         out.OpenTaskCount,
		"overdue_task_count":      out.OverdueTaskCount,
	}
}

func snapshotStatus(score int) models.ControlStatus {
	switch {
	case score == 100:
		return models.StatusCompliant
	case score >= 80:
		return models.StatusAtRisk
	default:
		return models.StatusNonCompliant
	}
}
