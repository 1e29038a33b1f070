package services

import (
	"context"
	"errors"
	"fmt"

	"formaos-compliance/internal/domain/models"
)

const maxBlockMissingCodes = 50

// BlockRefresh summarizes what a block refresh changed
type BlockRefresh struct {
	FrameworkCode string           `json:"frameworkCode"`
	Created       []models.GateKey `json:"created"`
	Resolved      int              `json:"resolved"`
}

// RefreshComplianceBlocks opens a block on every gate a framework's mandatory gaps hold
// (skipping gates that already have an open block) or resolves those blocks when no
// mandatory codes are missing. Activity and audit writes are best-effort.
func (e *Evaluator) RefreshComplianceBlocks(ctx context.Context, orgID, frameworkCode string, missingCodes []string) (*BlockRefresh, error) {
	if e.deps.Blocks == nil {
		return nil, errors.New("block store not configured")
	}
	log := e.logger.WithOrganization(orgID).WithFramework(frameworkCode)
	gates := models.GateKeysFor(frameworkCode)
	refresh := &BlockRefresh{FrameworkCode: frameworkCode, Created: []models.GateKey{}}
	now := e.now().UTC()

	if len(missingCodes) > 0 {
		listed := missingCodes
		if len(listed) > maxBlockMissingCodes {
			listed = listed[:maxBlockMissingCodes]
		}
		reason := fmt.Sprintf("%d mandatory controls missing required evidence or remediation.", len(missingCodes))

		for _, gate := range gates {
			open, err := e.deps.Blocks.HasOpenBlock(ctx, orgID, gate)
			if err != nil {
				return refresh, fmt.Errorf("failed to check open block %s: %w", gate, err)
			}
			if open {
				continue
			}
			err = e.deps.Blocks.CreateBlock(ctx, &models.ComplianceBlock{
				OrgID:   orgID,
				GateKey: gate,
				Reason:  reason,
				Metadata: map[string]any{
					"framework":    frameworkCode,
					"missingCodes": listed,
				},
				CreatedAt: now,
			})
			if err != nil {
				return refresh, fmt.Errorf("failed to create block %s: %w", gate, err)
			}
			refresh.Created = append(refresh.Created, gate)
		}
	} else {
		resolved, err := e.deps.Blocks.ResolveOpenBlocks(ctx, orgID, gates, now)
		if err != nil {
			return refresh, fmt.Errorf("failed to resolve blocks: %w", err)
		}
		refresh.Resolved = resolved

		if err := e.activity.log(ctx, orgID, "compliance_resolved",
			"Resolved compliance blocks for "+frameworkCode,
			map[string]any{"frameworkCode": frameworkCode}); err != nil {
			log.Warn().Err(err).Msg("failed to log compliance resolution")
		}
	}

	if err := e.activity.log(ctx, orgID, "control_evaluated",
		"Compliance blocks refreshed for "+frameworkCode,
		map[string]any{"frameworkCode": frameworkCode, "missingMandatoryCount": len(missingCodes)}); err != nil {
		log.Warn().Err(err).Msg("failed to log block refresh")
	}

	if e.deps.Audit != nil {
		action := "COMPLIANCE_BLOCK_RESOLVED"
		if len(missingCodes) > 0 {
			action = "COMPLIANCE_BLOCK_CREATED"
		}
		err := e.deps.Audit.LogAuditEvent(ctx, models.AuditEvent{
			OrganizationID: orgID,
			ActorRole:      systemActor,
			EntityType:     "compliance_block",
			ActionType:     action,
			AfterState: map[string]any{
				"frameworkCode":         frameworkCode,
				"missingMandatoryCount": len(missingCodes),
			},
			Reason:    "automated_enforcement",
			CreatedAt: now,
		})
		if err != nil {
			log.Warn().Err(err).Str("action", action).Msg("failed to write block audit event")
		}
	}

	e.publishBlockEvent(ctx, orgID, refresh)

	log.Debug().
		Int("missing_mandatory", len(missingCodes)).
		Int("created", len(refresh.Created)).
		Int("resolved", refresh.Resolved).
		Msg("compliance blocks refreshed")

	return refresh, nil
}

func (e *Evaluator) publishBlockEvent(ctx context.Context, orgID string, refresh *BlockRefresh) {
	if e.deps.Events == nil {
		return
	}
	var event *models.ComplianceEvent
	switch {
	case len(refresh.Created) > 0:
		event = models.NewComplianceEvent(models.EventBlockCreated, orgID)
		event.GateKeys = refresh.Created
	case refresh.Resolved > 0:
		event = models.NewComplianceEvent(models.EventBlockResolved, orgID)
		event.Metadata = map[string]any{"resolved": refresh.Resolved}
	default:
		return
	}
	event.FrameworkCode = refresh.FrameworkCode
	if err := e.deps.Events.PublishComplianceEvent(ctx, event); err != nil {
		e.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to publish block event")
	}
}
