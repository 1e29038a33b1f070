package models

import (
	"time"

	"github.com/google/uuid"
)

// ComplianceEventType identifies a compliance state change broadcast to subscribers
type ComplianceEventType string

const (
	EventEvaluationCompleted ComplianceEventType = "evaluation_completed"
	EventBlockCreated        ComplianceEventType = "block_created"
	EventBlockResolved       ComplianceEventType = "block_resolved"
	EventFrameworkEnabled    ComplianceEventType = "framework_enabled"
	EventFrameworkProvision  ComplianceEventType = "framework_provisioned"
	EventPackLoaded          ComplianceEventType = "pack_loaded"
)

// ComplianceEvent is published on the event bus and pushed to dashboard clients
type ComplianceEvent struct {
	ID            string              `json:"id"`
	Type          ComplianceEventType `json:"type"`
	Timestamp     time.Time           `json:"timestamp"`
	OrgID         string              `json:"org_id,omitempty"`
	FrameworkCode string              `json:"framework_code,omitempty"`
	FrameworkSlug string              `json:"framework_slug,omitempty"`
	Score         *int                `json:"score,omitempty"`
	Status        string              `json:"status,omitempty"`
	GateKeys      []GateKey           `json:"gate_keys,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
}

// NewComplianceEvent stamps a fresh event of the given type
func NewComplianceEvent(eventType ComplianceEventType, orgID string) *ComplianceEvent {
	return &ComplianceEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		OrgID:     orgID,
	}
}
