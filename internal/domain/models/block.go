package models

import (
	"time"

	"github.com/google/uuid"
)

// GateKey names a platform action that can be blocked by compliance gaps
type GateKey string

const (
	GateAuditExport GateKey = "AUDIT_EXPORT"
	GateCertReport  GateKey = "CERT_REPORT"
)

var frameworkGates = map[string]GateKey{
	"ISO27001": "FRAMEWORK_ISO27001",
	"SOC2":     "FRAMEWORK_SOC2",
	"HIPAA":    "FRAMEWORK_HIPAA",
	"NDIS":     "FRAMEWORK_NDIS",
}

// FrameworkGate returns the framework-specific gate, if the framework has one
func FrameworkGate(frameworkCode string) (GateKey, bool) {
	gate, ok := frameworkGates[frameworkCode]
	return gate, ok
}

// GateKeysFor lists every gate a framework's mandatory gaps can hold open
func GateKeysFor(frameworkCode string) []GateKey {
	keys := []GateKey{GateAuditExport, GateCertReport}
	if gate, ok := FrameworkGate(frameworkCode); ok {
		keys = append(keys, gate)
	}
	return keys
}

// ComplianceBlock is an open or resolved enforcement gate for an organization
type ComplianceBlock struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	OrgID      string         `json:"organization_id" db:"organization_id"`
	GateKey    GateKey        `json:"gate_key" db:"gate_key"`
	Reason     string         `json:"reason" db:"reason"`
	CreatedBy  *string        `json:"created_by,omitempty" db:"created_by"`
	Metadata   map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsOpen reports whether the block has not been resolved
func (b ComplianceBlock) IsOpen() bool {
	return b.ResolvedAt == nil
}

// AuditEvent is a structured audit log entry
type AuditEvent struct {
	OrganizationID string         `json:"organization_id"`
	ActorUserID    *string        `json:"actor_user_id,omitempty"`
	ActorRole      string         `json:"actor_role"`
	EntityType     string         `json:"entity_type"`
	EntityID       *string        `json:"entity_id,omitempty"`
	ActionType     string         `json:"action_type"`
	AfterState     map[string]any `json:"after_state,omitempty"`
	Reason         string         `json:"reason"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ActivityEntry is a row in the organization activity log
type ActivityEntry struct {
	OrgID      string         `json:"organization_id"`
	Action     string         `json:"action"`
	Target     string         `json:"target"`
	ActorEmail string         `json:"actor_email,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
