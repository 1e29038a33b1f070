package models

import (
	"time"

	"github.com/google/uuid"
)

// ControlStatus is the derived compliance state of a control
type ControlStatus string

const (
	StatusCompliant     ControlStatus = "compliant"
	StatusAtRisk        ControlStatus = "at_risk"
	StatusNonCompliant  ControlStatus = "non_compliant"
	StatusNotApplicable ControlStatus = "not_applicable"
)

// Control types stored in org_control_evaluations
const (
	ControlTypeFrameworkControl  = "framework_control"
	ControlTypeFrameworkSnapshot = "framework_snapshot"
)

// ControlEvaluationKey is the natural key of a per-control evaluation row
func ControlEvaluationKey(controlID uuid.UUID) string {
	return "control:" + controlID.String()
}

// EvaluationTimeLayout renders evaluation timestamps with millisecond precision in UTC
const EvaluationTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatEvaluatedAt renders t the way snapshot keys and hashes expect it
func FormatEvaluatedAt(t time.Time) string {
	return t.UTC().Format(EvaluationTimeLayout)
}

// SnapshotKey is the time-suffixed key of a framework snapshot row
func SnapshotKey(frameworkCode string, evaluatedAt time.Time) string {
	return "framework:" + frameworkCode + ":" + FormatEvaluatedAt(evaluatedAt)
}

// ControlEvaluation is the persisted outcome of evaluating one control
type ControlEvaluation struct {
	OrgID           string         `json:"organization_id" db:"organization_id"`
	EntityID        *string        `json:"entity_id,omitempty" db:"entity_id"`
	ControlType     string         `json:"control_type" db:"control_type"`
	ControlKey      string         `json:"control_key" db:"control_key"`
	Required        bool           `json:"required" db:"required"`
	Status          ControlStatus  `json:"status" db:"status"`
	LastEvaluatedAt time.Time      `json:"last_evaluated_at" db:"last_evaluated_at"`
	FrameworkID     *uuid.UUID     `json:"framework_id,omitempty" db:"framework_id"`
	Details         map[string]any `json:"details,omitempty" db:"details"`
}

// FrameworkSnapshotRecord aggregates one framework evaluation run into a single row
type FrameworkSnapshotRecord struct {
	OrgID               string         `json:"organization_id" db:"organization_id"`
	ControlKey          string         `json:"control_key" db:"control_key"`
	Status              ControlStatus  `json:"status" db:"status"`
	FrameworkID         uuid.UUID      `json:"framework_id" db:"framework_id"`
	ComplianceScore     int            `json:"compliance_score" db:"compliance_score"`
	TotalControls       int            `json:"total_controls" db:"total_controls"`
	SatisfiedControls   int            `json:"satisfied_controls" db:"satisfied_controls"`
	MissingControls     int            `json:"missing_controls" db:"missing_controls"`
	MissingControlCodes []string       `json:"missing_control_codes" db:"missing_control_codes"`
	PartialControlCodes []string       `json:"partial_control_codes" db:"partial_control_codes"`
	SnapshotHash        string         `json:"snapshot_hash" db:"snapshot_hash"`
	EvaluatedAt         time.Time      `json:"evaluated_at" db:"evaluated_at"`
	Details             map[string]any `json:"details,omitempty" db:"details"`
}

// SnapshotPoint is the slice of a snapshot row needed for trend analysis
type SnapshotPoint struct {
	FrameworkID     *uuid.UUID `json:"framework_id,omitempty"`
	ComplianceScore int        `json:"compliance_score"`
	EvaluatedAt     time.Time  `json:"evaluated_at"`
}

// ComplianceStatusRollup is the organization-level latest-evaluation row
type ComplianceStatusRollup struct {
	OrgID               string    `json:"organization_id" db:"organization_id"`
	LastFrameworkCode   string    `json:"last_framework_code" db:"last_framework_code"`
	LastScore           int       `json:"last_score" db:"last_score"`
	LastTotalControls   int       `json:"last_total_controls" db:"last_total_controls"`
	LastMissingControls int       `json:"last_missing_controls" db:"last_missing_controls"`
	LastPartialControls int       `json:"last_partial_controls" db:"last_partial_controls"`
	LastEvaluatedAt     time.Time `json:"last_evaluated_at" db:"last_evaluated_at"`
}

// StepOutcome records how one best-effort side effect went
type StepOutcome struct {
	Step     string        `json:"step"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// EvaluationResult is returned from a framework evaluation run
type EvaluationResult struct {
	FrameworkID           uuid.UUID     `json:"frameworkId"`
	FrameworkCode         string        `json:"frameworkCode"`
	Score                 int           `json:"score"`
	Status                ControlStatus `json:"status"`
	MissingMandatoryCodes []string      `json:"missingMandatoryCodes"`
	PartialCodes          []string      `json:"partialCodes"`
	TotalControls         int           `json:"totalControls"`
	CompliantCount        int           `json:"compliantCount"`
	AtRiskCount           int           `json:"atRiskCount"`
	NonCompliantCount     int           `json:"nonCompliantCount"`
	NotApplicableCount    int           `json:"notApplicableCount"`
	SnapshotHash          string        `json:"snapshotHash"`
	EvaluatedAt           time.Time     `json:"evaluatedAt"`
	CorrelationID         string        `json:"correlationId"`
	SideEffects           []StepOutcome `json:"sideEffects,omitempty"`
}
