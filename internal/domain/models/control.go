package models

import (
	"strings"

	"github.com/google/uuid"
)

// RiskLevel is the coarse severity tier of a control
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ParseRiskLevel normalizes a free-text risk tier; unknown values are medium
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return RiskCritical
	case "high":
		return RiskHigh
	case "low":
		return RiskLow
	default:
		return RiskMedium
	}
}

// ParseRiskLevelPtr is ParseRiskLevel for optional catalog fields
func ParseRiskLevelPtr(s *string) RiskLevel {
	if s == nil {
		return RiskMedium
	}
	return ParseRiskLevel(*s)
}

func (r RiskLevel) String() string {
	return string(r)
}

// Multiplier is the scoring weight applied for the tier
func (r RiskLevel) Multiplier() float64 {
	switch r {
	case RiskCritical:
		return 1.4
	case RiskHigh:
		return 1.2
	case RiskLow:
		return 0.8
	default:
		return 1
	}
}

// Rank orders tiers for sorting: critical > high > everything else
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	default:
		return 1
	}
}

// IsElevated reports whether the tier is high or critical
func (r RiskLevel) IsElevated() bool {
	return r == RiskHigh || r == RiskCritical
}

// RiskLevelFromWeight converts the legacy numeric risk_weight column
func RiskLevelFromWeight(weight float64) RiskLevel {
	switch {
	case weight >= 7:
		return RiskCritical
	case weight >= 5:
		return RiskHigh
	case weight <= 1:
		return RiskLow
	default:
		return RiskMedium
	}
}

// WeightFromRiskLevel converts a tier back to the legacy numeric representation
func WeightFromRiskLevel(r RiskLevel) float64 {
	switch r {
	case RiskCritical:
		return 8
	case RiskHigh:
		return 5
	case RiskLow:
		return 1
	default:
		return 3
	}
}

// ControlsSchema identifies which on-disk layout compliance_controls uses
type ControlsSchema string

const (
	// ControlsSchemaLegacy stores risk as a numeric risk_weight column
	ControlsSchemaLegacy ControlsSchema = "legacy"
	// ControlsSchemaModern stores risk as a risk_level enum column
	ControlsSchemaModern ControlsSchema = "modern"
)

// ComplianceFramework is the organization-facing framework row
type ComplianceFramework struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Code        string    `json:"code" db:"code"`
	Title       string    `json:"title" db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
}

// DisplayTitle falls back to the code when no title is stored
func (f ComplianceFramework) DisplayTitle() string {
	if f.Title != "" {
		return f.Title
	}
	return f.Code
}

// ComplianceControl is the organization-applicable projection of a catalog control.
// Risk is always held as RiskLevel regardless of the on-disk schema.
type ComplianceControl struct {
	ID                    uuid.UUID  `json:"id" db:"id"`
	FrameworkID           uuid.UUID  `json:"framework_id" db:"framework_id"`
	Code                  string     `json:"code" db:"code"`
	Title                 string     `json:"title" db:"title"`
	Description           *string    `json:"description,omitempty" db:"description"`
	Category              *string    `json:"category,omitempty" db:"category"`
	RiskLevel             RiskLevel  `json:"risk_level" db:"risk_level"`
	Weight                *float64   `json:"weight,omitempty" db:"weight"`
	RequiredEvidenceCount *int       `json:"required_evidence_count,omitempty" db:"required_evidence_count"`
	IsMandatory           *bool      `json:"is_mandatory,omitempty" db:"is_mandatory"`
	FrameworkControlID    *uuid.UUID `json:"framework_control_id,omitempty" db:"framework_control_id"`
}

// CategoryName returns the control category, defaulting to General
func (c ComplianceControl) CategoryName() string {
	if c.Category == nil || strings.TrimSpace(*c.Category) == "" {
		return "General"
	}
	return *c.Category
}

// ComplianceControlSync is the projection written when syncing the catalog
// into the organization-facing control table
type ComplianceControlSync struct {
	FrameworkID        uuid.UUID
	FrameworkControlID uuid.UUID
	Code               string
	Title              string
	Description        *string
	Category           string
	RiskLevel          RiskLevel
}
