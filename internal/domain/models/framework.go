package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Framework is a named compliance standard in the control catalog
type Framework struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"` // iso27001, soc2, ...
	Version     *string   `json:"version,omitempty" db:"version"`
	Description *string   `json:"description,omitempty" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Domain groups controls within a framework
type Domain struct {
	ID          uuid.UUID `json:"id" db:"id"`
	FrameworkID uuid.UUID `json:"framework_id" db:"framework_id"`
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	SortOrder   int       `json:"sort_order" db:"sort_order"`
}

// TaskTemplate is a suggested remediation task for a control
type TaskTemplate struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    string `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// CatalogControl is a control definition within a framework domain
type CatalogControl struct {
	ID                          uuid.UUID      `json:"id" db:"id"`
	FrameworkID                 uuid.UUID      `json:"framework_id" db:"framework_id"`
	DomainID                    uuid.UUID      `json:"domain_id" db:"domain_id"`
	ControlCode                 string         `json:"control_code" db:"control_code"`
	Title                       string         `json:"title" db:"title"`
	SummaryDescription          *string        `json:"summary_description,omitempty" db:"summary_description"`
	ImplementationGuidance      *string        `json:"implementation_guidance,omitempty" db:"implementation_guidance"`
	DefaultRiskLevel            *string        `json:"default_risk_level,omitempty" db:"default_risk_level"`
	ReviewFrequencyDays         *int           `json:"review_frequency_days,omitempty" db:"review_frequency_days"`
	SuggestedEvidenceTypes      []string       `json:"suggested_evidence_types,omitempty" db:"suggested_evidence_types"`
	SuggestedAutomationTriggers []string       `json:"suggested_automation_triggers,omitempty" db:"suggested_automation_triggers"`
	SuggestedTaskTemplates      []TaskTemplate `json:"suggested_task_templates,omitempty" db:"suggested_task_templates"`

	// DomainName is populated on reads that join the domain
	DomainName string `json:"domain_name,omitempty" db:"-"`
}

// MappingStrength describes how closely an external control matches an internal one
type MappingStrength string

const (
	MappingStrengthPrimary   MappingStrength = "primary"
	MappingStrengthSecondary MappingStrength = "secondary"
)

// ParseMappingStrength normalizes anything other than primary to secondary
func ParseMappingStrength(s string) MappingStrength {
	if strings.EqualFold(strings.TrimSpace(s), string(MappingStrengthPrimary)) {
		return MappingStrengthPrimary
	}
	return MappingStrengthSecondary
}

// ControlMapping links an internal catalog control to an external framework reference
type ControlMapping struct {
	ID                       uuid.UUID       `json:"id" db:"id"`
	InternalControlID        uuid.UUID       `json:"internal_control_id" db:"internal_control_id"`
	FrameworkSlug            string          `json:"framework_slug" db:"framework_slug"`
	ExternalControlReference string          `json:"external_control_reference" db:"external_control_reference"`
	MappingStrength          MappingStrength `json:"mapping_strength" db:"mapping_strength"`
}

// OrgFramework marks a framework as enabled for an organization
type OrgFramework struct {
	OrgID         string    `json:"org_id" db:"org_id"`
	FrameworkSlug string    `json:"framework_slug" db:"framework_slug"`
	EnabledAt     time.Time `json:"enabled_at" db:"enabled_at"`
}

var slugCodes = map[string]string{
	"iso27001":  "ISO27001",
	"iso-27001": "ISO27001",
	"soc2":      "SOC2",
	"soc-2":     "SOC2",
	"hipaa":     "HIPAA",
	"ndis":      "NDIS",
	"gdpr":      "GDPR",
}

// FrameworkCodeForSlug maps a catalog slug to the organization-facing framework code
func FrameworkCodeForSlug(slug string) string {
	key := strings.ToLower(strings.TrimSpace(slug))
	if code, ok := slugCodes[key]; ok {
		return code
	}
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// RelatedControl is a control reachable from another through cross-framework mappings
type RelatedControl struct {
	FrameworkSlug string          `json:"framework_slug"`
	ControlCode   string          `json:"control_code"`
	Title         string          `json:"title,omitempty"`
	Via           string          `json:"via"`
	Strength      MappingStrength `json:"strength"`
}
