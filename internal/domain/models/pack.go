package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FrameworkPack is the declarative definition of a framework and its controls.
// It is accepted as JSON or YAML with the same field names.
type FrameworkPack struct {
	Framework *PackFramework `json:"framework" yaml:"framework"`
	Domains   []PackDomain   `json:"domains,omitempty" yaml:"domains,omitempty"`
	Controls  []PackControl  `json:"controls,omitempty" yaml:"controls,omitempty"`
	Mappings  []PackMapping  `json:"mappings,omitempty" yaml:"mappings,omitempty"`
}

// PackFramework is the framework metadata block of a pack
type PackFramework struct {
	Name        string  `json:"name" yaml:"name"`
	Slug        string  `json:"slug" yaml:"slug"`
	Version     *string `json:"version,omitempty" yaml:"version,omitempty"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

// PackDomain declares a control domain
type PackDomain struct {
	Name        string  `json:"name" yaml:"name"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	SortOrder   PackInt `json:"sort_order,omitempty" yaml:"sort_order,omitempty"`
	Key         string  `json:"key,omitempty" yaml:"key,omitempty"`
}

// PackControl declares one catalog control
type PackControl struct {
	ControlCode                 string         `json:"control_code" yaml:"control_code"`
	Title                       string         `json:"title" yaml:"title"`
	SummaryDescription          *string        `json:"summary_description,omitempty" yaml:"summary_description,omitempty"`
	ImplementationGuidance      *string        `json:"implementation_guidance,omitempty" yaml:"implementation_guidance,omitempty"`
	DefaultRiskLevel            *string        `json:"default_risk_level,omitempty" yaml:"default_risk_level,omitempty"`
	ReviewFrequencyDays         PackInt        `json:"review_frequency_days,omitempty" yaml:"review_frequency_days,omitempty"`
	Domain                      string         `json:"domain,omitempty" yaml:"domain,omitempty"`
	DomainKey                   string         `json:"domain_key,omitempty" yaml:"domain_key,omitempty"`
	DomainID                    string         `json:"domain_id,omitempty" yaml:"domain_id,omitempty"`
	SuggestedEvidenceTypes      []string       `json:"suggested_evidence_types,omitempty" yaml:"suggested_evidence_types,omitempty"`
	SuggestedAutomationTriggers []string       `json:"suggested_automation_triggers,omitempty" yaml:"suggested_automation_triggers,omitempty"`
	SuggestedTaskTemplates      []TaskTemplate `json:"suggested_task_templates,omitempty" yaml:"suggested_task_templates,omitempty"`
}

// PackMapping links an internal control to an external framework reference
type PackMapping struct {
	InternalControlID        string `json:"internal_control_id,omitempty" yaml:"internal_control_id,omitempty"`
	InternalControlCode      string `json:"internal_control_code,omitempty" yaml:"internal_control_code,omitempty"`
	FrameworkSlug            string `json:"framework_slug" yaml:"framework_slug"`
	ExternalControlReference string `json:"external_control_reference" yaml:"external_control_reference"`
	MappingStrength          string `json:"mapping_strength,omitempty" yaml:"mapping_strength,omitempty"`
}

// LoadResult reports the outcome of loading one framework pack
type LoadResult struct {
	OK               bool     `json:"ok"`
	Error            string   `json:"error,omitempty"`
	FrameworkID      string   `json:"framework_id,omitempty"`
	FrameworkSlug    string   `json:"framework_slug,omitempty"`
	DomainsUpserted  int      `json:"domains_upserted"`
	ControlsUpserted int      `json:"controls_upserted"`
	MappingsUpserted int      `json:"mappings_upserted"`
	Warnings         []string `json:"warnings"`
}

// PackInt is an optional integer pack field. Numbers and numeric strings
// decode to a value; anything else decodes to unset and keeps the raw text
// in Raw so the loader can report it.
type PackInt struct {
	Value *int
	Raw   string
}

// PackIntOf returns a set PackInt
func PackIntOf(v int) PackInt {
	return PackInt{Value: &v}
}

// Invalid reports whether a value was given but could not be read as an integer
func (p PackInt) Invalid() bool {
	return p.Value == nil && p.Raw != ""
}

func (p *PackInt) parse(raw string) {
	*p = PackInt{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
		p.Raw = raw
		return
	}
	v := int(n)
	p.Value = &v
}

// UnmarshalJSON accepts numbers, numeric strings and null. Other values are
// recorded as invalid instead of failing the decode.
func (p *PackInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*p = PackInt{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		raw = s
	}
	p.parse(raw)
	return nil
}

// MarshalJSON writes the value or null
func (p PackInt) MarshalJSON() ([]byte, error) {
	if p.Value == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(*p.Value)), nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML scalars
func (p *PackInt) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		*p = PackInt{Raw: node.ShortTag()}
		return nil
	}
	if node.ShortTag() == "!!null" {
		*p = PackInt{}
		return nil
	}
	p.parse(node.Value)
	return nil
}

// MarshalYAML writes the value or null
func (p PackInt) MarshalYAML() (any, error) {
	if p.Value == nil {
		return nil, nil
	}
	return *p.Value, nil
}
