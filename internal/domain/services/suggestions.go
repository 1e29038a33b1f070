package services

import (
	"strings"

	"formaos-compliance/internal/domain/models"
)

// EvidenceSuggestions are the defaults a control brings into provisioning
type EvidenceSuggestions struct {
	EvidenceTypes      []string              `json:"evidenceTypes"`
	TaskTemplates      []models.TaskTemplate `json:"taskTemplates"`
	AutomationTriggers []string              `json:"automationTriggers"`
	ReviewCadenceDays  int                   `json:"reviewCadenceDays"`
}

const defaultTemplateDescription = "Define and implement required control activities."

var (
	evidenceByRisk = map[models.RiskLevel][]string{
		models.RiskLow:      {"Policy"},
		models.RiskMedium:   {"Policy", "Procedure or record"},
		models.RiskHigh:     {"Policy", "Technical evidence"},
		models.RiskCritical: {"Policy", "Technical evidence", "Incident or exception log"},
	}

	triggersByRisk = map[models.RiskLevel][]string{
		models.RiskLow:      {"review_due"},
		models.RiskMedium:   {"review_due", "task_overdue"},
		models.RiskHigh:     {"control_failed", "review_due"},
		models.RiskCritical: {"control_failed", "task_overdue"},
	}

	cadenceByRisk = map[models.RiskLevel]int{
		models.RiskCritical: 60,
		models.RiskHigh:     90,
		models.RiskMedium:   180,
		models.RiskLow:      365,
	}
)

// ResolveEvidenceSuggestions returns the control's own suggestions, filling gaps
// from the risk tier tables
func ResolveEvidenceSuggestions(control models.CatalogControl) EvidenceSuggestions {
	risk := models.ParseRiskLevelPtr(control.DefaultRiskLevel)

	out := EvidenceSuggestions{
		EvidenceTypes:      nonEmptyStrings(control.SuggestedEvidenceTypes),
		AutomationTriggers: nonEmptyStrings(control.SuggestedAutomationTriggers),
		TaskTemplates:      usableTemplates(control.SuggestedTaskTemplates),
	}

	if len(out.EvidenceTypes) == 0 {
		out.EvidenceTypes = cloneStrings(evidenceByRisk[risk])
	}
	if len(out.AutomationTriggers) == 0 {
		out.AutomationTriggers = cloneStrings(triggersByRisk[risk])
	}
	if len(out.TaskTemplates) == 0 {
		description := defaultTemplateDescription
		if control.SummaryDescription != nil && strings.TrimSpace(*control.SummaryDescription) != "" {
			description = *control.SummaryDescription
		}
		out.TaskTemplates = []models.TaskTemplate{{
			Title:       "Implement " + control.Title,
			Description: description,
			Priority:    "medium",
		}}
	}

	if control.ReviewFrequencyDays != nil && *control.ReviewFrequencyDays > 0 {
		out.ReviewCadenceDays = *control.ReviewFrequencyDays
	} else {
		out.ReviewCadenceDays = cadenceByRisk[risk]
	}

	return out
}

// FallbackSuggestions is used for org controls with no catalog source
func FallbackSuggestions(control models.ComplianceControl) EvidenceSuggestions {
	description := defaultTemplateDescription
	if control.Description != nil {
		description = *control.Description
	}
	return EvidenceSuggestions{
		EvidenceTypes:      []string{},
		AutomationTriggers: []string{},
		ReviewCadenceDays:  90,
		TaskTemplates: []models.TaskTemplate{{
			Title:       "Implement " + control.Title,
			Description: description,
			Priority:    "medium",
		}},
	}
}

func nonEmptyStrings(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func usableTemplates(templates []models.TaskTemplate) []models.TaskTemplate {
	var out []models.TaskTemplate
	for _, t := range templates {
		if strings.TrimSpace(t.Title) != "" {
			out = append(out, t)
		}
	}
	return out
}

func cloneStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}
