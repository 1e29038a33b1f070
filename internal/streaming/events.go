package streaming

import (
	"slices"
	"strings"

	"formaos-compliance/internal/domain/models"
)

// DefaultSubjectPrefix roots every compliance subject
const DefaultSubjectPrefix = "compliance"

// Subscription represents a client's subscription preferences
type Subscription struct {
	// Filter by organization (empty = all)
	OrgID string `json:"org_id,omitempty"`

	// Filter by event types (empty = all)
	Types []models.ComplianceEventType `json:"types,omitempty"`

	// Filter by framework codes (empty = all)
	FrameworkCodes []string `json:"framework_codes,omitempty"`
}

// Matches checks if an event matches the subscription filters
func (s *Subscription) Matches(event *models.ComplianceEvent) bool {
	if s == nil {
		return true
	}
	if s.OrgID != "" && s.OrgID != event.OrgID {
		return false
	}
	if len(s.Types) > 0 && !slices.Contains(s.Types, event.Type) {
		return false
	}
	if len(s.FrameworkCodes) > 0 && !slices.ContainsFunc(s.FrameworkCodes, func(code string) bool {
		return strings.EqualFold(code, event.FrameworkCode)
	}) {
		return false
	}
	return true
}

// Subject returns the NATS subject for an event.
// Subject hierarchy: <prefix>.<event_type>.<org>
// Example: compliance.evaluation_completed.org-123
func Subject(prefix string, event *models.ComplianceEvent) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	org := subjectToken(event.OrgID)
	if org == "" {
		org = "global"
	}
	return prefix + "." + string(event.Type) + "." + org
}

// SubscriptionSubject returns the subject filter for a subscription
func SubscriptionSubject(prefix string, sub *Subscription) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if sub == nil || sub.OrgID == "" {
		return prefix + ".>"
	}
	// type filtering happens in Matches
	return prefix + ".*." + subjectToken(sub.OrgID)
}

// subjectToken makes s safe as a single subject token
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
