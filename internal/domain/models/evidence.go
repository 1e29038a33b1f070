package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EvidenceStatus is the approval state of an evidence artifact
type EvidenceStatus string

const (
	EvidencePending  EvidenceStatus = "pending"
	EvidenceApproved EvidenceStatus = "approved"
	EvidenceRejected EvidenceStatus = "rejected"
)

// ParseEvidenceStatus normalizes a stored status. A missing status is
// pending; unknown values are kept as-is and land in no count.
func ParseEvidenceStatus(s string) EvidenceStatus {
	status := strings.ToLower(strings.TrimSpace(s))
	if status == "" {
		return EvidencePending
	}
	return EvidenceStatus(status)
}

// ControlEvidence links an evidence artifact to a control for an organization
type ControlEvidence struct {
	ControlID  uuid.UUID      `json:"control_id" db:"control_id"`
	EvidenceID *uuid.UUID     `json:"evidence_id,omitempty" db:"evidence_id"`
	Status     EvidenceStatus `json:"status" db:"status"`
	CreatedAt  *time.Time     `json:"created_at,omitempty" db:"created_at"`
	EntityID   *string        `json:"entity_id,omitempty" db:"entity_id"`
}

// ControlTask joins a control to an organization task
type ControlTask struct {
	ControlID uuid.UUID `json:"control_id" db:"control_id"`
	TaskID    uuid.UUID `json:"task_id" db:"task_id"`
	EntityID  *string   `json:"entity_id,omitempty" db:"entity_id"`
}

// Task is an organization remediation task
type Task struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	OrgID       string     `json:"organization_id" db:"organization_id"`
	Title       string     `json:"title" db:"title"`
	Description *string    `json:"description,omitempty" db:"description"`
	Status      string     `json:"status" db:"status"`
	Priority    string     `json:"priority" db:"priority"`
	DueAt       *time.Time `json:"due_at,omitempty" db:"due_at"`
	DueDate     *string    `json:"due_date,omitempty" db:"due_date"` // free text, legacy
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsComplete reports whether the task status is completed or done
func (t Task) IsComplete() bool {
	status := strings.ToLower(strings.TrimSpace(t.Status))
	return status == "completed" || status == "done"
}

var dueDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Due returns the task deadline, preferring due_at over due_date.
// The second return is false when no parsable deadline exists.
func (t Task) Due() (time.Time, bool) {
	if t.DueAt != nil && !t.DueAt.IsZero() {
		return *t.DueAt, true
	}
	if t.DueDate == nil {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(*t.DueDate)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dueDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// IsOverdue reports whether an open task is past its deadline at now
func (t Task) IsOverdue(now time.Time) bool {
	if t.IsComplete() {
		return false
	}
	due, ok := t.Due()
	if !ok {
		return false
	}
	return due.Before(now)
}
