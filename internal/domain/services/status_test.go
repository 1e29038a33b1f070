package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"formaos-compliance/internal/domain/models"
)

func evidenceWith(statuses ...models.EvidenceStatus) []models.ControlEvidence {
	out := make([]models.ControlEvidence, len(statuses))
	for i, s := range statuses {
		out[i] = models.ControlEvidence{Status: s}
	}
	return out
}

func TestEvaluateControl(t *testing.T) {
	now := fixedNow
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	openTask := models.Task{Status: "pending", DueAt: &future}
	overdueTask := models.Task{Status: "in_progress", DueAt: &past}
	doneOverdue := models.Task{Status: "done", DueAt: &past}
	noDue := models.Task{Status: "pending"}
	textDue := func(raw string) models.Task {
		return models.Task{Status: "pending", DueDate: &raw}
	}

	tests := []struct {
		name     string
		control  models.ComplianceControl
		evidence []models.ControlEvidence
		tasks    []models.Task
		want     models.ControlStatus
	}{
		{
			name:     "approved evidence and no tasks",
			control:  newControl("A.1", models.RiskMedium),
			evidence: evidenceWith(models.EvidenceApproved),
			want:     models.StatusCompliant,
		},
		{
			name:     "completed overdue task does not count",
			control:  newControl("A.2", models.RiskMedium),
			evidence: evidenceWith(models.EvidenceApproved),
			tasks:    []models.Task{doneOverdue},
			want:     models.StatusCompliant,
		},
		{
			name:     "satisfied evidence with open task",
			control:  newControl("A.3", models.RiskMedium),
			evidence: evidenceWith(models.EvidenceApproved),
			tasks:    []models.Task{openTask},
			want:     models.StatusAtRisk,
		},
		{
			name:     "overdue task forces non compliant",
			control:  newControl("A.4", models.RiskLow),
			evidence: evidenceWith(models.EvidenceApproved),
			tasks:    []models.Task{overdueTask},
			want:     models.StatusNonCompliant,
		},
		{
			name:     "task without due date is never overdue",
			control:  newControl("B.1", models.RiskLow),
			evidence: evidenceWith(models.EvidenceApproved),
			tasks:    []models.Task{noDue},
			want:     models.StatusAtRisk,
		},
		{
			name:     "unparsable due date is not overdue",
			control:  newControl("B.2", models.RiskLow),
			evidence: evidenceWith(models.EvidenceApproved),
			tasks:    []models.Task{textDue("next tuesday")},
			want:     models.StatusAtRisk,
		},
		{
			name:     "past text due date forces non compliant",
			control:  newControl("B.3", models.RiskLow),
			evidence: evidenceWith(models.EvidenceApproved),
			tasks:    []models.Task{textDue("2020-01-01")},
			want:     models.StatusNonCompliant,
		},
		{
			name:     "due_at takes precedence over due_date",
			control:  newControl("B.4", models.RiskLow),
			evidence: evidenceWith(models.EvidenceApproved),
			tasks: []models.Task{func() models.Task {
				task := textDue("2020-01-01")
				task.DueAt = &future
				return task
			}()},
			want: models.StatusAtRisk,
		},
		{
			name:    "missing evidence on high risk",
			control: newControl("A.5", models.RiskHigh),
			want:    models.StatusNonCompliant,
		},
		{
			name:     "pending evidence on critical risk",
			control:  newControl("A.6", models.RiskCritical),
			evidence: evidenceWith(models.EvidencePending),
			want:     models.StatusNonCompliant,
		},
		{
			name:     "missing evidence on medium risk",
			control:  newControl("A.7", models.RiskMedium),
			evidence: evidenceWith(models.EvidenceRejected),
			want:     models.StatusAtRisk,
		},
		{
			name: "zero required evidence",
			control: func() models.ComplianceControl {
				c := newControl("A.8", models.RiskHigh)
				c.RequiredEvidenceCount = ptr(0)
				return c
			}(),
			want: models.StatusCompliant,
		},
		{
			name: "optional control is not applicable",
			control: func() models.ComplianceControl {
				c := newControl("A.9", models.RiskCritical)
				c.IsMandatory = ptr(false)
				return c
			}(),
			tasks: []models.Task{overdueTask},
			want:  models.StatusNotApplicable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := EvaluateControl(ControlInput{
				Control:  tt.control,
				Evidence: tt.evidence,
				Tasks:    tt.tasks,
				Now:      now,
			})
			assert.Equal(t, tt.want, out.Status)
		})
	}
}

func TestEvaluateControlMonotonicity(t *testing.T) {
	c := newControl("M.1", models.RiskHigh)
	c.RequiredEvidenceCount = ptr(2)
	past := fixedNow.Add(-time.Hour)
	overdue := models.Task{Status: "pending", DueAt: &past}

	t.Run("meeting required evidence reaches compliant", func(t *testing.T) {
		var statuses []models.ControlStatus
		for approved := 0; approved <= 2; approved++ {
			ev := make([]models.EvidenceStatus, approved)
			for i := range ev {
				ev[i] = models.EvidenceApproved
			}
			out := EvaluateControl(ControlInput{Control: c, Evidence: evidenceWith(ev...), Now: fixedNow})
			statuses = append(statuses, out.Status)
		}
		assert.Equal(t, []models.ControlStatus{
			models.StatusNonCompliant,
			models.StatusNonCompliant,
			models.StatusCompliant,
		}, statuses)
	})

	t.Run("overdue wins over any evidence state", func(t *testing.T) {
		for _, ev := range [][]models.ControlEvidence{
			nil,
			evidenceWith(models.EvidenceApproved),
			evidenceWith(models.EvidenceApproved, models.EvidenceApproved, models.EvidenceApproved),
		} {
			out := EvaluateControl(ControlInput{Control: c, Evidence: ev, Tasks: []models.Task{overdue}, Now: fixedNow})
			assert.Equal(t, models.StatusNonCompliant, out.Status)
		}
	})
}

func TestEvaluateControlDefaults(t *testing.T) {
	c := models.ComplianceControl{Code: "D.1", Title: "Defaults"}
	entity := "entity-7"
	out := EvaluateControl(ControlInput{
		Control:      c,
		Evidence:     []models.ControlEvidence{{Status: models.EvidencePending}},
		TaskEntityID: &entity,
		Now:          fixedNow,
	})

	assert.Equal(t, models.RiskMedium, out.RiskLevel)
	assert.Equal(t, 1.0, out.Weight)
	assert.Equal(t, 1, out.RequiredEvidence)
	assert.True(t, out.Mandatory)
	assert.Equal(t, "General", out.Category)
	assert.Equal(t, 1, out.PendingEvidenceCount)
	if assert.NotNil(t, out.EntityID) {
		assert.Equal(t, "entity-7", *out.EntityID)
	}
}

func TestTally(t *testing.T) {
	t.Run("one compliant one non compliant scores 50", func(t *testing.T) {
		var tl tally
		tl.add(ControlOutcome{Status: models.StatusCompliant, Weight: 1, Multiplier: 1})
		tl.add(ControlOutcome{Status: models.StatusNonCompliant, Weight: 1, Multiplier: 1})
		assert.Equal(t, 50, tl.scorePct())
		assert.Equal(t, 50, tl.riskPct())
	})

	t.Run("not applicable is excluded from both sides", func(t *testing.T) {
		var with, without tally
		compliant := ControlOutcome{Status: models.StatusCompliant, Weight: 2, Multiplier: 1.2}
		atRisk := ControlOutcome{Status: models.StatusAtRisk, Weight: 1, Multiplier: 0.8}
		na := ControlOutcome{Status: models.StatusNotApplicable, Weight: 50, Multiplier: 1.4}

		without.add(compliant)
		without.add(atRisk)
		with.add(compliant)
		with.add(atRisk)
		with.add(na)

		assert.Equal(t, without.weight, with.weight)
		assert.Equal(t, without.scorePct(), with.scorePct())
		assert.Equal(t, without.riskPct(), with.riskPct())
		assert.Equal(t, 1, with.notApplicable)
	})

	t.Run("empty tally scores zero", func(t *testing.T) {
		var tl tally
		assert.Equal(t, 0, tl.scorePct())
	})
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, 3, roundHalfUp(2.5))
	assert.Equal(t, -2, roundHalfUp(-2.5))
	assert.Equal(t, 67, roundHalfUp(66.666))
	assert.Equal(t, 0, roundHalfUp(0.49))
}

func TestEvaluateControlUnknownEvidenceStatus(t *testing.T) {
	c := newControl("U.1", models.RiskMedium)
	out := EvaluateControl(ControlInput{
		Control:  c,
		Evidence: evidenceWith(models.EvidenceApproved, models.ParseEvidenceStatus("Submitted")),
		Now:      fixedNow,
	})

	assert.Equal(t, 1, out.ApprovedEvidenceCount)
	assert.Zero(t, out.PendingEvidenceCount)
	assert.Zero(t, out.RejectedEvidenceCount)
	assert.Equal(t, models.StatusCompliant, out.Status)
}
