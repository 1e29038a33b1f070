package services

import (
	"math"
	"time"

	"github.com/google/uuid"

	"formaos-compliance/internal/domain/models"
)

// ControlInput is everything needed to derive one control's status
type ControlInput struct {
	Control  models.ComplianceControl
	Evidence []models.ControlEvidence
	Tasks    []models.Task
	// TaskEntityID is the first entity referenced by the control's task links
	TaskEntityID *string
	Now          time.Time
}

// ControlOutcome is the derived state of one control
type ControlOutcome struct {
	ControlID             uuid.UUID
	Code                  string
	Title                 string
	Category              string
	Status                models.ControlStatus
	RiskLevel             models.RiskLevel
	Mandatory             bool
	Weight                float64
	Multiplier            float64
	RequiredEvidence      int
	ApprovedEvidenceCount int
	PendingEvidenceCount  int
	RejectedEvidenceCount int
	OpenTaskCount         int
	OverdueTaskCount      int
	EvidenceSatisfied     bool
	EntityID              *string
}

// EvaluateControl applies the status decision table to one control
func EvaluateControl(in ControlInput) ControlOutcome {
	c := in.Control
	out := ControlOutcome{
		ControlID:        c.ID,
		Code:             c.Code,
		Title:            c.Title,
		Category:         c.CategoryName(),
		RiskLevel:        c.RiskLevel,
		Mandatory:        c.IsMandatory == nil || *c.IsMandatory,
		Weight:           1,
		RequiredEvidence: 1,
	}
	if out.RiskLevel == "" {
		out.RiskLevel = models.RiskMedium
	}
	if c.Weight != nil {
		out.Weight = *c.Weight
	}
	if c.RequiredEvidenceCount != nil {
		out.RequiredEvidence = *c.RequiredEvidenceCount
	}
	out.Multiplier = out.RiskLevel.Multiplier()

	for _, e := range in.Evidence {
		switch e.Status {
		case models.EvidenceApproved:
			out.ApprovedEvidenceCount++
		case models.EvidenceRejected:
			out.RejectedEvidenceCount++
		case models.EvidencePending, "":
			out.PendingEvidenceCount++
		}
		if out.EntityID == nil && e.EntityID != nil && *e.EntityID != "" {
			out.EntityID = e.EntityID
		}
	}
	if out.EntityID == nil {
		out.EntityID = in.TaskEntityID
	}

	for _, t := range in.Tasks {
		if !t.IsComplete() {
			out.OpenTaskCount++
		}
		if t.IsOverdue(in.Now) {
			out.OverdueTaskCount++
		}
	}

	out.EvidenceSatisfied = out.RequiredEvidence <= 0 || out.ApprovedEvidenceCount >= out.RequiredEvidence

	switch {
	case !out.Mandatory:
		out.Status = models.StatusNotApplicable
	case out.EvidenceSatisfied && out.OpenTaskCount == 0:
		out.Status = models.StatusCompliant
	case out.OverdueTaskCount > 0:
		out.Status = models.StatusNonCompliant
	case !out.EvidenceSatisfied && out.RiskLevel.IsElevated():
		out.Status = models.StatusNonCompliant
	default:
		out.Status = models.StatusAtRisk
	}

	return out
}

// Counted reports whether the outcome participates in weighted scores
func (o ControlOutcome) Counted() bool {
	return o.Status != models.StatusNotApplicable
}

// EffectiveWeight is weight times risk multiplier, zero when not counted
func (o ControlOutcome) EffectiveWeight() float64 {
	if !o.Counted() {
		return 0
	}
	return o.Weight * o.Multiplier
}

// ComplianceContribution is the weighted compliance numerator
func (o ControlOutcome) ComplianceContribution() float64 {
	return o.EffectiveWeight() * StatusScore(o.Status)
}

// RiskContribution is the weighted risk numerator
func (o ControlOutcome) RiskContribution() float64 {
	return o.EffectiveWeight() * StatusRisk(o.Status)
}

// StatusScore maps compliant to 1, at_risk to 0.5, everything else to 0
func StatusScore(s models.ControlStatus) float64 {
	switch s {
	case models.StatusCompliant:
		return 1
	case models.StatusAtRisk:
		return 0.5
	default:
		return 0
	}
}

// StatusRisk maps non_compliant to 1, at_risk to 0.5, everything else to 0
func StatusRisk(s models.ControlStatus) float64 {
	switch s {
	case models.StatusNonCompliant:
		return 1
	case models.StatusAtRisk:
		return 0.5
	default:
		return 0
	}
}

// tally accumulates outcomes into weighted totals and status counts
type tally struct {
	weight        float64
	score         float64
	risk          float64
	compliant     int
	atRisk        int
	nonCompliant  int
	notApplicable int
}

func (t *tally) add(o ControlOutcome) {
	t.weight += o.EffectiveWeight()
	t.score += o.ComplianceContribution()
	t.risk += o.RiskContribution()
	switch o.Status {
	case models.StatusCompliant:
		t.compliant++
	case models.StatusAtRisk:
		t.atRisk++
	case models.StatusNonCompliant:
		t.nonCompliant++
	case models.StatusNotApplicable:
		t.notApplicable++
	}
}

func (t *tally) scorePct() int {
	return percentOf(t.score, t.weight)
}

func (t *tally) riskPct() int {
	return percentOf(t.risk, t.weight)
}

func percentOf(num, den float64) int {
	if den <= 0 {
		return 0
	}
	return roundHalfUp(num / den * 100)
}

// roundHalfUp rounds .5 toward positive infinity
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
