package models

import "github.com/google/uuid"

// FrameworkScore is the per-framework slice of a compliance snapshot
type FrameworkScore struct {
	FrameworkID    uuid.UUID `json:"frameworkId"`
	FrameworkCode  string    `json:"frameworkCode"`
	FrameworkTitle string    `json:"frameworkTitle"`
	Score          int       `json:"score"`
	RiskScore      int       `json:"riskScore"`
	TotalControls  int       `json:"totalControls"`
	Compliant      int       `json:"compliant"`
	AtRisk         int       `json:"atRisk"`
	NonCompliant   int       `json:"nonCompliant"`
	NotApplicable  int       `json:"notApplicable"`
}

// CategoryScore is the per-category slice of a compliance snapshot.
// TotalControls carries the weighted control total, not a row count.
type CategoryScore struct {
	Category      string  `json:"category"`
	Score         int     `json:"score"`
	RiskScore     int     `json:"riskScore"`
	TotalControls float64 `json:"totalControls"`
	Compliant     int     `json:"compliant"`
	AtRisk        int     `json:"atRisk"`
	NonCompliant  int     `json:"nonCompliant"`
	NotApplicable int     `json:"notApplicable"`
}

// Violation is a mandatory control that is not compliant
type Violation struct {
	ControlID             uuid.UUID     `json:"controlId"`
	FrameworkID           uuid.UUID     `json:"frameworkId"`
	FrameworkCode         string        `json:"frameworkCode"`
	Code                  string        `json:"code"`
	Title                 string        `json:"title"`
	Status                ControlStatus `json:"status"`
	RiskLevel             RiskLevel     `json:"riskLevel"`
	Category              string        `json:"category"`
	EntityID              *string       `json:"entityId"`
	RequiredEvidenceCount int           `json:"requiredEvidenceCount"`
	ApprovedEvidenceCount int           `json:"approvedEvidenceCount"`
	PendingEvidenceCount  int           `json:"pendingEvidenceCount"`
	RejectedEvidenceCount int           `json:"rejectedEvidenceCount"`
	OpenTaskCount         int           `json:"openTaskCount"`
	OverdueTaskCount      int           `json:"overdueTaskCount"`
}

// HighRiskControl is a high or critical control that is not compliant
type HighRiskControl struct {
	ControlID     uuid.UUID     `json:"controlId"`
	FrameworkID   uuid.UUID     `json:"frameworkId"`
	FrameworkCode string        `json:"frameworkCode"`
	Code          string        `json:"code"`
	Title         string        `json:"title"`
	Status        ControlStatus `json:"status"`
	RiskLevel     RiskLevel     `json:"riskLevel"`
	Category      string        `json:"category"`
}

// EvidenceBacklog counts evidence still awaiting approval or resubmission
type EvidenceBacklog struct {
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// TaskBacklog counts open and overdue remediation tasks
type TaskBacklog struct {
	Open    int `json:"open"`
	Overdue int `json:"overdue"`
	Total   int `json:"total"`
}

// TrendDirection summarizes a delta for dashboards
type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// DirectionForDelta classifies a score delta with a +/-2 dead band
func DirectionForDelta(delta *int) TrendDirection {
	if delta == nil {
		return TrendStable
	}
	switch {
	case *delta > 2:
		return TrendUp
	case *delta < -2:
		return TrendDown
	default:
		return TrendStable
	}
}

// FrameworkDelta is the score change of one framework since the previous snapshot
type FrameworkDelta struct {
	FrameworkCode string         `json:"frameworkCode"`
	Delta         *int           `json:"delta"`
	Direction     TrendDirection `json:"direction"`
}

// Trend compares the latest snapshot with the one before it
type Trend struct {
	OverallDelta    *int             `json:"overallDelta"`
	FrameworkDeltas []FrameworkDelta `json:"frameworkDeltas"`
}

// Forecast bases
const (
	ForecastBasisVelocity     = "30_day_velocity_model"
	ForecastBasisInsufficient = "insufficient_data"
)

// Forecast projects the score from recent task completion velocity
type Forecast struct {
	ProjectedScoreIn21Days *int    `json:"projectedScoreIn21Days"`
	DaysToFullCompliance   *int    `json:"daysToFullCompliance"`
	VelocityPerDay         float64 `json:"velocityPerDay"`
	Basis                  string  `json:"basis"`
}

// ComplianceSnapshot is the read-only aggregate view of an organization
type ComplianceSnapshot struct {
	OverallScore       int               `json:"overallScore"`
	FrameworkBreakdown []FrameworkScore  `json:"frameworkBreakdown"`
	CategoryBreakdown  []CategoryScore   `json:"categoryBreakdown"`
	Trend              Trend             `json:"trend"`
	OpenViolations     []Violation       `json:"openViolations"`
	HighRiskControls   []HighRiskControl `json:"highRiskControls"`
	EvidenceBacklog    EvidenceBacklog   `json:"evidenceBacklog"`
	TaskBacklog        TaskBacklog       `json:"taskBacklog"`
	Forecast           Forecast          `json:"forecast"`
}

// EmptySnapshot is returned when there is nothing to aggregate
func EmptySnapshot() *ComplianceSnapshot {
	return &ComplianceSnapshot{
		FrameworkBreakdown: []FrameworkScore{},
		CategoryBreakdown:  []CategoryScore{},
		Trend:              Trend{FrameworkDeltas: []FrameworkDelta{}},
		OpenViolations:     []Violation{},
		HighRiskControls:   []HighRiskControl{},
		Forecast:           Forecast{Basis: ForecastBasisInsufficient},
	}
}

// ReadinessStatus is the certification verdict for a framework
type ReadinessStatus string

const (
	ReadinessBlocked            ReadinessStatus = "blocked"
	ReadinessConditionallyReady ReadinessStatus = "conditionally_ready"
	ReadinessCertifiable        ReadinessStatus = "certifiable"
)

// FrameworkReadiness is the certification projection for one framework
type FrameworkReadiness struct {
	FrameworkID          uuid.UUID       `json:"frameworkId"`
	FrameworkCode        string          `json:"frameworkCode"`
	FrameworkTitle       string          `json:"frameworkTitle"`
	Status               ReadinessStatus `json:"status"`
	MissingControls      []string        `json:"missingControls"`
	AtRiskControls       []string        `json:"atRiskControls"`
	RequiredEvidence     int             `json:"requiredEvidence"`
	OpenRemediationTasks int             `json:"openRemediationTasks"`
}
