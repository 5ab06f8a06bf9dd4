package model

import "time"

// ThreatKind tags the detection strategy that produced a ThreatEvent.
type ThreatKind string

const (
	KindSignature ThreatKind = "signature"
	KindAnomaly   ThreatKind = "anomaly"
)

// AnomalyRuleID is the RuleID carried by every anomaly event.
const AnomalyRuleID = "anomaly"

// Severity grades a threat.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a config string to a Severity, defaulting to medium.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s)
	default:
		return SeverityMedium
	}
}

// ThreatEvent is a single detection result.
type ThreatEvent struct {
	ID          string        `json:"id"`
	Kind        ThreatKind    `json:"kind"`
	RuleID      string        `json:"rule_id"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	Confidence  float64       `json:"confidence"`
	Score       float64       `json:"score"`
	Features    FeatureVector `json:"-"`
	DetectedAt  time.Time     `json:"detected_at"`
}
