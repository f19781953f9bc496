/*
report.go - Compliance reporting and suspicious-activity detection

PURPOSE:
  Read-side of the audit trail: aggregate event counts for compliance
  reviews, isolate security and high-risk events, and flag actors whose
  recent behavior looks like probing or automation.

DETECTION THRESHOLDS:
  More than 50 same-type operations, or more than 10 failed access attempts,
  inside the inspection window. Either one triggers an immediate critical
  SUSPICIOUS_ACTIVITY event referencing the patterns found.
*/
package audit

import (
	"context"
	"time"
)

// Detection thresholds for suspicious activity.
const (
	RepeatOpThreshold     = 50
	FailedAccessThreshold = 10
)

// =============================================================================
// COMPLIANCE REPORT
// =============================================================================

// ComplianceReport aggregates a time range of audit events.
type ComplianceReport struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	TotalEvents   int            `json:"total_events"`
	CountsByType  map[string]int `json:"counts_by_type"`
	CountsByLevel map[Level]int  `json:"counts_by_level"`
	CountsByRisk  map[Risk]int   `json:"counts_by_risk"`

	SecurityEvents   []Event `json:"security_events"`
	HighRiskEvents   []Event `json:"high_risk_events"`
	FailedOperations []Event `json:"failed_operations"`

	ActivityByUser map[string]int `json:"activity_by_user"`

	// ComplianceScore = 100 - 100*(highRisk+security)/max(total,1).
	ComplianceScore float64 `json:"compliance_score"`
}

var securityEventTypes = map[string]bool{
	EventUnauthorized: true,
	EventSuspicious:   true,
}

// GenerateComplianceReport flushes the buffer and aggregates every event in
// [from, to].
func (t *Trail) GenerateComplianceReport(ctx context.Context, from, to time.Time) (*ComplianceReport, error) {
	if err := t.Flush(ctx); err != nil {
		return nil, err
	}
	events, err := t.sink.QueryEvents(ctx, Filter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		From:           from,
		To:             to,
		TotalEvents:    len(events),
		CountsByType:   make(map[string]int),
		CountsByLevel:  make(map[Level]int),
		CountsByRisk:   make(map[Risk]int),
		ActivityByUser: make(map[string]int),
	}

	for _, ev := range events {
		report.CountsByType[ev.Type]++
		report.CountsByLevel[ev.Level]++
		report.CountsByRisk[ev.Risk]++
		if ev.UserID != "" {
			report.ActivityByUser[ev.UserID]++
		}
		if securityEventTypes[ev.Type] {
			report.SecurityEvents = append(report.SecurityEvents, ev)
		}
		if ev.Risk == RiskHigh || ev.Risk == RiskCritical {
			report.HighRiskEvents = append(report.HighRiskEvents, ev)
		}
		if success, ok := ev.Details["success"].(bool); ok && !success {
			report.FailedOperations = append(report.FailedOperations, ev)
		}
	}

	total := report.TotalEvents
	if total < 1 {
		total = 1
	}
	penalty := float64(len(report.HighRiskEvents)+len(report.SecurityEvents)) / float64(total)
	report.ComplianceScore = 100 - 100*penalty
	return report, nil
}

// =============================================================================
// SUSPICIOUS ACTIVITY
// =============================================================================

// SuspiciousPattern is one detected anomaly.
type SuspiciousPattern struct {
	Kind      string `json:"kind"` // "repeated_operation" or "failed_access"
	EventType string `json:"event_type,omitempty"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
}

// SuspicionReport is the outcome of one detection run.
type SuspicionReport struct {
	UserID     string              `json:"user_id"`
	Window     time.Duration       `json:"window"`
	Suspicious bool                `json:"suspicious"`
	Patterns   []SuspiciousPattern `json:"patterns,omitempty"`
}

// DetectSuspiciousActivity inspects a user's events inside the trailing
// window. When a pattern trips a threshold, a critical SUSPICIOUS_ACTIVITY
// event is persisted immediately before the report is returned.
func (t *Trail) DetectSuspiciousActivity(ctx context.Context, userID string, window time.Duration) (*SuspicionReport, error) {
	if err := t.Flush(ctx); err != nil {
		return nil, err
	}
	now := t.now()
	from := now.Add(-window)
	events, err := t.sink.QueryEvents(ctx, Filter{UserID: &userID, From: &from, To: &now})
	if err != nil {
		return nil, err
	}

	report := &SuspicionReport{UserID: userID, Window: window}

	byType := make(map[string]int)
	failedAccess := 0
	for _, ev := range events {
		byType[ev.Type]++
		if ev.Type == EventUnauthorized {
			failedAccess++
		}
	}
	for eventType, count := range byType {
		if count > RepeatOpThreshold {
			report.Patterns = append(report.Patterns, SuspiciousPattern{
				Kind:      "repeated_operation",
				EventType: eventType,
				Count:     count,
				Threshold: RepeatOpThreshold,
			})
		}
	}
	if failedAccess > FailedAccessThreshold {
		report.Patterns = append(report.Patterns, SuspiciousPattern{
			Kind:      "failed_access",
			Count:     failedAccess,
			Threshold: FailedAccessThreshold,
		})
	}

	if len(report.Patterns) > 0 {
		report.Suspicious = true
		err := t.LogEvent(ctx, EventSuspicious, map[string]any{
			"patterns": report.Patterns,
			"window":   window.String(),
		}, EventOptions{
			UserID: userID, Level: LevelCritical, Risk: RiskCritical, Immediate: true,
		})
		if err != nil {
			return report, err
		}
	}
	return report, nil
}
