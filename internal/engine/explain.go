package engine

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// errorTypes is checked in order; the first pattern found in the lowercased
// message names the error type.
var errorTypes = []struct {
	pattern string
	label   string
}{
	{"timeout", "timeout"},
	{"connection refused", "connection refused"},
	{"memory", "memory issue"},
	{"database", "database error"},
	{"api", "api error"},
	{"failed", "failure"},
	{"error", "error"},
	{"exception", "exception"},
	{"crash", "crash"},
	{"warning", "warning"},
}

// ErrorType extracts a short error label from a log message. Unrecognised
// messages fall back to their first three words.
func ErrorType(message string) string {
	lower := strings.ToLower(message)
	for _, et := range errorTypes {
		if strings.Contains(lower, et.pattern) {
			return et.label
		}
	}
	words := strings.Fields(message)
	if len(words) == 0 {
		return "unknown error"
	}
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}

// RootCauseExplanation names the root service, its error type and time, plus
// the cascade when more than one service is affected.
func RootCauseExplanation(root models.ScoredEvent, affected []string, size int, confidence float64) string {
	errorType := ErrorType(root.Message)
	at := utils.FormatClock(root.Timestamp)

	var b strings.Builder
	if len(affected) <= 1 {
		fmt.Fprintf(&b, "Detected %s in %s at %s. This is the earliest detected anomaly in the group.", errorType, root.Service, at)
	} else {
		fmt.Fprintf(&b, "Detected %s in %s at %s, which cascaded to %s (%d downstream anomalies).",
			errorType, root.Service, at, joinServices(affected), size-1)
	}
	b.WriteString(" [")
	b.WriteString(confidenceQualifier(confidence))
	b.WriteString(" confidence]")
	return b.String()
}

// TimelineExplanation describes how a group unfolded over time.
func TimelineExplanation(members []models.ScoredEvent) string {
	if len(members) < 2 {
		return "Single anomaly detected - no temporal pattern."
	}

	services := make(map[string]struct{})
	var levels []string
	seenLevels := make(map[models.Level]struct{})
	for _, m := range members {
		services[m.Service] = struct{}{}
		if _, ok := seenLevels[m.Level]; !ok {
			seenLevels[m.Level] = struct{}{}
			levels = append(levels, strings.ToUpper(string(m.Level)))
		}
	}
	span := members[len(members)-1].Timestamp.Sub(members[0].Timestamp).Seconds()

	return fmt.Sprintf("Timeline: %d anomalies detected over %s across %d service(s). Severity: %s.",
		len(members), utils.FormatDuration(span), len(services), strings.Join(levels, ", "))
}

// ImpactExplanation counts error and warn members and gates the
// recommendation on confidence.
func ImpactExplanation(members []models.ScoredEvent, confidence float64) string {
	var errorCount, warnCount int
	for _, m := range members {
		switch m.Level {
		case models.LevelError:
			errorCount++
		case models.LevelWarn:
			warnCount++
		}
	}

	var recommendation string
	switch {
	case confidence >= 0.8:
		recommendation = "Investigate immediately."
	case confidence >= 0.6:
		recommendation = "Monitor closely."
	default:
		recommendation = "Verify before escalating."
	}

	return fmt.Sprintf("Impact: %d ERROR(s), %d WARNING(s). Severity: %s. Recommendation: %s",
		errorCount, warnCount, ImpactSeverity(errorCount, warnCount), recommendation)
}

// ImpactSeverity labels a group by its error and warn counts.
func ImpactSeverity(errorCount, warnCount int) string {
	switch {
	case errorCount > 5:
		return "CRITICAL"
	case errorCount > 2 || warnCount > 5:
		return "HIGH"
	case errorCount > 0 || warnCount > 2:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Report renders a root cause as a plain-text block for terminals.
func Report(rc models.RootCause) string {
	rule := strings.Repeat("-", 60)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nROOT CAUSE ANALYSIS\n%s\n\n", rule, rule)
	fmt.Fprintf(&b, "Service:              %s\n", strings.ToUpper(rc.Service))
	fmt.Fprintf(&b, "Confidence:           %.1f%%\n", rc.ConfidenceScore*100)
	fmt.Fprintf(&b, "Affected Services:    %s\n", strings.Join(rc.AffectedServices, ", "))
	fmt.Fprintf(&b, "Anomaly Count:        %d\n", rc.AnomalyCount)
	fmt.Fprintf(&b, "Root Cause:           %s\n", utils.FormatClock(rc.Timestamp))
	fmt.Fprintf(&b, "\n%s\nEXPLANATION\n%s\n", rule, rule)
	b.WriteString(rc.Explanations.RootCause + "\n")
	fmt.Fprintf(&b, "\n%s\n", rule)
	b.WriteString(rc.Explanations.Timeline + "\n")
	b.WriteString(rc.Explanations.Impact + "\n")
	if rc.Remediation != nil {
		fmt.Fprintf(&b, "\n%s\nREMEDIATION (%s, %s, ~%s)\n%s\n", rule, rc.Remediation.Category, rc.Remediation.Priority, rc.Remediation.EstimatedResolutionTime, rule)
		for i, step := range rc.Remediation.FixSteps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}
	return b.String()
}

func confidenceQualifier(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "HIGH"
	case confidence >= 0.6:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

func joinServices(services []string) string {
	if len(services) == 1 {
		return services[0]
	}
	return strings.Join(services[:len(services)-1], ", ") + " and " + services[len(services)-1]
}
