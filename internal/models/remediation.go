package models

import (
	"fmt"
	"strings"
)

// Priority ranks the urgency of a remediation entry.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// ParsePriority rejects anything outside the four known priorities.
func ParsePriority(value string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(value))); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", value)
	}
}

// RemediationEntry is a static catalog record.
type RemediationEntry struct {
	Category                string
	Description             string
	FixSteps                []string
	Priority                Priority
	EstimatedResolutionTime string
	Keywords                []string
	Fallback                bool
}

// RemediationResult is computed per root cause; only the confidence differs
// from the catalog entry it was taken from.
type RemediationResult struct {
	Category                string   `json:"issue_category"`
	Description             string   `json:"description"`
	FixSteps                []string `json:"fix_steps"`
	Priority                Priority `json:"priority"`
	EstimatedResolutionTime string   `json:"estimated_resolution_time"`
	ConfidenceScore         float64  `json:"confidence_score"`
}
