package remediation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// ErrInvalidInput marks a match request outside the accepted ranges.
var ErrInvalidInput = errors.New("invalid remediation input")

const (
	baseConfidence      = 0.5
	categoryBoost       = 0.15
	serviceBoost        = 0.10
	patternBoostPerItem = 0.03
	patternBoostCap     = 0.15
)

// MatchRequest describes the root cause to remediate. RCAConfidence is
// optional; ObservedPatterns may be nil.
type MatchRequest struct {
	Service          string
	Message          string
	RCAConfidence    *float64
	ObservedPatterns []string
}

// Matcher selects catalog entries for root causes. It never mutates its
// catalog and is safe for concurrent use.
type Matcher struct {
	catalog *Catalog
}

// NewMatcher binds a matcher to catalog.
func NewMatcher(catalog *Catalog) *Matcher {
	return &Matcher{catalog: catalog}
}

// Catalog exposes the bound catalog.
func (m *Matcher) Catalog() *Catalog { return m.catalog }

// Match picks the best catalog entry and computes a fresh confidence.
func (m *Matcher) Match(req MatchRequest) (models.RemediationResult, error) {
	if m == nil || m.catalog == nil {
		return models.RemediationResult{}, fmt.Errorf("remediation catalog not configured")
	}
	if req.RCAConfidence != nil {
		if c := *req.RCAConfidence; math.IsNaN(c) || c < 0 || c > 1 {
			return models.RemediationResult{}, fmt.Errorf("%w: rca confidence %v outside [0,1]", ErrInvalidInput, c)
		}
	}

	entry := m.Find(req.Service, req.Message)
	return models.RemediationResult{
		Category:                entry.Category,
		Description:             entry.Description,
		FixSteps:                entry.FixSteps,
		Priority:                entry.Priority,
		EstimatedResolutionTime: entry.EstimatedResolutionTime,
		ConfidenceScore:         matchConfidence(entry, req),
	}, nil
}

// Find returns the entry whose keywords occur most often in the combined
// service and message text. The earliest entry wins ties and a zero score
// resolves to the fallback entry.
func (m *Matcher) Find(service, message string) models.RemediationEntry {
	text := strings.ToLower(service + " " + message)

	best, bestScore := -1, 0
	for i, entry := range m.catalog.entries {
		score := 0
		for _, kw := range entry.Keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if bestScore == 0 {
		return m.catalog.Fallback()
	}
	return copyEntry(m.catalog.entries[best])
}

func matchConfidence(entry models.RemediationEntry, req MatchRequest) float64 {
	confidence := baseConfidence

	if req.RCAConfidence != nil {
		switch rca := *req.RCAConfidence; {
		case rca >= 0.85:
			confidence += 0.35
		case rca >= 0.70:
			confidence += 0.20
		case rca >= 0.50:
			confidence += 0.10
		}
		confidence = math.Min(confidence, 1)
	}

	if !entry.Fallback {
		confidence = math.Min(confidence+categoryBoost, 1)
	}

	if strongServiceMatch(req.Service, entry.Keywords) {
		confidence = math.Min(confidence+serviceBoost, 1)
	}

	if n := len(req.ObservedPatterns); n > 0 {
		confidence = math.Min(confidence+math.Min(patternBoostCap, patternBoostPerItem*float64(n)), 1)
	}

	return math.Max(0, math.Min(confidence, 1))
}

// strongServiceMatch holds when two or more keywords, or the first declared
// keyword, occur in the service name.
func strongServiceMatch(service string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	service = strings.ToLower(service)
	if strings.Contains(service, keywords[0]) {
		return true
	}
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(service, kw) {
			hits++
		}
	}
	return hits >= 2
}
