package models

import "time"

// PipelineVersion is stamped on every persisted record.
const PipelineVersion = "1.0.0"

// ConfidenceLevel buckets a root-cause confidence score for storage and filtering.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// ConfidenceLevelFor maps a score onto HIGH (>=0.75), MEDIUM (>=0.50) or LOW.
func ConfidenceLevelFor(score float64) ConfidenceLevel {
	switch {
	case score >= 0.75:
		return ConfidenceHigh
	case score >= 0.50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// AnomalyRecord is the persisted form of an anomalous ScoredEvent.
type AnomalyRecord struct {
	ID                  string         `json:"id"`
	Timestamp           time.Time      `json:"timestamp"`
	Service             string         `json:"service"`
	Message             string         `json:"message"`
	Level               Level          `json:"level"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	ReconstructionError float64        `json:"reconstruction_error"`
	AnomalyScore        float64        `json:"anomaly_score"`
	IsAnomaly           bool           `json:"is_anomaly"`
	DetectedAt          time.Time      `json:"detected_at"`
	PipelineVersion     string         `json:"pipeline_version"`
}

// NewAnomalyRecord flattens a scored event for persistence.
func NewAnomalyRecord(ev ScoredEvent, detectedAt time.Time) AnomalyRecord {
	return AnomalyRecord{
		Timestamp:           ev.Timestamp,
		Service:             ev.Service,
		Message:             ev.Message,
		Level:               ev.Level,
		Metadata:            ev.Metadata,
		ReconstructionError: ev.ReconstructionError,
		AnomalyScore:        ev.AnomalyScore,
		IsAnomaly:           ev.IsAnomaly,
		DetectedAt:          detectedAt.UTC(),
		PipelineVersion:     PipelineVersion,
	}
}

// RootCauseRecord is the persisted form of a RootCause. Remediation is never
// stored; it is attached when a record is published or served.
type RootCauseRecord struct {
	ID                string             `json:"id"`
	Message           string             `json:"message"`
	Service           string             `json:"service"`
	Timestamp         time.Time          `json:"timestamp"`
	AffectedServices  []string           `json:"affected_services"`
	AnomalyCount      int                `json:"anomaly_count"`
	ConfidenceScore   float64            `json:"confidence_score"`
	ConfidenceLevel   ConfidenceLevel    `json:"confidence_level"`
	Explanations      Explanations       `json:"explanations"`
	LevelDistribution map[Level]int      `json:"level_distribution"`
	TimelineSummary   TimelineSummary    `json:"timeline_summary"`
	ObservedPatterns  []string           `json:"observed_patterns,omitempty"`
	DetectedAt        time.Time          `json:"detected_at"`
	PipelineVersion   string             `json:"pipeline_version"`
	Remediation       *RemediationResult `json:"remediation"`
}

// NewRootCauseRecord derives the confidence level and detection stamp.
func NewRootCauseRecord(rc RootCause, detectedAt time.Time) RootCauseRecord {
	dist := make(map[Level]int, len(rc.LevelDistribution))
	for level, count := range rc.LevelDistribution {
		dist[level] = count
	}
	return RootCauseRecord{
		Message:           rc.Message,
		Service:           rc.Service,
		Timestamp:         rc.Timestamp,
		AffectedServices:  append([]string(nil), rc.AffectedServices...),
		AnomalyCount:      rc.AnomalyCount,
		ConfidenceScore:   rc.ConfidenceScore,
		ConfidenceLevel:   ConfidenceLevelFor(rc.ConfidenceScore),
		Explanations:      rc.Explanations,
		LevelDistribution: dist,
		TimelineSummary:   rc.TimelineSummary,
		ObservedPatterns:  append([]string(nil), rc.ObservedPatterns...),
		DetectedAt:        detectedAt.UTC(),
		PipelineVersion:   PipelineVersion,
	}
}
