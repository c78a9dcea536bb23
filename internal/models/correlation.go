package models

import "time"

// Explanations bundles the three human-readable strings attached to a root cause.
type Explanations struct {
	RootCause string `json:"root_cause"`
	Timeline  string `json:"timeline"`
	Impact    string `json:"impact"`
}

// TimelineSummary bounds the members of a group in time.
type TimelineSummary struct {
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// RootCause is the derived view over one anomaly group. Members are ordered
// ascending by timestamp and the first member is the root candidate.
type RootCause struct {
	Message           string             `json:"message"`
	Service           string             `json:"service"`
	Timestamp         time.Time          `json:"timestamp"`
	AffectedServices  []string           `json:"affected_services"`
	AnomalyCount      int                `json:"anomaly_count"`
	ConfidenceScore   float64            `json:"confidence_score"`
	Explanations      Explanations       `json:"explanations"`
	LevelDistribution map[Level]int      `json:"level_distribution"`
	TimelineSummary   TimelineSummary    `json:"timeline_summary"`
	ObservedPatterns  []string           `json:"observed_patterns,omitempty"`
	Remediation       *RemediationResult `json:"remediation,omitempty"`
	Members           []ScoredEvent      `json:"-"`
}

// AnalysisSummary describes the classification outcome of one batch.
type AnalysisSummary struct {
	TotalEvents  int     `json:"total_events"`
	AnomalyCount int     `json:"anomaly_count"`
	NormalCount  int     `json:"normal_count"`
	AnomalyRate  float64 `json:"anomaly_rate"`
	Threshold    float64 `json:"threshold"`
	MeanError    float64 `json:"mean_error"`
	MaxError     float64 `json:"max_error"`
	MinError     float64 `json:"min_error"`
}

// PersistStats reports how many records a run wrote and how many were
// already present.
type PersistStats struct {
	AnomaliesInserted  int `json:"anomalies_inserted"`
	AnomaliesSkipped   int `json:"anomalies_skipped"`
	RootCausesInserted int `json:"root_causes_inserted"`
	RootCausesSkipped  int `json:"root_causes_skipped"`
}

// AnalysisResult is returned by a pipeline run.
type AnalysisResult struct {
	RunID      string          `json:"run_id"`
	BatchID    string          `json:"batch_id,omitempty"`
	Threshold  float64         `json:"threshold"`
	Summary    AnalysisSummary `json:"summary"`
	Events     []ScoredEvent   `json:"events"`
	RootCauses []RootCause     `json:"root_causes"`
	Persisted  PersistStats    `json:"persisted"`
	DetectedAt time.Time       `json:"detected_at"`
}
