package repo

import (
	"encoding/json"
	"fmt"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type anomalyRow struct {
	ID                  string  `db:"id"`
	Timestamp           string  `db:"timestamp"`
	Service             string  `db:"service"`
	Message             string  `db:"message"`
	Level               string  `db:"level"`
	Metadata            string  `db:"metadata"`
	ReconstructionError float64 `db:"reconstruction_error"`
	AnomalyScore        float64 `db:"anomaly_score"`
	IsAnomaly           bool    `db:"is_anomaly"`
	DetectedAt          string  `db:"detected_at"`
	PipelineVersion     string  `db:"pipeline_version"`
}

func (r anomalyRow) decode() (models.AnomalyRecord, error) {
	rec := models.AnomalyRecord{
		ID:                  r.ID,
		Service:             r.Service,
		Message:             r.Message,
		Level:               models.Level(r.Level),
		ReconstructionError: r.ReconstructionError,
		AnomalyScore:        r.AnomalyScore,
		IsAnomaly:           r.IsAnomaly,
		PipelineVersion:     r.PipelineVersion,
	}
	var err error
	if rec.Timestamp, err = parseTime(r.Timestamp); err != nil {
		return rec, fmt.Errorf("anomaly %s timestamp: %w", r.ID, err)
	}
	if rec.DetectedAt, err = parseTime(r.DetectedAt); err != nil {
		return rec, fmt.Errorf("anomaly %s detected_at: %w", r.ID, err)
	}
	if r.Metadata != "" && r.Metadata != "{}" {
		if err := json.Unmarshal([]byte(r.Metadata), &rec.Metadata); err != nil {
			return rec, fmt.Errorf("anomaly %s metadata: %w", r.ID, err)
		}
	}
	return rec, nil
}

type rootCauseRow struct {
	ID                string  `db:"id"`
	Message           string  `db:"message"`
	Service           string  `db:"service"`
	Timestamp         string  `db:"timestamp"`
	AffectedServices  string  `db:"affected_services"`
	AnomalyCount      int     `db:"anomaly_count"`
	ConfidenceScore   float64 `db:"confidence_score"`
	ConfidenceLevel   string  `db:"confidence_level"`
	Explanations      string  `db:"explanations"`
	LevelDistribution string  `db:"level_distribution"`
	TimelineSummary   string  `db:"timeline_summary"`
	ObservedPatterns  string  `db:"observed_patterns"`
	DetectedAt        string  `db:"detected_at"`
	PipelineVersion   string  `db:"pipeline_version"`
}

func encodeRootCause(rec models.RootCauseRecord) (rootCauseRow, error) {
	row := rootCauseRow{
		ID:              rec.ID,
		Message:         rec.Message,
		Service:         rec.Service,
		Timestamp:       formatTime(rec.Timestamp),
		AnomalyCount:    rec.AnomalyCount,
		ConfidenceScore: rec.ConfidenceScore,
		ConfidenceLevel: string(rec.ConfidenceLevel),
		DetectedAt:      formatTime(rec.DetectedAt),
		PipelineVersion: versionOrDefault(rec.PipelineVersion),
	}
	if row.ConfidenceLevel == "" {
		row.ConfidenceLevel = string(models.ConfidenceLevelFor(rec.ConfidenceScore))
	}

	var err error
	if row.AffectedServices, err = marshalJSON(rec.AffectedServices, "[]"); err != nil {
		return row, fmt.Errorf("encode affected services: %w", err)
	}
	if row.Explanations, err = marshalJSON(rec.Explanations, "{}"); err != nil {
		return row, fmt.Errorf("encode explanations: %w", err)
	}
	if row.LevelDistribution, err = marshalJSON(rec.LevelDistribution, "{}"); err != nil {
		return row, fmt.Errorf("encode level distribution: %w", err)
	}
	if row.TimelineSummary, err = marshalJSON(rec.TimelineSummary, "{}"); err != nil {
		return row, fmt.Errorf("encode timeline summary: %w", err)
	}
	if row.ObservedPatterns, err = marshalJSON(rec.ObservedPatterns, "[]"); err != nil {
		return row, fmt.Errorf("encode observed patterns: %w", err)
	}
	return row, nil
}

func (r rootCauseRow) decode() (models.RootCauseRecord, error) {
	rec := models.RootCauseRecord{
		ID:              r.ID,
		Message:         r.Message,
		Service:         r.Service,
		AnomalyCount:    r.AnomalyCount,
		ConfidenceScore: r.ConfidenceScore,
		ConfidenceLevel: models.ConfidenceLevel(r.ConfidenceLevel),
		PipelineVersion: r.PipelineVersion,
	}
	var err error
	if rec.Timestamp, err = parseTime(r.Timestamp); err != nil {
		return rec, fmt.Errorf("root cause %s timestamp: %w", r.ID, err)
	}
	if rec.DetectedAt, err = parseTime(r.DetectedAt); err != nil {
		return rec, fmt.Errorf("root cause %s detected_at: %w", r.ID, err)
	}

	fields := []struct {
		name string
		raw  string
		dest interface{}
	}{
		{"affected_services", r.AffectedServices, &rec.AffectedServices},
		{"explanations", r.Explanations, &rec.Explanations},
		{"level_distribution", r.LevelDistribution, &rec.LevelDistribution},
		{"timeline_summary", r.TimelineSummary, &rec.TimelineSummary},
		{"observed_patterns", r.ObservedPatterns, &rec.ObservedPatterns},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return rec, fmt.Errorf("root cause %s %s: %w", r.ID, f.name, err)
		}
	}
	if rec.AffectedServices == nil {
		rec.AffectedServices = []string{}
	}
	return rec, nil
}

func marshalJSON(v interface{}, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}
