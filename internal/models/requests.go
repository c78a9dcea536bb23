package models

import "time"

// AnomalyQuery captures filters for persisted anomaly listings.
type AnomalyQuery struct {
	Service   string
	MinScore  float64
	Since     time.Time
	Limit     int
	PageToken string
}

// AnomalyPage contains anomaly records and pagination state.
type AnomalyPage struct {
	Anomalies     []AnomalyRecord `json:"anomalies"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

// RootCauseQuery captures filters for persisted root-cause listings.
type RootCauseQuery struct {
	Service       string
	MinConfidence float64
	Limit         int
	PageToken     string
}

// RootCausePage contains root-cause records and pagination state.
type RootCausePage struct {
	RootCauses    []RootCauseRecord `json:"root_causes"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

// AnomalyStats aggregates persisted anomaly records.
type AnomalyStats struct {
	Total        int            `json:"total"`
	ByService    map[string]int `json:"by_service"`
	AverageScore float64        `json:"average_score"`
}

// RootCauseStats aggregates persisted root-cause records.
type RootCauseStats struct {
	Total             int            `json:"total"`
	ByConfidenceLevel map[string]int `json:"by_confidence_level"`
	AverageConfidence float64        `json:"average_confidence"`
}

// Stats is the combined store summary.
type Stats struct {
	Anomalies  AnomalyStats   `json:"anomalies"`
	RootCauses RootCauseStats `json:"root_causes"`
}
