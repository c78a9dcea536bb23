package api

import (
	"context"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/services"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

type fakeQueryService struct {
	anomalyReq   services.AnomalyRequest
	rootCauseReq services.RootCauseRequest
	err          error
}

var detected = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func (f *fakeQueryService) ListAnomalies(_ context.Context, req services.AnomalyRequest) (models.AnomalyPage, error) {
	f.anomalyReq = req
	if f.err != nil {
		return models.AnomalyPage{}, f.err
	}
	if req.Limit > 100 {
		return models.AnomalyPage{}, utils.NewAppError("ListAnomalies", services.ErrInvalidArgument, "limit 101 outside [1,100]", nil)
	}
	return models.AnomalyPage{
		Anomalies: []models.AnomalyRecord{{
			ID:           "a1",
			Service:      "payments",
			Message:      "timeout",
			Level:        models.LevelError,
			AnomalyScore: 1.7,
			IsAnomaly:    true,
			DetectedAt:   detected,
		}},
		NextPageToken: "20",
	}, nil
}

func (f *fakeQueryService) ListRootCauses(_ context.Context, req services.RootCauseRequest) (models.RootCausePage, error) {
	f.rootCauseReq = req
	if f.err != nil {
		return models.RootCausePage{}, f.err
	}
	return models.RootCausePage{RootCauses: []models.RootCauseRecord{{
		ID:               "r1",
		Service:          "payments",
		AffectedServices: []string{"payments", "checkout"},
		ConfidenceScore:  0.8,
		ConfidenceLevel:  models.ConfidenceHigh,
		Remediation: &models.RemediationResult{
			Category:        "api_timeout",
			FixSteps:        []string{"check upstream"},
			Priority:        models.PriorityHigh,
			ConfidenceScore: 0.9,
		},
	}}}, nil
}

func (f *fakeQueryService) Stats(context.Context) (models.Stats, error) {
	if f.err != nil {
		return models.Stats{}, f.err
	}
	return models.Stats{
		Anomalies:  models.AnomalyStats{Total: 3, ByService: map[string]int{"payments": 3}, AverageScore: 1.2},
		RootCauses: models.RootCauseStats{Total: 1, ByConfidenceLevel: map[string]int{"HIGH": 1}, AverageConfidence: 0.8},
	}, nil
}

func (f *fakeQueryService) Categories() ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []string{"database_connection_error", "unknown_error"}, nil
}
