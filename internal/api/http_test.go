package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-sentinel/internal/services"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func serve(t *testing.T, svc QueryService, target string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(svc, nil, prometheus.NewRegistry())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRESTListAnomalies(t *testing.T) {
	svc := &fakeQueryService{}
	rec := serve(t, svc, "/api/v1/anomalies?service=payments&hours=6&limit=10&min_score=0.4")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	assert.Equal(t, services.AnomalyRequest{Service: "payments", Hours: 6, Limit: 10, MinScore: 0.4}, svc.anomalyReq)

	var body struct {
		Anomalies []map[string]any `json:"anomalies"`
		Next      string           `json:"next_page_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Anomalies, 1)
	assert.Equal(t, "payments", body.Anomalies[0]["service"])
	assert.Equal(t, "20", body.Next)
}

func TestRESTRootCausesIncludeRemediation(t *testing.T) {
	rec := serve(t, &fakeQueryService{}, "/api/v1/root-causes?min_confidence=0.5")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RootCauses []struct {
			ConfidenceLevel string `json:"confidence_level"`
			Remediation     struct {
				Category string `json:"issue_category"`
			} `json:"remediation"`
		} `json:"root_causes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.RootCauses, 1)
	assert.Equal(t, "HIGH", body.RootCauses[0].ConfidenceLevel)
	assert.Equal(t, "api_timeout", body.RootCauses[0].Remediation.Category)
}

func TestRESTErrorMapping(t *testing.T) {
	rec := serve(t, &fakeQueryService{}, "/api/v1/anomalies?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &fakeQueryService{}, "/api/v1/anomalies?limit=101")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "outside [1,100]")

	unavailable := &fakeQueryService{err: utils.NewAppError("Stats", services.ErrUnavailable, "record store not configured", nil)}
	rec = serve(t, unavailable, "/api/v1/stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	broken := &fakeQueryService{err: errors.New("boom")}
	rec = serve(t, broken, "/api/v1/remediation/categories")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRESTStatsCategoriesHealthAndMetrics(t *testing.T) {
	rec := serve(t, &fakeQueryService{}, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"by_confidence_level":{"HIGH":1}`)

	rec = serve(t, &fakeQueryService{}, "/api/v1/remediation/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"categories":["database_connection_error","unknown_error"]}`, rec.Body.String())

	rec = serve(t, &fakeQueryService{}, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, &fakeQueryService{}, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, &fakeQueryService{}, "/api/v1/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
