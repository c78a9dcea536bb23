package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/detection"
)

func TestModelClientReturnsErrors(t *testing.T) {
	client := NewModelClient("https://model.local/v1/reconstruct", detection.MetricMSE, time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", req.Method)
		}
		var payload struct {
			Vectors [][]float64 `json:"vectors"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(payload.Vectors) != 2 {
			t.Fatalf("expected 2 vectors, got %d", len(payload.Vectors))
		}
		data, _ := json.Marshal(map[string]any{"errors": []float64{0.1, 0.9}})
		return jsonResponse(http.StatusOK, data), nil
	}))

	errs, err := client.ReconstructionErrors(context.Background(), [][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) != 2 || errs[1] != 0.9 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestModelClientReducesReconstructions(t *testing.T) {
	client := NewModelClient("https://model.local/v1/reconstruct", detection.MetricMAE, time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		data, _ := json.Marshal(map[string]any{"reconstructions": [][]float64{{1, 2}, {1, 1}}})
		return jsonResponse(http.StatusOK, data), nil
	}))

	errs, err := client.ReconstructionErrors(context.Background(), [][]float64{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if errs[0] != 0 || math.Abs(errs[1]-2.5) > 1e-12 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestModelClientRejectsWrongLength(t *testing.T) {
	client := NewModelClient("https://model.local/v1/reconstruct", detection.MetricMSE, time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		data, _ := json.Marshal(map[string]any{"errors": []float64{0.1}})
		return jsonResponse(http.StatusOK, data), nil
	}))

	_, err := client.ReconstructionErrors(context.Background(), [][]float64{{1}, {2}})
	if !errors.Is(err, detection.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
}

func TestModelClientRejectsNegativeErrors(t *testing.T) {
	client := NewModelClient("https://model.local/v1/reconstruct", detection.MetricMSE, time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		data, _ := json.Marshal(map[string]any{"errors": []float64{0.4, -1.5}})
		return jsonResponse(http.StatusOK, data), nil
	}))

	_, err := client.ReconstructionErrors(context.Background(), [][]float64{{1}, {2}})
	if !errors.Is(err, detection.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestModelClientSurfacesHTTPFailures(t *testing.T) {
	client := NewModelClient("https://model.local/v1/reconstruct", detection.MetricMSE, time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, []byte("warming up")), nil
	}))

	if _, err := client.ReconstructionErrors(context.Background(), [][]float64{{1}}); err == nil {
		t.Fatalf("expected error for 503 response")
	}

	unconfigured := NewModelClient("", detection.MetricMSE, time.Second)
	if _, err := unconfigured.ReconstructionErrors(context.Background(), [][]float64{{1}}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}
