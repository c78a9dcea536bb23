package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/detection"
)

// ModelClient asks an external reconstruction model to score vectors.
type ModelClient struct {
	endpoint   string
	metric     detection.Metric
	httpClient *http.Client
}

// NewModelClient constructs a client posting to endpoint. Reconstruction
// matrices returned by the model are reduced locally with metric.
func NewModelClient(endpoint string, metric detection.Metric, timeout time.Duration) *ModelClient {
	return &ModelClient{
		endpoint: strings.TrimSpace(endpoint),
		metric:   metric,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ReconstructionErrors returns one error per vector.
func (c *ModelClient) ReconstructionErrors(ctx context.Context, vectors [][]float64) ([]float64, error) {
	if c == nil {
		return nil, fmt.Errorf("model client not initialised")
	}
	if c.endpoint == "" {
		return nil, fmt.Errorf("model endpoint not configured")
	}
	if len(vectors) == 0 {
		return []float64{}, nil
	}

	payload := map[string]interface{}{
		"vectors": vectors,
	}
	var response struct {
		Errors          []float64   `json:"errors"`
		Reconstructions [][]float64 `json:"reconstructions"`
	}
	if err := c.postJSON(ctx, payload, &response); err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}

	switch {
	case response.Errors != nil:
		if len(response.Errors) != len(vectors) {
			return nil, fmt.Errorf("%w: model returned %d errors for %d vectors", detection.ErrShapeMismatch, len(response.Errors), len(vectors))
		}
		if err := detection.ValidateErrors(response.Errors); err != nil {
			return nil, fmt.Errorf("model response: %w", err)
		}
		return response.Errors, nil
	case response.Reconstructions != nil:
		return detection.ReconstructionErrors(c.metric, vectors, response.Reconstructions)
	default:
		return nil, fmt.Errorf("model response carried neither errors nor reconstructions")
	}
}

func (c *ModelClient) postJSON(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("model returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
