package detection

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Metric selects the per-sample reconstruction error.
type Metric string

const (
	MetricMSE    Metric = "mse"
	MetricMAE    Metric = "mae"
	MetricCosine Metric = "cosine"
)

// cosineEpsilon replaces a zero denominator in the cosine distance.
const cosineEpsilon = 1e-10

// ParseMetric validates a configured metric name.
func ParseMetric(value string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(value))); m {
	case MetricMSE, MetricMAE, MetricCosine:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown error metric %q", ErrInvalidInput, value)
	}
}

// ReconstructionErrors computes one error per row of original against the
// same row of reconstructed. Both matrices must have identical shape.
func ReconstructionErrors(metric Metric, original, reconstructed [][]float64) ([]float64, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if len(original) != len(reconstructed) {
		return nil, fmt.Errorf("%w: %d original rows vs %d reconstructed", ErrShapeMismatch, len(original), len(reconstructed))
	}

	errs := make([]float64, len(original))
	width := -1
	for i := range original {
		a, b := original[i], reconstructed[i]
		if len(a) == 0 || len(a) != len(b) {
			return nil, fmt.Errorf("%w: row %d has widths %d and %d", ErrShapeMismatch, i, len(a), len(b))
		}
		if width >= 0 && len(a) != width {
			return nil, fmt.Errorf("%w: row %d width %d, expected %d", ErrShapeMismatch, i, len(a), width)
		}
		width = len(a)
		errs[i] = rowError(metric, a, b)
	}
	return errs, nil
}

func rowError(metric Metric, a, b []float64) float64 {
	n := float64(len(a))
	switch metric {
	case MetricMAE:
		return floats.Distance(a, b, 1) / n
	case MetricCosine:
		denom := floats.Norm(a, 2) * floats.Norm(b, 2)
		if denom == 0 {
			denom = cosineEpsilon
		}
		// rounding can push identical rows a hair below zero
		return math.Max(0, 1-floats.Dot(a, b)/denom)
	default:
		d := floats.Distance(a, b, 2)
		return d * d / n
	}
}
