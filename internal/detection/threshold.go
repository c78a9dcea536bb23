// Package detection turns reconstruction errors into a threshold, per-event
// anomaly flags and normalised scores.
package detection

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidInput marks an input that violates the classification contract.
	ErrInvalidInput = errors.New("invalid detection input")
	// ErrShapeMismatch marks original/reconstructed matrices of different shapes.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// DefaultPercentile is used when no percentile is configured.
const DefaultPercentile = 95.0

// Policy selects how the anomaly threshold is derived from a batch of errors.
type Policy string

const (
	// PolicyPercentile takes the configured percentile of the batch.
	PolicyPercentile Policy = "percentile"
	// PolicyStdDev takes mean + 2 population standard deviations.
	PolicyStdDev Policy = "stddev"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(value string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(value))); p {
	case PolicyPercentile, PolicyStdDev:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown threshold policy %q", ErrInvalidInput, value)
	}
}

// Percentile returns the p-th percentile of values using linear interpolation
// between the closest ranks. values is not modified.
func Percentile(values []float64, p float64) (float64, error) {
	if p < 0 || p > 100 || math.IsNaN(p) {
		return 0, fmt.Errorf("%w: percentile %v outside [0,100]", ErrInvalidInput, p)
	}
	if len(values) == 0 {
		return 0, nil
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := math.Floor(rank)
	hi := math.Ceil(rank)
	if lo == hi {
		return sorted[int(lo)], nil
	}
	lower, upper := sorted[int(lo)], sorted[int(hi)]
	return lower + (upper-lower)*(rank-lo), nil
}

// MeanStdThreshold returns mean + 2 * population standard deviation.
func MeanStdThreshold(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return mean + 2*std
}
