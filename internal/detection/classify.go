package detection

import (
	"fmt"
	"math"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Classification is the outcome of classifying one batch of errors.
type Classification struct {
	Threshold float64
	Flags     []bool
	Scores    []float64
}

// Classifier applies a fixed threshold policy to batches of errors. It holds
// no mutable state and is safe for concurrent use.
type Classifier struct {
	policy     Policy
	percentile float64
}

// NewClassifier validates the policy and percentile up front.
func NewClassifier(policy Policy, percentile float64) (*Classifier, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if math.IsNaN(percentile) || percentile < 0 || percentile > 100 {
		return nil, fmt.Errorf("%w: percentile %v outside [0,100]", ErrInvalidInput, percentile)
	}
	return &Classifier{policy: policy, percentile: percentile}, nil
}

// Policy reports the configured threshold policy.
func (c *Classifier) Policy() Policy { return c.policy }

// Threshold derives the threshold for errors under the configured policy.
func (c *Classifier) Threshold(errs []float64) (float64, error) {
	if err := ValidateErrors(errs); err != nil {
		return 0, err
	}
	if len(errs) == 0 {
		return 0, nil
	}
	switch c.policy {
	case PolicyStdDev:
		return MeanStdThreshold(errs), nil
	default:
		return Percentile(errs, c.percentile)
	}
}

// Classify flags every error strictly above the threshold and normalises
// each error by the threshold. Scores are not clamped.
func (c *Classifier) Classify(errs []float64) (Classification, error) {
	threshold, err := c.Threshold(errs)
	if err != nil {
		return Classification{}, err
	}

	out := Classification{
		Threshold: threshold,
		Flags:     make([]bool, len(errs)),
		Scores:    make([]float64, len(errs)),
	}
	for i, e := range errs {
		out.Flags[i] = e > threshold
		if threshold > 0 {
			out.Scores[i] = e / threshold
		} else {
			out.Scores[i] = e
		}
	}
	return out, nil
}

// Classify is a shorthand for a percentile classifier.
func Classify(errs []float64, percentile float64) (Classification, error) {
	c, err := NewClassifier(PolicyPercentile, percentile)
	if err != nil {
		return Classification{}, err
	}
	return c.Classify(errs)
}

// Score zips events with a classification. Lengths must match.
func Score(events []models.Event, errs []float64, cls Classification) ([]models.ScoredEvent, error) {
	if len(events) != len(errs) || len(errs) != len(cls.Flags) || len(errs) != len(cls.Scores) {
		return nil, fmt.Errorf("%w: %d events, %d errors, %d flags", ErrShapeMismatch, len(events), len(errs), len(cls.Flags))
	}
	scored := make([]models.ScoredEvent, len(events))
	for i, ev := range events {
		scored[i] = models.ScoredEvent{
			Event:               ev,
			ReconstructionError: errs[i],
			AnomalyScore:        cls.Scores[i],
			IsAnomaly:           cls.Flags[i],
		}
	}
	return scored, nil
}

// ValidateErrors rejects reconstruction errors that are negative, NaN or
// infinite.
func ValidateErrors(errs []float64) error {
	for i, e := range errs {
		if math.IsNaN(e) || math.IsInf(e, 0) || e < 0 {
			return fmt.Errorf("%w: error[%d] is %v", ErrInvalidInput, i, e)
		}
	}
	return nil
}
