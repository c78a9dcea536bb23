package detection

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func TestClassifyPercentileInterpolates(t *testing.T) {
	got, err := Classify([]float64{1, 1, 1, 1, 10}, 75)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Threshold)
	assert.Equal(t, []bool{false, false, false, false, true}, got.Flags)
	assert.Equal(t, []float64{1, 1, 1, 1, 10}, got.Scores)
}

func TestPercentileLinearBetweenRanks(t *testing.T) {
	p, err := Percentile([]float64{4, 1, 3, 2}, 50)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, p, 1e-12)

	p, err = Percentile([]float64{0, 10}, 95)
	require.NoError(t, err)
	assert.InDelta(t, 9.5, p, 1e-12)

	p, err = Percentile([]float64{7}, 30)
	require.NoError(t, err)
	assert.Equal(t, 7.0, p)
}

func TestClassifyEmptyBatch(t *testing.T) {
	got, err := Classify(nil, 95)
	require.NoError(t, err)
	assert.Zero(t, got.Threshold)
	assert.Empty(t, got.Flags)
	assert.Empty(t, got.Scores)
}

func TestClassifyStrictComparison(t *testing.T) {
	got, err := Classify([]float64{2, 2, 2}, 50)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, got.Flags)
}

func TestClassifyZeroThresholdKeepsRawErrors(t *testing.T) {
	got, err := Classify([]float64{0, 0, 0, 0.5}, 50)
	require.NoError(t, err)
	assert.Zero(t, got.Threshold)
	assert.Equal(t, []float64{0, 0, 0, 0.5}, got.Scores)
	assert.Equal(t, []bool{false, false, false, true}, got.Flags)
}

func TestClassifyStdDevPolicy(t *testing.T) {
	c, err := NewClassifier(PolicyStdDev, DefaultPercentile)
	require.NoError(t, err)

	got, err := c.Classify([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.NoError(t, err)
	// mean 5, population std 2
	assert.InDelta(t, 9.0, got.Threshold, 1e-9)
	for _, f := range got.Flags[:7] {
		assert.False(t, f)
	}
}

func TestClassifyRejectsInvalidInput(t *testing.T) {
	_, err := Classify([]float64{1, math.NaN()}, 95)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Classify([]float64{1}, 101)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewClassifier(Policy("median"), 95)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestClassifyRejectsNegativeErrors(t *testing.T) {
	cls, err := Classify([]float64{-3, -2, -1, -0.5}, 50)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, cls.Flags)

	stddev, err := NewClassifier(PolicyStdDev, 95)
	require.NoError(t, err)
	_, err = stddev.Classify([]float64{0.2, -0.1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.NoError(t, ValidateErrors([]float64{0, 0.5, 3}))
	assert.Equal(t, PolicyStdDev, stddev.Policy())
}

func TestThresholdMonotonicInPercentile(t *testing.T) {
	errs := []float64{0.3, 1.2, 0.05, 4.4, 2.2, 0.9, 0.9, 3.1, 0.01, 7.5}
	prev := len(errs) + 1
	for p := 0.0; p <= 100; p += 5 {
		got, err := Classify(errs, p)
		require.NoError(t, err)
		count := 0
		for _, f := range got.Flags {
			if f {
				count++
			}
		}
		assert.LessOrEqual(t, count, prev, "percentile %v", p)
		prev = count
	}
}

func TestClassifyDeterministic(t *testing.T) {
	errs := []float64{0.12, 0.5, 0.33, 0.97, 0.41, 0.05}
	first, err := Classify(errs, 80)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Classify(errs, 80)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestScoreRequiresAlignedLengths(t *testing.T) {
	events := []models.Event{models.NewEvent(time.Unix(0, 0), models.LevelError, "db", "boom", nil)}
	cls, err := Classify([]float64{1, 2}, 50)
	require.NoError(t, err)

	_, err = Score(events, []float64{1, 2}, cls)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSummarize(t *testing.T) {
	events := make([]models.Event, 4)
	for i := range events {
		events[i] = models.NewEvent(time.Unix(int64(i), 0), models.LevelInfo, "api", "ok", nil)
	}
	errs := []float64{1, 2, 3, 10}
	cls, err := Classify(errs, 75)
	require.NoError(t, err)
	scored, err := Score(events, errs, cls)
	require.NoError(t, err)

	summary := Summarize(scored, cls.Threshold)
	assert.Equal(t, 4, summary.TotalEvents)
	assert.Equal(t, 1, summary.AnomalyCount)
	assert.Equal(t, 3, summary.NormalCount)
	assert.InDelta(t, 0.25, summary.AnomalyRate, 1e-12)
	assert.InDelta(t, 4.0, summary.MeanError, 1e-12)
	assert.Equal(t, 10.0, summary.MaxError)
	assert.Equal(t, 1.0, summary.MinError)
}
