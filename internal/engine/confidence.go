package engine

import (
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	signalWeight     = 0.4
	evidenceWeight   = 0.3
	clusteringWeight = 0.3

	// evidenceSaturation is the group size at which the evidence term maxes out.
	evidenceSaturation = 10.0
	// clusteringSpan is the number of windows over which the clustering term decays to zero.
	clusteringSpan = 5.0
)

// Confidence scores a group sorted ascending by timestamp. The result is in [0,1].
func Confidence(members []models.ScoredEvent, window time.Duration) float64 {
	if len(members) == 0 {
		return 0
	}

	signal := clamp(members[0].AnomalyScore, 0, 1)
	evidence := clamp(float64(len(members))/evidenceSaturation, 0, 1)
	clustering := clusteringTerm(members[len(members)-1].Timestamp.Sub(members[0].Timestamp), window)

	return clamp(signalWeight*signal+evidenceWeight*evidence+clusteringWeight*clustering, 0, 1)
}

func clusteringTerm(span, window time.Duration) float64 {
	if span < 0 {
		span = -span
	}
	if span == 0 {
		return 1
	}
	if window <= 0 {
		return 0
	}
	return 1 - clamp(span.Seconds()/(clusteringSpan*window.Seconds()), 0, 1)
}

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}
