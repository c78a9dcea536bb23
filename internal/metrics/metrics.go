package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that produced a result.
	OutcomeSuccess = "success"
	// OutcomeError labels analyses rejected by input validation or a dependency.
	OutcomeError = "error"

	// StagePipeline labels enrichment done while analysing a batch.
	StagePipeline = "pipeline"
	// StageQuery labels enrichment done while serving stored root causes.
	StageQuery = "query"

	SinkStore     = "store"
	SinkPublisher = "publisher"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "analyses_total",
			Help:      "Total number of batch analyses, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentinel",
			Name:      "analysis_seconds",
			Help:      "Batch analysis latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	eventsClassifiedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "events_classified_total",
			Help:      "Events that went through threshold classification.",
		},
	)

	anomaliesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "anomalies_detected_total",
			Help:      "Events flagged as anomalous.",
		},
	)

	rootCausesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "root_causes_total",
			Help:      "Root causes produced by correlation, partitioned by confidence level.",
		},
		[]string{"confidence_level"},
	)

	remediationMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "remediation_matches_total",
			Help:      "Remediation entries attached to root causes, partitioned by category.",
		},
		[]string{"category"},
	)

	enrichmentFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "remediation_enrichment_failures_total",
			Help:      "Root causes left without remediation because matching failed.",
		},
		[]string{"stage"},
	)

	sinkFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "sink_failures_total",
			Help:      "Failed writes to the record store or the finding publisher.",
		},
		[]string{"sink"},
	)

	recordsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "records_persisted_total",
			Help:      "Records offered to the store, partitioned by kind and whether they were new.",
		},
		[]string{"kind", "result"},
	)
)

// Register attaches sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		eventsClassifiedTotal,
		anomaliesDetectedTotal,
		rootCausesTotal,
		remediationMatchesTotal,
		enrichmentFailuresTotal,
		sinkFailuresTotal,
		recordsPersistedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveClassification counts classified events and the anomalies among them.
func ObserveClassification(events, anomalies int) {
	eventsClassifiedTotal.Add(float64(events))
	anomaliesDetectedTotal.Add(float64(anomalies))
}

// ObserveRootCause counts one root cause at the given confidence level.
func ObserveRootCause(level string) {
	rootCausesTotal.WithLabelValues(level).Inc()
}

// ObserveRemediation counts one attached remediation entry.
func ObserveRemediation(category string) {
	remediationMatchesTotal.WithLabelValues(category).Inc()
}

// IncEnrichmentFailure counts a remediation match that could not be computed.
func IncEnrichmentFailure(stage string) {
	enrichmentFailuresTotal.WithLabelValues(stage).Inc()
}

// IncSinkFailure counts a failed store or publisher call.
func IncSinkFailure(sink string) {
	sinkFailuresTotal.WithLabelValues(sink).Inc()
}

// ObservePersist records how many records of kind were inserted or skipped.
func ObservePersist(kind string, inserted, skipped int) {
	recordsPersistedTotal.WithLabelValues(kind, "inserted").Add(float64(inserted))
	recordsPersistedTotal.WithLabelValues(kind, "skipped").Add(float64(skipped))
}
